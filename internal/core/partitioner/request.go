// Package partitioner turns a strategy into a partitioning request and sends it
// to a partitioning backend.
package partitioner

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/markdave123-py/Structa/internal/core"
	"github.com/markdave123-py/Structa/internal/core/strategy"
)

// Form field names understood by the partitioning service.
const (
	FieldStrategy               = "strategy"
	FieldHiResModelName         = "hi_res_model_name"
	FieldLanguages              = "languages"
	FieldExtractImageBlockTypes = "extract_image_block_types"
	FieldUniqueElementIDs       = "unique_element_ids"
	FieldIncludePageBreaks      = "include_page_breaks"
	FieldOutputFormat           = "output_format"
	FieldCoordinates            = "coordinates"
	FieldChunkingStrategy       = "chunking_strategy"
	FieldMaxCharacters          = "max_characters"
	FieldSimilarityThreshold    = "similarity_threshold"
	FieldMultipageSections      = "multipage_sections"
	FieldCombineUnderNChars     = "combine_under_n_chars"
)

// OutputFormatJSON is the only output format the pipeline asks for.
const OutputFormatJSON = "application/json"

// Field is one (possibly repeated) form field of a request.
type Field struct {
	Name   string
	Values []string
}

// Request is a fully assembled partitioning request.
//
// FileName:    base name sent with the file part.
// Content:     raw document bytes.
// ContentType: sniffed MIME type of Content.
// Fields:      strategy parameters, in the order they are sent.
type Request struct {
	FileName    string
	Content     []byte
	ContentType string
	Fields      []Field
}

// Has reports whether the request carries the named field.
func (r *Request) Has(name string) bool {
	for _, f := range r.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Value returns the first value of the named field, or "".
func (r *Request) Value(name string) string {
	for _, f := range r.Fields {
		if f.Name == name && len(f.Values) > 0 {
			return f.Values[0]
		}
	}
	return ""
}

// Values returns every value of the named field.
func (r *Request) Values(name string) []string {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Values
		}
	}
	return nil
}

// Names lists the field names in send order.
func (r *Request) Names() []string {
	names := make([]string, 0, len(r.Fields))
	for _, f := range r.Fields {
		names = append(names, f.Name)
	}
	return names
}

func (r *Request) add(name string, values ...string) {
	r.Fields = append(r.Fields, Field{Name: name, Values: values})
}

// BuildRequest composes the request for cfg and the given document. Optional
// fields are only added for the strategies that consult them.
func BuildRequest(cfg strategy.Config, fileName string, content []byte) (*Request, error) {
	if len(content) == 0 {
		return nil, core.NewInvalidStrategy("file", "document %q is empty", fileName)
	}
	fileName = filepath.Base(strings.TrimSpace(fileName))
	if fileName == "" || fileName == "." || fileName == string(filepath.Separator) {
		return nil, core.NewInvalidStrategy("file", "file name is required")
	}

	req := &Request{
		FileName:    fileName,
		Content:     content,
		ContentType: mimetype.Detect(content).String(),
	}

	blocks := cfg.ExtractImageBlockTypes()
	blockValues := make([]string, len(blocks))
	for i, b := range blocks {
		blockValues[i] = string(b)
	}

	req.add(FieldStrategy, string(cfg.PartitioningStrategy()))
	if model := cfg.HiResModelName(); model != "" {
		req.add(FieldHiResModelName, model)
	}
	req.add(FieldLanguages, cfg.Languages()...)
	req.add(FieldExtractImageBlockTypes, blockValues...)
	req.add(FieldUniqueElementIDs, strconv.FormatBool(cfg.UniqueElementIDs()))
	req.add(FieldIncludePageBreaks, "true")
	req.add(FieldOutputFormat, OutputFormatJSON)
	req.add(FieldCoordinates, strconv.FormatBool(cfg.Coordinates()))

	if !cfg.Chunked() {
		return req, nil
	}

	req.add(FieldChunkingStrategy, string(cfg.ChunkingStrategy()))
	req.add(FieldMaxCharacters, strconv.Itoa(cfg.MaxCharacters()))

	if threshold, ok := cfg.SimilarityThreshold(); ok {
		req.add(FieldSimilarityThreshold, strconv.FormatFloat(threshold, 'f', -1, 64))
	}
	if multipage, ok := cfg.MultipageSections(); ok {
		req.add(FieldMultipageSections, strconv.FormatBool(multipage))
	}
	if combine, ok := cfg.CombineUnderNChars(); ok {
		req.add(FieldCombineUnderNChars, strconv.Itoa(combine))
	}

	return req, nil
}
