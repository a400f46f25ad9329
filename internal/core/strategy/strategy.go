// Package strategy holds the validated description of how a document is
// partitioned and chunked.
package strategy

import (
	"slices"
	"strings"

	"github.com/markdave123-py/Structa/internal/core"
)

type PartitioningStrategy string

const (
	PartitionAuto    PartitioningStrategy = "auto"
	PartitionFast    PartitioningStrategy = "fast"
	PartitionHiRes   PartitioningStrategy = "hi_res"
	PartitionOCROnly PartitioningStrategy = "ocr_only"
)

type ChunkingStrategy string

const (
	ChunkNone         ChunkingStrategy = "none"
	ChunkBasic        ChunkingStrategy = "basic"
	ChunkByTitle      ChunkingStrategy = "by_title"
	ChunkByPage       ChunkingStrategy = "by_page"
	ChunkBySimilarity ChunkingStrategy = "by_similarity"
)

type ImageBlockType string

const (
	BlockImage ImageBlockType = "Image"
	BlockTable ImageBlockType = "Table"
)

// Hi-res layout models known to the partitioning service.
const (
	ModelLayout = "layout_v1.1.0"
	ModelYolox  = "yolox"
)

var (
	partitioningStrategies = []PartitioningStrategy{PartitionAuto, PartitionFast, PartitionHiRes, PartitionOCROnly}
	chunkingStrategies     = []ChunkingStrategy{ChunkNone, ChunkBasic, ChunkByTitle, ChunkByPage, ChunkBySimilarity}
	imageBlockTypes        = []ImageBlockType{BlockImage, BlockTable}
)

func (s PartitioningStrategy) Valid() bool { return slices.Contains(partitioningStrategies, s) }

func (s ChunkingStrategy) Valid() bool { return slices.Contains(chunkingStrategies, s) }

func (t ImageBlockType) Valid() bool { return slices.Contains(imageBlockTypes, t) }

// Options is the raw, caller-supplied form of a strategy. It is what flags,
// form fields and profile files decode into; New turns it into a Config.
type Options struct {
	PartitioningStrategy   PartitioningStrategy `yaml:"partitioning_strategy" json:"partitioning_strategy"`
	HiResModelName         string               `yaml:"hi_res_model_name" json:"hi_res_model_name,omitempty"`
	ChunkingStrategy       ChunkingStrategy     `yaml:"chunking_strategy" json:"chunking_strategy"`
	MaxCharacters          int                  `yaml:"max_characters" json:"max_characters"`
	MultipageSections      bool                 `yaml:"multipage_sections" json:"multipage_sections"`
	SimilarityThreshold    *float64             `yaml:"similarity_threshold" json:"similarity_threshold,omitempty"`
	CombineUnderNChars     int                  `yaml:"combine_under_n_chars" json:"combine_under_n_chars"`
	ExtractImageBlockTypes []ImageBlockType     `yaml:"extract_image_block_types" json:"extract_image_block_types"`
	Languages              []string             `yaml:"languages" json:"languages"`
	UniqueElementIDs       bool                 `yaml:"unique_element_ids" json:"unique_element_ids"`
	Coordinates            bool                 `yaml:"coordinates" json:"coordinates"`
}

// DefaultOptions returns the settings the extraction scripts have always used.
func DefaultOptions() Options {
	return Options{
		PartitioningStrategy:   PartitionHiRes,
		HiResModelName:         ModelLayout,
		ChunkingStrategy:       ChunkByTitle,
		MaxCharacters:          500,
		MultipageSections:      true,
		CombineUnderNChars:     500,
		ExtractImageBlockTypes: []ImageBlockType{BlockImage, BlockTable},
		Languages:              []string{"eng"},
		UniqueElementIDs:       true,
	}
}

// Config is a fully resolved, immutable strategy. The zero value is not
// usable; build one with New.
type Config struct {
	partitioning       PartitioningStrategy
	hiResModel         string
	chunking           ChunkingStrategy
	maxCharacters      int
	multipageSections  bool
	similarity         float64
	combineUnderNChars int
	imageBlockTypes    []ImageBlockType
	languages          []string
	uniqueElementIDs   bool
	coordinates        bool
}

// New validates opts and returns the resulting Config. All failures are
// *core.InvalidStrategyError.
func New(opts Options) (Config, error) {
	if !opts.PartitioningStrategy.Valid() {
		return Config{}, core.NewInvalidStrategy("partitioning_strategy", "unrecognized value %q", opts.PartitioningStrategy)
	}
	if !opts.ChunkingStrategy.Valid() {
		return Config{}, core.NewInvalidStrategy("chunking_strategy", "unrecognized value %q", opts.ChunkingStrategy)
	}
	if opts.MaxCharacters <= 0 {
		return Config{}, core.NewInvalidStrategy("max_characters", "must be positive, got %d", opts.MaxCharacters)
	}

	if opts.ChunkingStrategy == ChunkBySimilarity {
		if opts.SimilarityThreshold == nil {
			return Config{}, core.NewInvalidStrategy("similarity_threshold", "required for by_similarity chunking")
		}
		if t := *opts.SimilarityThreshold; t < 0 || t > 1 {
			return Config{}, core.NewInvalidStrategy("similarity_threshold", "must be within [0,1], got %g", t)
		}
	} else if opts.SimilarityThreshold != nil {
		return Config{}, core.NewInvalidStrategy("similarity_threshold", "only allowed with by_similarity chunking, got %s", opts.ChunkingStrategy)
	}

	if opts.ChunkingStrategy == ChunkByTitle {
		if opts.CombineUnderNChars <= 0 {
			return Config{}, core.NewInvalidStrategy("combine_under_n_chars", "must be positive, got %d", opts.CombineUnderNChars)
		}
		if opts.CombineUnderNChars > opts.MaxCharacters {
			return Config{}, core.NewInvalidStrategy("combine_under_n_chars", "%d exceeds max_characters %d", opts.CombineUnderNChars, opts.MaxCharacters)
		}
	}

	if len(opts.Languages) == 0 {
		return Config{}, core.NewInvalidStrategy("languages", "at least one language code is required")
	}
	languages := make([]string, 0, len(opts.Languages))
	for _, l := range opts.Languages {
		l = strings.TrimSpace(l)
		if l == "" {
			return Config{}, core.NewInvalidStrategy("languages", "blank language code")
		}
		languages = append(languages, l)
	}

	blocks := make([]ImageBlockType, 0, len(opts.ExtractImageBlockTypes))
	for _, b := range opts.ExtractImageBlockTypes {
		if !b.Valid() {
			return Config{}, core.NewInvalidStrategy("extract_image_block_types", "unrecognized block type %q", b)
		}
		if !slices.Contains(blocks, b) {
			blocks = append(blocks, b)
		}
	}

	cfg := Config{
		partitioning:     opts.PartitioningStrategy,
		hiResModel:       strings.TrimSpace(opts.HiResModelName),
		chunking:         opts.ChunkingStrategy,
		maxCharacters:    opts.MaxCharacters,
		imageBlockTypes:  blocks,
		languages:        languages,
		uniqueElementIDs: opts.UniqueElementIDs,
		coordinates:      opts.Coordinates,
	}
	if cfg.chunking == ChunkBySimilarity {
		cfg.similarity = *opts.SimilarityThreshold
	}
	if cfg.chunking == ChunkByTitle {
		cfg.multipageSections = opts.MultipageSections
		cfg.combineUnderNChars = opts.CombineUnderNChars
	}
	return cfg, nil
}

// Float64 is a helper for filling Options.SimilarityThreshold.
func Float64(v float64) *float64 { return &v }

func (c Config) PartitioningStrategy() PartitioningStrategy { return c.partitioning }

func (c Config) ChunkingStrategy() ChunkingStrategy { return c.chunking }

func (c Config) MaxCharacters() int { return c.maxCharacters }

func (c Config) UniqueElementIDs() bool { return c.uniqueElementIDs }

func (c Config) Coordinates() bool { return c.coordinates }

// HiResModelName is empty unless partitioning is hi_res.
func (c Config) HiResModelName() string {
	if c.partitioning != PartitionHiRes {
		return ""
	}
	return c.hiResModel
}

// SimilarityThreshold reports the threshold and whether it applies.
func (c Config) SimilarityThreshold() (float64, bool) {
	return c.similarity, c.chunking == ChunkBySimilarity
}

// MultipageSections is only meaningful for by_title chunking.
func (c Config) MultipageSections() (bool, bool) {
	return c.multipageSections, c.chunking == ChunkByTitle
}

// CombineUnderNChars is only meaningful for by_title chunking.
func (c Config) CombineUnderNChars() (int, bool) {
	return c.combineUnderNChars, c.chunking == ChunkByTitle
}

func (c Config) Languages() []string { return slices.Clone(c.languages) }

func (c Config) ExtractImageBlockTypes() []ImageBlockType { return slices.Clone(c.imageBlockTypes) }

// Chunked reports whether any chunking is requested.
func (c Config) Chunked() bool { return c.chunking != ChunkNone }

// Label is the output-file suffix for this strategy.
func (c Config) Label() string { return string(c.chunking) }

// ModelLabel is the model part of the output file name.
func (c Config) ModelLabel() string { return c.HiResModelName() }

// Options converts the config back into its raw form.
func (c Config) Options() Options {
	opts := Options{
		PartitioningStrategy:   c.partitioning,
		HiResModelName:         c.hiResModel,
		ChunkingStrategy:       c.chunking,
		MaxCharacters:          c.maxCharacters,
		MultipageSections:      c.multipageSections,
		CombineUnderNChars:     c.combineUnderNChars,
		ExtractImageBlockTypes: c.ExtractImageBlockTypes(),
		Languages:              c.Languages(),
		UniqueElementIDs:       c.uniqueElementIDs,
		Coordinates:            c.coordinates,
	}
	if t, ok := c.SimilarityThreshold(); ok {
		opts.SimilarityThreshold = Float64(t)
	}
	return opts
}
