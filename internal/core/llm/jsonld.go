package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/markdave123-py/Structa/internal/core"
	"github.com/markdave123-py/Structa/internal/models"
)

const jsonldSystemPrompt = "You convert extracted document structure into JSON-LD. " +
	"Reply with the JSON-LD document only, without commentary or Markdown."

const jsonldPromptTemplate = `Convert the following JSON data to JSON-LD format. Ensure that the JSON-LD follows the schema.org vocabulary and includes appropriate context and type definitions.

JSON data:
%s

JSON-LD:
`

// JSONLDConverter turns extracted elements into a linked-data document with a
// text-generation model. The output is parsed but not validated against any
// vocabulary.
type JSONLDConverter struct {
	llm core.LLMProvider
}

func NewJSONLDConverter(llm core.LLMProvider) *JSONLDConverter {
	return &JSONLDConverter{llm: llm}
}

// Convert returns the decoded JSON-LD document. A reply that is not JSON
// fails with an error matching core.ErrInvalidJSONLD.
func (c *JSONLDConverter) Convert(ctx context.Context, elements models.ExtractionResult) (any, error) {
	if elements == nil {
		elements = models.ExtractionResult{}
	}
	data, err := json.MarshalIndent(elements, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("encode elements: %w", err)
	}

	reply, err := c.llm.Generate(ctx, jsonldSystemPrompt, fmt.Sprintf(jsonldPromptTemplate, data))
	if err != nil {
		return nil, err
	}

	return ParseJSONLD(reply)
}

// ParseJSONLD decodes a model reply, tolerating surrounding whitespace and a
// Markdown code fence.
func ParseJSONLD(reply string) (any, error) {
	body := stripCodeFence(reply)
	if body == "" {
		return nil, fmt.Errorf("%w: empty reply", core.ErrInvalidJSONLD)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidJSONLD, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after document", core.ErrInvalidJSONLD)
	}
	switch doc.(type) {
	case map[string]any, []any:
		return doc, nil
	default:
		return nil, fmt.Errorf("%w: expected an object or array", core.ErrInvalidJSONLD)
	}
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// drop the info string (```json, ```jsonld)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
