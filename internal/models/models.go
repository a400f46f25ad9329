package models

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"
)

// Element is one structured unit returned by the partitioning service.
// Top-level keys other than type/element_id/text/metadata are kept in Extra
// so a decode/encode cycle does not lose anything the service sent.
type Element struct {
	Type      string                     `json:"type"`
	ElementID string                     `json:"element_id,omitempty"`
	Text      string                     `json:"text"`
	Metadata  map[string]any             `json:"metadata"`
	Extra     map[string]json.RawMessage `json:"-"`
}

type elementFields struct {
	Type      string         `json:"type"`
	ElementID string         `json:"element_id,omitempty"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata"`
}

func (e Element) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(elementFields{
		Type:      e.Type,
		ElementID: e.ElementID,
		Text:      e.Text,
		Metadata:  e.Metadata,
	})
	if err != nil || len(e.Extra) == 0 {
		return base, err
	}

	keys := make([]string, 0, len(e.Extra))
	for k := range e.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.Write(base[:len(base)-1])
	for _, k := range keys {
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(e.Extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (e *Element) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var fields elementFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*e = Element{
		Type:      fields.Type,
		ElementID: fields.ElementID,
		Text:      fields.Text,
		Metadata:  fields.Metadata,
	}

	for _, known := range []string{"type", "element_id", "text", "metadata"} {
		delete(raw, known)
	}
	if len(raw) > 0 {
		e.Extra = raw
	}
	return nil
}

// ExtractionResult is the ordered element sequence produced by one pipeline run.
type ExtractionResult []Element

// RunRecord is one row of the extraction run ledger.
type RunRecord struct {
	ID                   string     `db:"id" json:"id"`
	Document             string     `db:"document" json:"document"`
	PartitioningStrategy string     `db:"partitioning_strategy" json:"partitioning_strategy"`
	ChunkingStrategy     string     `db:"chunking_strategy" json:"chunking_strategy"`
	ModelName            string     `db:"model_name" json:"model_name,omitempty"`
	Stage                string     `db:"stage" json:"stage"`
	Status               string     `db:"status" json:"status"` // running | persisted | failed
	Error                string     `db:"error" json:"error,omitempty"`
	ArtifactPath         string     `db:"artifact_path" json:"artifact_path,omitempty"`
	ElementCount         int        `db:"element_count" json:"element_count"`
	Attempts             int        `db:"attempts" json:"attempts"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	FinishedAt           *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// Artifact identifies a persisted output file.
type Artifact struct {
	Path      string    `json:"path"`
	Base      string    `json:"base"`
	Suffix    string    `json:"suffix,omitempty"`
	ModelName string    `json:"model_name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	URL       string    `json:"url,omitempty"` // object storage copy, if mirrored
}
