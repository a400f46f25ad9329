package extraction_engine

import "github.com/markdave123-py/Structa/internal/models"

// VolatileMetadataKeys are removed from every element's metadata. They describe
// the upload rather than the content.
var VolatileMetadataKeys = []string{"filename", "filetype", "languages"}

// Normalize returns a copy of elements with the volatile metadata keys
// removed. The input slice and its metadata maps are left untouched.
func Normalize(elements []models.Element) models.ExtractionResult {
	out := make(models.ExtractionResult, len(elements))
	for i, e := range elements {
		out[i] = e
		if e.Metadata == nil {
			continue
		}
		md := make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			md[k] = v
		}
		for _, k := range VolatileMetadataKeys {
			delete(md, k)
		}
		out[i].Metadata = md
	}
	return out
}
