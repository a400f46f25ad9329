package extraction_engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/markdave123-py/Structa/internal/core"
	"github.com/markdave123-py/Structa/internal/models"
)

// TimestampLayout is the second-resolution, lexically sortable timestamp used
// in artifact names.
const TimestampLayout = "20060102_150405"

const (
	ExtJSON   = ".json"
	ExtJSONLD = ".jsonld"

	// SuffixJSONLD labels linked-data artifacts.
	SuffixJSONLD = "jsonld"
)

// maxCollisions bounds the _2, _3, ... counter search.
const maxCollisions = 1000

// OutputWriter persists artifacts under a directory. Names are
// {base}_{suffix}_{model}_{timestamp}{ext}; a name that already exists gets a
// _2, _3, ... counter so artifacts never overwrite each other.
type OutputWriter struct {
	dir  string
	now  func() time.Time
	link func(oldname, newname string) error
}

func NewOutputWriter(dir string) *OutputWriter {
	return &OutputWriter{dir: dir, now: time.Now, link: os.Link}
}

// WithClock replaces the clock used for timestamps.
func (w *OutputWriter) WithClock(now func() time.Time) *OutputWriter {
	w.now = now
	return w
}

func (w *OutputWriter) Dir() string { return w.dir }

// WriteElements persists an extraction result for source.
func (w *OutputWriter) WriteElements(source, suffix, model string, elements models.ExtractionResult) (models.Artifact, error) {
	if elements == nil {
		elements = models.ExtractionResult{}
	}
	return w.write(source, suffix, model, ExtJSON, elements)
}

// WriteJSONLD persists a linked-data document derived from source.
func (w *OutputWriter) WriteJSONLD(source string, doc any) (models.Artifact, error) {
	return w.write(source, SuffixJSONLD, "", ExtJSONLD, doc)
}

func (w *OutputWriter) write(source, suffix, model, ext string, v any) (models.Artifact, error) {
	base := BaseName(source)
	ts := w.now()

	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return models.Artifact{}, &core.IOError{Path: w.dir, Err: fmt.Errorf("encode artifact: %w", err)}
	}
	data = append(data, '\n')

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return models.Artifact{}, &core.IOError{Path: w.dir, Err: err}
	}

	tmpName, err := writeTemp(w.dir, data)
	if err != nil {
		return models.Artifact{}, &core.IOError{Path: w.dir, Err: err}
	}
	defer os.Remove(tmpName)

	path, err := w.publish(tmpName, ArtifactStem(base, suffix, model, ts), ext)
	if err != nil {
		return models.Artifact{}, err
	}

	return models.Artifact{
		Path:      path,
		Base:      base,
		Suffix:    suffix,
		ModelName: model,
		Timestamp: ts,
	}, nil
}

// publish hard-links the finished temp file under the first free name for
// stem. Link fails atomically when the name exists, so a name only ever
// appears with its full content.
func (w *OutputWriter) publish(tmpName, stem, ext string) (string, error) {
	for i := 1; i <= maxCollisions; i++ {
		name := stem + ext
		if i > 1 {
			name = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		path := filepath.Join(w.dir, name)

		err := w.link(tmpName, path)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", &core.IOError{Path: path, Err: err}
		}
		return path, nil
	}
	return "", &core.IOError{Path: filepath.Join(w.dir, stem+ext), Err: fmt.Errorf("no free name after %d attempts", maxCollisions)}
}

// writeTemp writes data to a synced temp file in dir and returns its name.
// On failure nothing is left behind.
func writeTemp(dir string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, ".structa-*.tmp")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()

	fail := func(err error) (string, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", err
	}

	if _, err := tmp.Write(data); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	return tmpName, nil
}

// BaseName is the file name of source without directory or extension.
func BaseName(source string) string {
	base := filepath.Base(source)
	if ext := filepath.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// ArtifactStem joins the non-empty name parts with underscores.
func ArtifactStem(base, suffix, model string, ts time.Time) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{base, suffix, model} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, sanitize(p))
		}
	}
	parts = append(parts, ts.Format(TimestampLayout))
	return strings.Join(parts, "_")
}

// sanitize keeps name parts from escaping the output directory.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\':
			return '-'
		}
		return r
	}, s)
}
