package partitioner

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/Structa/internal/core"
	"github.com/markdave123-py/Structa/internal/core/strategy"
	"github.com/markdave123-py/Structa/internal/models"
)

var _ Partitioner = (*Local)(nil)

// Local partitions documents in-process with docconv. It only understands
// rule-based partitioning (auto/fast) and basic chunking; everything else needs
// the remote service.
type Local struct {
	useReadability bool
	convert        func(content []byte, contentType string, readability bool) (string, error)
}

func NewLocal(useReadability bool) *Local {
	return &Local{useReadability: useReadability, convert: docconvText}
}

func docconvText(content []byte, contentType string, readability bool) (string, error) {
	res, err := docconv.Convert(bytes.NewReader(content), contentType, readability)
	if err != nil {
		return "", err
	}
	return res.Body, nil
}

// paragraph is the internal unit passed between the local stages.
type paragraph struct {
	Pos  int
	Text string
}

func (l *Local) Partition(ctx context.Context, req *Request) ([]models.Element, error) {
	switch s := strategy.PartitioningStrategy(req.Value(FieldStrategy)); s {
	case strategy.PartitionAuto, strategy.PartitionFast:
	default:
		return nil, core.NewInvalidStrategy("partitioning_strategy", "local partitioning supports auto and fast, got %q", s)
	}

	chunking := strategy.ChunkingStrategy(req.Value(FieldChunkingStrategy))
	maxChars := 0
	switch chunking {
	case "", strategy.ChunkNone:
	case strategy.ChunkBasic:
		n, err := strconv.Atoi(req.Value(FieldMaxCharacters))
		if err != nil || n <= 0 {
			return nil, core.NewInvalidStrategy("max_characters", "invalid value %q", req.Value(FieldMaxCharacters))
		}
		maxChars = n
	default:
		return nil, core.NewInvalidStrategy("chunking_strategy", "local partitioning supports none and basic, got %q", chunking)
	}

	unique := req.Value(FieldUniqueElementIDs) == "true"
	metadata := func() map[string]any {
		langs := make([]any, 0)
		for _, l := range req.Values(FieldLanguages) {
			langs = append(langs, l)
		}
		return map[string]any{
			"filename":  req.FileName,
			"filetype":  req.ContentType,
			"languages": langs,
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	// document -> paragraphs
	paraCh := l.streamParagraphs(gctx, g, req)

	var elements []models.Element
	g.Go(func() error {
		if maxChars > 0 {
			for c := range streamChunk(gctx, paraCh, maxChars) {
				elements = append(elements, models.Element{
					Type:      "CompositeElement",
					ElementID: elementID(unique, c.Pos, c.Text),
					Text:      c.Text,
					Metadata:  metadata(),
				})
			}
			return gctx.Err()
		}

		for p := range paraCh {
			elements = append(elements, models.Element{
				Type:      classify(p.Text),
				ElementID: elementID(unique, p.Pos, p.Text),
				Text:      p.Text,
				Metadata:  metadata(),
			})
		}
		return gctx.Err()
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return elements, nil
}

// streamParagraphs converts the document and emits blank-line separated
// paragraphs, each collapsed to a single line.
func (l *Local) streamParagraphs(ctx context.Context, g *errgroup.Group, req *Request) <-chan paragraph {
	out := make(chan paragraph, 32)

	g.Go(func() error {
		defer close(out)

		text, err := l.convert(req.Content, req.ContentType, l.useReadability)
		if err != nil {
			return fmt.Errorf("docconv: extraction failed for content type %q: %w", req.ContentType, err)
		}

		pos := 0
		var lines []string
		emit := func() error {
			if len(lines) == 0 {
				return nil
			}
			p := paragraph{Pos: pos, Text: strings.Join(lines, " ")}
			lines = lines[:0]
			pos++
			select {
			case out <- p:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		for _, line := range strings.Split(text, "\n") {
			if line = strings.TrimSpace(line); line == "" {
				if err := emit(); err != nil {
					return err
				}
				continue
			}
			lines = append(lines, line)
		}
		return emit()
	})

	return out
}

// streamChunk groups paragraphs into chunks of at most maxChars characters.
// A paragraph longer than maxChars is split into maxChars-sized pieces.
func streamChunk(ctx context.Context, paras <-chan paragraph, maxChars int) <-chan paragraph {
	out := make(chan paragraph, 8)

	go func() {
		defer close(out)

		var (
			buf []string
			n   int
			pos int
		)

		send := func(text string) bool {
			select {
			case out <- paragraph{Pos: pos, Text: text}:
				pos++
				return true
			case <-ctx.Done():
				return false
			}
		}

		flush := func() bool {
			if len(buf) == 0 {
				return true
			}
			text := strings.Join(buf, "\n\n")
			buf = buf[:0]
			n = 0
			return send(text)
		}

		for p := range paras {
			size := utf8.RuneCountInString(p.Text)

			if size > maxChars {
				if !flush() {
					return
				}
				for _, piece := range splitRunes(p.Text, maxChars) {
					if !send(piece) {
						return
					}
				}
				continue
			}

			// +2 for the separator joining it to the buffer.
			if len(buf) > 0 && n+2+size > maxChars {
				if !flush() {
					return
				}
			}
			if len(buf) > 0 {
				n += 2
			}
			buf = append(buf, p.Text)
			n += size
		}

		flush()
	}()

	return out
}

func splitRunes(s string, size int) []string {
	runes := []rune(s)
	var out []string
	for len(runes) > size {
		out = append(out, string(runes[:size]))
		runes = runes[size:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

// classify is a rule-based guess: short single-line paragraphs without
// closing punctuation are titles.
func classify(text string) string {
	if utf8.RuneCountInString(text) <= 80 && !strings.ContainsAny(text[len(text)-1:], ".:;,!?") {
		return "Title"
	}
	return "NarrativeText"
}

func elementID(unique bool, pos int, text string) string {
	if unique {
		return uuid.NewString()
	}
	sum := sha256.Sum256([]byte(strconv.Itoa(pos) + "\x00" + text))
	return hex.EncodeToString(sum[:16])
}
