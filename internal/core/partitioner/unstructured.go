package partitioner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/markdave123-py/Structa/internal/core"
	"github.com/markdave123-py/Structa/internal/models"
)

// DefaultURL is the hosted partition endpoint.
const DefaultURL = "https://api.unstructuredapp.io/general/v0/general"

var _ Partitioner = (*Unstructured)(nil)

// Unstructured calls the unstructured.io partition API.
type Unstructured struct {
	client *http.Client

	url   string
	token string
}

type Option func(*Unstructured)

func WithClient(client *http.Client) Option {
	return func(c *Unstructured) {
		c.client = client
	}
}

func WithToken(token string) Option {
	return func(c *Unstructured) {
		c.token = token
	}
}

func NewUnstructured(url string, options ...Option) *Unstructured {
	if url == "" {
		url = DefaultURL
	}

	c := &Unstructured{
		client: http.DefaultClient,
		url:    url,
	}

	for _, option := range options {
		option(c)
	}

	return c
}

func (c *Unstructured) Partition(ctx context.Context, req *Request) ([]models.Element, error) {
	if req == nil || len(req.Content) == 0 {
		return nil, core.NewInvalidStrategy("file", "empty request")
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	for _, f := range req.Fields {
		for _, v := range f.Values {
			if err := w.WriteField(f.Name, v); err != nil {
				return nil, err
			}
		}
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, quoteEscaper.Replace(req.FileName)))
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(req.Content); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return nil, fmt.Errorf("build partition request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	httpReq.Header.Set("Accept", OutputFormatJSON)
	if c.token != "" {
		httpReq.Header.Set("unstructured-api-key", c.token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, convertTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, convertError(resp)
	}

	var elements []models.Element
	if err := json.NewDecoder(resp.Body).Decode(&elements); err != nil {
		if te := asTimeout(ctx, err); te != nil {
			return nil, te
		}
		return nil, &core.ServiceError{Status: resp.StatusCode, Message: "decode elements: " + err.Error()}
	}

	return elements, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func asTimeout(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &core.TimeoutError{Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &core.TimeoutError{Err: err}
	}
	return nil
}

// convertTransportError maps a failed round trip. Connection failures are
// reported as a status-less ServiceError so the retry policy can act on them.
func convertTransportError(ctx context.Context, err error) error {
	if te := asTimeout(ctx, err); te != nil {
		return te
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &core.ServiceError{Message: err.Error()}
}

func convertError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	message := strings.TrimSpace(string(data))

	var detail struct {
		Detail any `json:"detail"`
	}
	if json.Unmarshal(data, &detail) == nil && detail.Detail != nil {
		if s, ok := detail.Detail.(string); ok {
			message = s
		} else if b, err := json.Marshal(detail.Detail); err == nil {
			message = string(b)
		}
	}

	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &core.AuthError{Status: resp.StatusCode, Message: message}
	}

	return &core.ServiceError{Status: resp.StatusCode, Message: message}
}
