package requests

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/brettbedarf/blobfs/internal/util"
)

// Built-in source types
const (
	InlineSourceType SourceType = "inline"
	LocalSourceType  SourceType = "local"
	HTTPSourceType   SourceType = "http"
)

// SourceUnmarshaler builds a [ContentSource] from the raw JSON of one source entry.
type SourceUnmarshaler func(raw []byte) (ContentSource, error)

var (
	sourceUnmarshalers = map[SourceType]SourceUnmarshaler{
		InlineSourceType: unmarshalInline,
		LocalSourceType:  unmarshalLocal,
		HTTPSourceType:   unmarshalHTTP,
	}
	registryMutex sync.RWMutex
)

// RegisterSourceType adds or replaces the unmarshaler for sourceType.
func RegisterSourceType(sourceType SourceType, unmarshaler SourceUnmarshaler) {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	sourceUnmarshalers[sourceType] = unmarshaler
}

func unmarshalRegisteredSource(sourceType SourceType, raw []byte) (ContentSource, error) {
	registryMutex.RLock()
	unmarshaler, exists := sourceUnmarshalers[sourceType]
	registryMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown source type: %q", sourceType)
	}
	return unmarshaler(raw)
}

// InlineSource carries the content in the nodes file itself. Exactly one of
// Text or Base64 is used; Base64 wins when both are set.
type InlineSource struct {
	Text   string `json:"text,omitempty"`
	Base64 string `json:"base64,omitempty"`
}

func unmarshalInline(raw []byte) (ContentSource, error) {
	var s InlineSource
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *InlineSource) Open(context.Context) (io.ReadCloser, error) {
	if s.Base64 == "" {
		return io.NopCloser(bytes.NewReader([]byte(s.Text))), nil
	}
	data, err := base64.StdEncoding.DecodeString(s.Base64)
	if err != nil {
		return nil, fmt.Errorf("inline source: %w", err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// LocalSource copies a file from the local disk.
type LocalSource struct {
	Path string `json:"path"`
}

func unmarshalLocal(raw []byte) (ContentSource, error) {
	var s LocalSource
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	if s.Path == "" {
		return nil, errors.New("local source: path is required")
	}
	return &s, nil
}

func (s *LocalSource) Open(context.Context) (io.ReadCloser, error) {
	return os.Open(s.Path)
}

// HTTPSource downloads the content with a GET request.
type HTTPSource struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Timeout *int              `json:"timeout,omitempty"` // Timeout in seconds (Default 30)
}

const defaultHTTPTimeout = 30

func unmarshalHTTP(raw []byte) (ContentSource, error) {
	var s HTTPSource
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	if s.URL == "" {
		return nil, errors.New("http source: url is required")
	}
	return &s, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}

func (s *HTTPSource) Open(ctx context.Context) (io.ReadCloser, error) {
	logger := util.GetLogger("Requests.HTTPSource")

	timeout := time.Duration(util.ValueOrDefault(s.Timeout, defaultHTTPTimeout)) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	for k, v := range s.Headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		logger.Debug().Str("url", s.URL).Int("status", resp.StatusCode).Msg("Source request failed")
		return nil, fmt.Errorf("http source %s: unexpected status %s", s.URL, resp.Status)
	}
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}
