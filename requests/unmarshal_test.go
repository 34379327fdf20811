package requests

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetNodeType(t *testing.T) {
	typ, err := GetNodeType([]byte(`{"type":"dir","path":"a"}`))
	require.NoError(t, err)
	assert.Equal(t, DirNodeType, typ)

	_, err = GetNodeType([]byte(`not json`))
	assert.Error(t, err)
}

func TestUnmarshalFileRequest(t *testing.T) {
	req, err := UnmarshalFileRequest([]byte(`{
		"type": "file",
		"path": "docs/readme.txt",
		"content_type": "text/plain",
		"metadata": {"owner": "ops"},
		"sources": [
			{"type": "http", "url": "http://example.invalid/readme", "priority": 5},
			{"type": "inline", "text": "hello"}
		]
	}`))
	require.NoError(t, err)

	assert.Equal(t, "docs/readme.txt", req.Path)
	assert.Equal(t, FileNodeType, req.Type)
	assert.Equal(t, "text/plain", req.ContentType)
	assert.Equal(t, map[string]string{"owner": "ops"}, req.Metadata)
	assert.False(t, req.Replace)
	require.Len(t, req.Sources, 2)

	// inline defaults to its index and sorts ahead of the explicit priority 5
	assert.Equal(t, InlineSourceType, req.Sources[0].Type)
	assert.Equal(t, 1, req.Sources[0].Priority)
	assert.Equal(t, HTTPSourceType, req.Sources[1].Type)
	assert.Equal(t, 5, req.Sources[1].Priority)

	rc, err := req.Sources[0].Source.Open(context.Background())
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestUnmarshalFileRequest_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"no path", `{"type":"file","sources":[{"type":"inline","text":"x"}]}`},
		{"no sources", `{"type":"file","path":"a"}`},
		{"unknown source", `{"type":"file","path":"a","sources":[{"type":"ftp"}]}`},
		{"http without url", `{"type":"file","path":"a","sources":[{"type":"http"}]}`},
		{"local without path", `{"type":"file","path":"a","sources":[{"type":"local"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalFileRequest([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestInlineSource_Base64(t *testing.T) {
	src := &InlineSource{Text: "ignored", Base64: "AAEC"}
	rc, err := src.Open(context.Background())
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, data)

	_, err = (&InlineSource{Base64: "!!"}).Open(context.Background())
	assert.Error(t, err)
}

func TestParseNodes(t *testing.T) {
	nodes, skipped, err := ParseNodes([]byte(`[
		{"type": "dir", "path": "a/b"},
		{"type": "file", "path": "a/b/c.txt", "sources": [{"type": "inline", "text": "c"}]},
		{"type": "symlink", "path": "a/link"},
		{"type": "file", "path": "bad", "sources": []},
		{"type": "dir"}
	]`))
	require.NoError(t, err)
	assert.Equal(t, 3, skipped)
	require.Len(t, nodes.Dirs, 1)
	assert.Equal(t, "a/b", nodes.Dirs[0].Path)
	require.Len(t, nodes.Files, 1)
	assert.Equal(t, "a/b/c.txt", nodes.Files[0].Path)

	_, _, err = ParseNodes([]byte(`{"type":"dir"}`))
	assert.Error(t, err)
}

func TestRegisterSourceType(t *testing.T) {
	RegisterSourceType("constant", func([]byte) (ContentSource, error) {
		return &InlineSource{Text: "constant"}, nil
	})
	req, err := UnmarshalFileRequest([]byte(`{"type":"file","path":"k","sources":[{"type":"constant"}]}`))
	require.NoError(t, err)
	require.Len(t, req.Sources, 1)
	assert.Equal(t, SourceType("constant"), req.Sources[0].Type)
}
