package requests

// NodeRequestDTO is the JSON representation of [NodeRequest]
type NodeRequestDTO struct {
	Path string   `json:"path"`
	Type NodeType `json:"type"`
}

// FileRequestDTO is the JSON representation of [FileCreateRequest]
type FileRequestDTO struct {
	NodeRequestDTO
	ContentType *string           `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Replace     *bool             `json:"replace,omitempty"`
	Sources     []SourceConfigDTO `json:"sources"`
}

type DirRequestDTO struct {
	NodeRequestDTO
}

// SourceConfigDTO is the JSON representation of static [FileSource] fields
//
// Additional fields depend on the "type" value:
//
// Ex. For type="http" (see [HTTPSource]):
//
//	URL     string            `json:"url"`
//	Headers map\[string\]string `json:"headers,omitempty"`
//	Timeout *int              `json:"timeout,omitempty"`
//
// See sources.go for the complete built-in field specifications.
type SourceConfigDTO struct {
	Type     SourceType `json:"type"`
	Priority *int       `json:"priority,omitempty"` // Lower number = higher priority, defaults to array index
}
