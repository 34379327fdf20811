package requests

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/brettbedarf/blobfs/internal/util"
)

// GetNodeType extracts the node type from JSON without full unmarshaling
func GetNodeType(data []byte) (NodeType, error) {
	var meta struct {
		Type NodeType `json:"type"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return "", err
	}
	return meta.Type, nil
}

// UnmarshalFileRequest handles file-specific unmarshaling with sources
func UnmarshalFileRequest(data []byte) (*FileCreateRequest, error) {
	var dto FileRequestDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, err
	}
	if dto.Path == "" {
		return nil, fmt.Errorf("file request: path is required")
	}

	sources, err := unmarshalSources(dto.Sources, data)
	if err != nil {
		return nil, fmt.Errorf("file request %q: %w", dto.Path, err)
	}

	return &FileCreateRequest{
		NodeRequest: NodeRequest{Path: dto.Path, Type: FileNodeType},
		ContentType: util.ValueOrDefault(dto.ContentType, ""),
		Metadata:    dto.Metadata,
		Replace:     util.ValueOrDefault(dto.Replace, false),
		Sources:     sources,
	}, nil
}

// UnmarshalDirRequest handles explicit directory unmarshaling (no sources)
func UnmarshalDirRequest(data []byte) (*DirCreateRequest, error) {
	var dto DirRequestDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, err
	}
	if dto.Path == "" {
		return nil, fmt.Errorf("dir request: path is required")
	}
	return &DirCreateRequest{
		NodeRequest: NodeRequest{Path: dto.Path, Type: DirNodeType},
	}, nil
}

// unmarshalSources builds the sources of one file request, sorted by priority.
func unmarshalSources(sourceDTOs []SourceConfigDTO, rawData []byte) ([]FileSource, error) {
	// Extract raw sources array so each type can unmarshal its own fields
	var rawMessage struct {
		Sources []json.RawMessage `json:"sources"`
	}
	if err := json.Unmarshal(rawData, &rawMessage); err != nil {
		return nil, err
	}
	if len(rawMessage.Sources) == 0 {
		return nil, fmt.Errorf("at least one source is required")
	}

	sources := make([]FileSource, 0, len(rawMessage.Sources))
	for i, rawSource := range rawMessage.Sources {
		src, err := unmarshalRegisteredSource(sourceDTOs[i].Type, rawSource)
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}
		sources = append(sources, FileSource{
			Type:     sourceDTOs[i].Type,
			Priority: util.ValueOrDefault(sourceDTOs[i].Priority, i),
			Source:   src,
		})
	}
	sort.SliceStable(sources, func(a, b int) bool { return sources[a].Priority < sources[b].Priority })
	return sources, nil
}

// Nodes is the parsed content of a nodes file.
type Nodes struct {
	Dirs  []*DirCreateRequest
	Files []*FileCreateRequest
}

// ParseNodes parses a JSON array of node requests. Entries that fail to parse
// are logged and skipped; the number skipped is returned alongside.
func ParseNodes(data []byte) (*Nodes, int, error) {
	logger := util.GetLogger("Requests.ParseNodes")

	var rawNodes []json.RawMessage
	if err := json.Unmarshal(data, &rawNodes); err != nil {
		return nil, 0, fmt.Errorf("nodes must be a JSON array: %w", err)
	}

	nodes := &Nodes{}
	skipped := 0
	for i, rawNode := range rawNodes {
		nodeType, err := GetNodeType(rawNode)
		if err != nil {
			logger.Error().Err(err).Int("index", i).Msg("Failed to get node type")
			skipped++
			continue
		}

		switch nodeType {
		case FileNodeType:
			fileReq, err := UnmarshalFileRequest(rawNode)
			if err != nil {
				logger.Error().Err(err).Int("index", i).Msg("Failed to unmarshal file request")
				skipped++
				continue
			}
			nodes.Files = append(nodes.Files, fileReq)
			logger.Debug().Str("path", fileReq.Path).Msg("Processed file request")

		case DirNodeType:
			dirReq, err := UnmarshalDirRequest(rawNode)
			if err != nil {
				logger.Error().Err(err).Int("index", i).Msg("Failed to unmarshal directory request")
				skipped++
				continue
			}
			nodes.Dirs = append(nodes.Dirs, dirReq)
			logger.Debug().Str("path", dirReq.Path).Msg("Processed directory request")

		default:
			logger.Warn().Str("type", string(nodeType)).Int("index", i).Msg("Unknown node type")
			skipped++
		}
	}

	logger.Debug().
		Int("files", len(nodes.Files)).
		Int("directories", len(nodes.Dirs)).
		Int("skipped", skipped).
		Msg("Successfully loaded node requests")
	return nodes, skipped, nil
}

// LoadNodesFile reads and parses a nodes file.
func LoadNodesFile(path string) (*Nodes, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	return ParseNodes(data)
}
