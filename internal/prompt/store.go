package prompt

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	StagePreamble = "preamble"
	StageClosing  = "closing"
)

var ErrEmptyTemplate = errors.New("prompt template has no segments")

//go:embed default.json
var defaultTemplate []byte

// Segment is one role-tagged instruction block of a template.
type Segment struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
	Stage   string `json:"stage,omitempty" yaml:"stage,omitempty"`
}

// Template is an ordered list of segments. Preamble segments precede the
// serialized flow and closing segments follow it.
type Template struct {
	Version string    `json:"version" yaml:"version"`
	Prompts []Segment `json:"prompts" yaml:"prompts"`
}

// Message is a single chat turn sent to a backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Validate checks roles and stages of every segment.
func (t *Template) Validate() error {
	if t == nil || len(t.Prompts) == 0 {
		return ErrEmptyTemplate
	}
	for i, s := range t.Prompts {
		switch s.Role {
		case "system", "user", "assistant":
		default:
			return fmt.Errorf("segment %d: unsupported role %q", i, s.Role)
		}
		switch s.Stage {
		case "", StagePreamble, StageClosing:
		default:
			return fmt.Errorf("segment %d: unsupported stage %q", i, s.Stage)
		}
		if strings.TrimSpace(s.Content) == "" {
			return fmt.Errorf("segment %d: empty content", i)
		}
	}
	return nil
}

// Assemble lays out the conversation: preamble segments, the flow as a user
// turn, then closing segments. Segment order within a stage is preserved.
func (t *Template) Assemble(flowJSON string) []Message {
	msgs := make([]Message, 0, len(t.Prompts)+1)
	for _, s := range t.Prompts {
		if s.Stage != StageClosing {
			msgs = append(msgs, Message{Role: s.Role, Content: s.Content})
		}
	}
	msgs = append(msgs, Message{Role: "user", Content: flowJSON})
	for _, s := range t.Prompts {
		if s.Stage == StageClosing {
			msgs = append(msgs, Message{Role: s.Role, Content: s.Content})
		}
	}
	return msgs
}

// Store yields the current template. Implementations may re-read their source
// on every call so edits take effect on the next iteration.
type Store interface {
	Load() (*Template, error)
}

// FileStore reads a JSON or YAML template file on every Load.
type FileStore struct {
	Path string
}

func (f FileStore) Load() (*Template, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("reading prompt template: %w", err)
	}
	return Parse(data, filepath.Ext(f.Path))
}

// Static always returns the same template.
type Static struct {
	Template *Template
}

func (s Static) Load() (*Template, error) {
	return s.Template, nil
}

// Default returns the embedded template.
func Default() *Template {
	t, err := Parse(defaultTemplate, ".json")
	if err != nil {
		panic(fmt.Sprintf("embedded prompt template: %v", err))
	}
	return t
}

// Parse decodes and validates a template. ext picks YAML for ".yaml"/".yml".
func Parse(data []byte, ext string) (*Template, error) {
	var t Template
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("parsing prompt template: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("parsing prompt template: %w", err)
		}
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// NewStore returns a FileStore for path, or the embedded default when path is
// empty. The file is read once here so a broken path fails at startup.
func NewStore(path string) (Store, error) {
	if path == "" {
		return Static{Template: Default()}, nil
	}
	fs := FileStore{Path: path}
	if _, err := fs.Load(); err != nil {
		return nil, err
	}
	return fs, nil
}
