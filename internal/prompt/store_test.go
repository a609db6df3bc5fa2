package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTemplateIsValid(t *testing.T) {
	tpl := Default()
	require.NoError(t, tpl.Validate())
	assert.NotEmpty(t, tpl.Version)
}

func TestAssembleOrder(t *testing.T) {
	tpl := &Template{Prompts: []Segment{
		{Role: "system", Content: "p0"},
		{Role: "system", Content: "p1", Stage: StagePreamble},
		{Role: "system", Content: "p2", Stage: StageClosing},
		{Role: "assistant", Content: "p3", Stage: StageClosing},
	}}

	msgs := tpl.Assemble(`{"flow_id":1}`)
	require.Len(t, msgs, 5)

	var contents []string
	for _, m := range msgs {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"p0", "p1", `{"flow_id":1}`, "p2", "p3"}, contents)
	assert.Equal(t, "user", msgs[2].Role)
	assert.Equal(t, "assistant", msgs[4].Role)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		tpl     *Template
		wantErr bool
	}{
		{"nil", nil, true},
		{"empty", &Template{}, true},
		{"bad role", &Template{Prompts: []Segment{{Role: "tool", Content: "x"}}}, true},
		{"bad stage", &Template{Prompts: []Segment{{Role: "system", Content: "x", Stage: "middle"}}}, true},
		{"blank content", &Template{Prompts: []Segment{{Role: "system", Content: "  "}}}, true},
		{"ok", &Template{Prompts: []Segment{{Role: "system", Content: "x"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tpl.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFileStoreReloadsOnEveryLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":"a","prompts":[{"role":"system","content":"first"}]}`), 0644))

	store, err := NewStore(path)
	require.NoError(t, err)

	tpl, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "first", tpl.Prompts[0].Content)

	require.NoError(t, os.WriteFile(path, []byte(`{"version":"b","prompts":[{"role":"system","content":"second"}]}`), 0644))
	tpl, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, "b", tpl.Version)
	assert.Equal(t, "second", tpl.Prompts[0].Content)
}

func TestFileStoreYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	yml := "version: y1\nprompts:\n  - role: system\n    content: hello\n  - role: system\n    content: bye\n    stage: closing\n"
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))

	tpl, err := FileStore{Path: path}.Load()
	require.NoError(t, err)
	assert.Equal(t, "y1", tpl.Version)
	assert.Equal(t, StageClosing, tpl.Prompts[1].Stage)
}

func TestNewStore(t *testing.T) {
	s, err := NewStore("")
	require.NoError(t, err)
	assert.IsType(t, Static{}, s)

	_, err = NewStore(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
