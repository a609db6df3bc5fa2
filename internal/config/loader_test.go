package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, ProviderLocal, cfg.Backend.Provider)
	assert.Equal(t, "llama3", cfg.Backend.ResolvedModel())
	assert.Equal(t, 30*time.Second, cfg.Backend.Timeout())
	assert.Zero(t, cfg.Backend.CacheTTL())
	assert.Equal(t, 0.3, cfg.Generator.SuspectProbability)
	assert.Equal(t, "10.0.0.1", cfg.Generator.SuspectIP)
	assert.Equal(t, 2*time.Second, cfg.Controller.Interval())
	assert.Equal(t, []string{"log"}, cfg.Rules.Sinks)
	assert.Equal(t, "hdr.ipv4.srcAddr", cfg.Rules.MatchKey)
	assert.Equal(t, "enforce", cfg.ExecutionMode.Mode)
	assert.NoError(t, cfg.Validate())
}

func TestParseJSON(t *testing.T) {
	data := []byte(`{
		"backend": {"provider": "openai", "api_key": "sk-test", "model": "gpt-4o-mini", "timeout_seconds": 10},
		"controller": {"interval_seconds": 0.5, "max_iterations": 20},
		"rules": {"sinks": ["log", "sqlite"], "sqlite": {"path": "/tmp/x.db"}}
	}`)

	cfg, err := Parse(data, ".json")
	require.NoError(t, err)
	assert.Equal(t, ProviderHosted, cfg.Backend.NormalizedProvider())
	assert.Equal(t, "gpt-4o-mini", cfg.Backend.ResolvedModel())
	assert.Equal(t, 10*time.Second, cfg.Backend.Timeout())
	assert.Equal(t, 500*time.Millisecond, cfg.Controller.Interval())
	assert.Equal(t, 20, cfg.Controller.MaxIterations)
	assert.Equal(t, "/tmp/x.db", cfg.Rules.SQLite.Path)
	assert.Equal(t, "acl_table", cfg.Rules.TableName)
}

func TestParseYAML(t *testing.T) {
	data := []byte(`
backend:
  provider: anthropic
  api_key: key
policy:
  protected_ips: ["10.0.0.254"]
  drop_guard: "packet_count > 5"
execution_mode:
  mode: monitor
`)
	cfg, err := Parse(data, ".yaml")
	require.NoError(t, err)
	assert.Equal(t, "claude-3-5-haiku-20241022", cfg.Backend.ResolvedModel())
	assert.Equal(t, []string{"10.0.0.254"}, cfg.Policy.ProtectedIPs)
	assert.Equal(t, "packet_count > 5", cfg.Policy.DropGuard)
	assert.Equal(t, "monitor", cfg.ExecutionMode.Mode)
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse([]byte(`{"backend": `), ".json")
	assert.Error(t, err)

	_, err = Parse([]byte("backend: [unterminated"), ".yml")
	assert.Error(t, err)
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("FG_TEST_KEY", "from-env")
	t.Setenv("FG_TEST_TOKEN", "secret")

	cfg, err := Parse([]byte(`{
		"backend": {"provider": "hosted", "api_key": "${FG_TEST_KEY}"},
		"rules": {"webhook": {"auth_token": "${FG_TEST_TOKEN}"}}
	}`), ".json")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Backend.APIKey)
	assert.Equal(t, "secret", cfg.Rules.Webhook.AuthToken)
}

func TestAPIKeyFallsBackToProviderVariable(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "openai-key")
	t.Setenv("ANTHROPIC_API_KEY", "anthropic-key")

	cfg, err := Parse([]byte(`{"backend": {"provider": "hosted"}}`), ".json")
	require.NoError(t, err)
	assert.Equal(t, "openai-key", cfg.Backend.APIKey)

	cfg.OverrideProvider("anthropic")
	assert.Equal(t, "anthropic-key", cfg.Backend.APIKey)

	cfg.OverrideProvider("local")
	assert.Empty(t, cfg.Backend.APIKey)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Backend.Provider = "gemini"
	cfg.Generator.SuspectProbability = 1.5
	cfg.Generator.NormalPackets = [2]int{5, 1}
	cfg.Rules.Sinks = []string{"log", "kafka", "webhook"}
	cfg.Policy.ProtectedIPs = []string{"not-an-ip"}
	cfg.ExecutionMode.Mode = "dry-run"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"backend.provider",
		"suspect_probability",
		"normal_packets",
		`unknown sink "kafka"`,
		"webhook.endpoint",
		"protected_ips",
		"execution_mode.mode",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte("generator:\n  seed: 42\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(42), cfg.Generator.Seed)

	_, err = Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"execution_mode": {"mode": "sometimes"}}`), 0644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "execution_mode.mode")
}
