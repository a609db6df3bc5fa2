package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/config"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/flow"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/metrics"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/prompt"
)

const verdict = `{"anomaly_detected": true, "action": "drop", "target_ip": "10.0.0.1"}`

var testFlow = flow.Record{FlowID: 7, SrcIP: "10.0.0.1", DstIP: "10.0.0.9", SrcPort: 4000, DstPort: 80, Protocol: 6, PacketCount: 12, ByteCount: 9000}

func testTemplate() *prompt.Template {
	return &prompt.Template{Version: "t", Prompts: []prompt.Segment{
		{Role: "system", Content: "classify"},
		{Role: "system", Content: "answer in json", Stage: prompt.StageClosing},
	}}
}

func ollamaServer(t *testing.T, hits *int32, reply string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[]}`))
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		var req ollamaChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, "llama3", req.Model)
		assert.InDelta(t, 0.2, req.Options.Temperature, 1e-6)
		require.Len(t, req.Messages, 3)
		assert.Equal(t, "user", req.Messages[1].Role)
		assert.Contains(t, req.Messages[1].Content, `"flow_id":7`)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"message": map[string]string{"role": "assistant", "content": reply},
			"done":    true,
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), config.BackendConfig{Provider: "mystery"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestNewMissingCredential(t *testing.T) {
	for _, provider := range []string{"hosted", "openai", "anthropic"} {
		_, err := New(context.Background(), config.BackendConfig{Provider: provider})
		assert.ErrorIs(t, err, ErrMissingCredential, provider)
	}
}

func TestNewLocalUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := New(context.Background(), config.BackendConfig{Provider: "local", LocalHost: srv.URL})
	assert.ErrorIs(t, err, ErrBackendUnreachable)
}

func TestOllamaInvoke(t *testing.T) {
	srv := ollamaServer(t, nil, verdict)

	cfg := config.Defaults().Backend
	cfg.Provider = "ollama"
	cfg.LocalHost = srv.URL

	backend, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "ollama", backend.Name())

	raw, err := NewClient(backend, time.Second).Invoke(context.Background(), testTemplate(), testFlow)
	require.NoError(t, err)
	assert.Equal(t, verdict, raw)
}

func TestOllamaNon2xx(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	backend, err := NewOllamaBackend(context.Background(), srv.URL, "llama3", 0.2)
	require.NoError(t, err)

	_, err = backend.Complete(context.Background(), []prompt.Message{{Role: "user", Content: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestOpenAIInvoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-3.5-turbo", req["model"])
		assert.Equal(t, "json_object", req["response_format"].(map[string]interface{})["type"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"choices": []map[string]interface{}{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": verdict},
				"finish_reason": "stop",
			}},
		})
	}))
	defer srv.Close()

	cfg := config.Defaults().Backend
	cfg.Provider = "hosted"
	cfg.APIKey = "sk-test"
	cfg.BaseURL = srv.URL + "/v1"

	backend, err := New(context.Background(), cfg)
	require.NoError(t, err)

	raw, err := NewClient(backend, time.Second).Invoke(context.Background(), testTemplate(), testFlow)
	require.NoError(t, err)
	assert.Equal(t, verdict, raw)
}

func TestOpenAIEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[]}`))
	}))
	defer srv.Close()

	backend, err := NewOpenAIBackend("sk-test", srv.URL+"/v1", "gpt-3.5-turbo", 0.2)
	require.NoError(t, err)

	_, err = backend.Complete(context.Background(), []prompt.Message{{Role: "user", Content: "x"}})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestAnthropicInvoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var req anthropicRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "classify\n\nanswer in json", req.System)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)

		w.Write([]byte(`{"content":[{"type":"text","text":"` + `{\"anomaly_detected\": false}` + `"}]}`))
	}))
	defer srv.Close()

	backend, err := NewAnthropicBackend("key", srv.URL, "claude-3-5-haiku-20241022", 0.2)
	require.NoError(t, err)

	raw, err := NewClient(backend, time.Second).Invoke(context.Background(), testTemplate(), testFlow)
	require.NoError(t, err)
	assert.Equal(t, `{"anomaly_detected": false}`, raw)
}

type slowBackend struct{}

func (slowBackend) Name() string { return "slow" }

func (slowBackend) Complete(ctx context.Context, _ []prompt.Message) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestClientTimeout(t *testing.T) {
	h := metrics.New()
	c := NewClient(slowBackend{}, 20*time.Millisecond, WithMetrics(h))

	_, err := c.Invoke(context.Background(), testTemplate(), testFlow)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestClientCache(t *testing.T) {
	var hits int32
	srv := ollamaServer(t, &hits, verdict)

	backend, err := NewOllamaBackend(context.Background(), srv.URL, "llama3", 0.2)
	require.NoError(t, err)
	c := NewClient(backend, time.Second, WithCache(time.Minute))

	for i := 0; i < 3; i++ {
		rec := testFlow
		rec.FlowID += uint64(i)
		raw, err := c.Invoke(context.Background(), testTemplate(), rec)
		require.NoError(t, err)
		assert.Equal(t, verdict, raw)
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.EqualValues(t, 2, c.CacheStats()["total_hits"])
}

func TestClientCacheDisabledByDefault(t *testing.T) {
	c := NewClient(slowBackend{}, time.Millisecond, WithCache(0))
	assert.Nil(t, c.CacheStats())
}
