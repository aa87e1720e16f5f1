package correction

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schema-proxy/config"
	"schema-proxy/types"
)

func testConfig(endpoint string) *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.CorrectionEndpoints = []string{endpoint}
	cfg.CorrectionModel = "test-model"
	cfg.CorrectionAPIKey = "sk-test-key-1234"
	cfg.InitializeEndpointHealthMap()
	return cfg
}

func receiveDiff() types.ValidationDiff {
	return types.ValidationDiff{
		Missing:    []string{"source"},
		Unexpected: []string{"src"},
	}
}

func completionWith(content string) string {
	resp := chatResponse{}
	resp.Choices = append(resp.Choices, struct {
		Message chatMessage `json:"message"`
	}{Message: chatMessage{Role: "assistant", Content: content}})
	data, _ := json.Marshal(resp)
	return string(data)
}

func TestProposeReturnsCorrectedBody(t *testing.T) {
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		assert.Equal(t, "Bearer sk-test-key-1234", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completionWith("Here is the corrected body:\n```json\n{\"source\": \"consumer\"}\n```")))
	}))
	defer server.Close()

	service := NewService(testConfig(server.URL))
	key := types.EndpointKey{Method: "POST", Path: "/receive"}

	candidate, err := service.Propose(context.Background(), key, mustValue(t, `{"src": "consumer"}`), receiveDiff())
	require.NoError(t, err)

	assert.Equal(t, types.KindObject, candidate.Kind)
	assert.Equal(t, map[string]types.Kind{"source": types.KindString}, candidate.Flatten())

	// The prompt carries the invalid body and the validation report
	assert.Equal(t, "test-model", captured.Model)
	require.Len(t, captured.Messages, 2)
	assert.Contains(t, captured.Messages[1].Content, "POST /receive")
	assert.Contains(t, captured.Messages[1].Content, "Missing required fields: source")
	assert.Contains(t, captured.Messages[1].Content, "Unexpected fields not accepted by the endpoint: src")
}

func TestProposeClassifiesProviderRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	service := NewService(testConfig(server.URL))

	_, err := service.Propose(context.Background(), types.EndpointKey{Method: "POST", Path: "/receive"},
		mustValue(t, `{"src": "x"}`), receiveDiff())
	require.Error(t, err)
	assert.Equal(t, ProviderRejected, KindOf(err))
	assert.Contains(t, err.Error(), "status 500")
}

func TestProposeClassifiesMalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not_json_at_all", body: "<html>gateway error</html>"},
		{name: "no_choices", body: `{"choices": []}`},
		{name: "no_object_in_content", body: ""},
		{name: "array_not_object", body: ""},
	}

	bodies := map[string]string{
		"no_object_in_content": completionWith("I could not fix this payload, sorry."),
		"array_not_object":     completionWith("```\n[1, 2, 3]\n```"),
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := tt.body
			if b, ok := bodies[tt.name]; ok {
				body = b
			}
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer server.Close()

			service := NewService(testConfig(server.URL))
			_, err := service.Propose(context.Background(), types.EndpointKey{Method: "POST", Path: "/receive"},
				mustValue(t, `{"src": "x"}`), receiveDiff())
			require.Error(t, err)
			assert.Equal(t, MalformedResponse, KindOf(err))
		})
	}
}

func TestProposeClassifiesTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	service := NewService(testConfig(server.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := service.Propose(ctx, types.EndpointKey{Method: "POST", Path: "/receive"},
		mustValue(t, `{"src": "x"}`), receiveDiff())
	require.Error(t, err)
	assert.Equal(t, ProviderTimeout, KindOf(err))
}

func TestProposeClassifiesUnreachableProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // Nothing is listening anymore

	service := NewService(testConfig(server.URL))

	_, err := service.Propose(context.Background(), types.EndpointKey{Method: "POST", Path: "/receive"},
		mustValue(t, `{"src": "x"}`), receiveDiff())
	require.Error(t, err)
	assert.Equal(t, ProviderUnreachable, KindOf(err))
}

func TestProposeWithNoEndpointsConfigured(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.CorrectionModel = "test-model"
	service := NewService(cfg)

	_, err := service.Propose(context.Background(), types.EndpointKey{Method: "POST", Path: "/receive"},
		mustValue(t, `{"src": "x"}`), receiveDiff())
	require.Error(t, err)
	assert.Equal(t, ProviderUnreachable, KindOf(err))
}

func TestProposeFailuresOpenCircuit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	service := NewService(cfg)
	key := types.EndpointKey{Method: "POST", Path: "/receive"}

	// Default threshold is 2 consecutive failures
	for i := 0; i < cfg.CircuitBreaker.FailureThreshold; i++ {
		_, err := service.Propose(context.Background(), key, mustValue(t, `{"src": "x"}`), receiveDiff())
		require.Error(t, err)
	}

	assert.False(t, cfg.IsEndpointHealthy(server.URL))
}

func TestParseCorrectedResponseStrategies(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "bare_object", content: `{"source": "consumer"}`},
		{name: "object_in_prose", content: `Here you go: {"source": "consumer"} — fixed!`},
		{name: "json_fenced_block", content: "```json\n{\"source\": \"consumer\"}\n```"},
		{name: "plain_fenced_block", content: "```\n{\"source\": \"consumer\"}\n```"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &chatResponse{}
			resp.Choices = append(resp.Choices, struct {
				Message chatMessage `json:"message"`
			}{Message: chatMessage{Content: tt.content}})

			candidate, err := parseCorrectedResponse(resp)
			require.NoError(t, err)
			assert.Equal(t, map[string]types.Kind{"source": types.KindString}, candidate.Flatten())
		})
	}
}

func TestFailureKindStrings(t *testing.T) {
	assert.Equal(t, "provider_unreachable", ProviderUnreachable.String())
	assert.Equal(t, "provider_timeout", ProviderTimeout.String())
	assert.Equal(t, "provider_rejected", ProviderRejected.String())
	assert.Equal(t, "malformed_response", MalformedResponse.String())
}

func mustValue(t *testing.T, raw string) types.Value {
	t.Helper()
	value, err := types.DecodeValue([]byte(raw))
	require.NoError(t, err)
	return value
}
