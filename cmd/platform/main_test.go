package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/easeaico/roza/internal/handler"
	"github.com/easeaico/roza/internal/storage"
)

func newTestHandler() *handler.Handler {
	m := storage.NewMemoryStore()
	return handler.New(m, m.Configs(), handler.Options{}, zap.NewNop())
}

func decodeResponses(t *testing.T, out *bytes.Buffer) []map[string]any {
	t.Helper()
	var responses []map[string]any
	dec := json.NewDecoder(out)
	for dec.More() {
		var resp map[string]any
		require.NoError(t, dec.Decode(&resp))
		responses = append(responses, resp)
	}
	return responses
}

func TestServeStream(t *testing.T) {
	in := strings.NewReader(`
{"node": "structured_output", "input": {"output": {"text": "hi", "think_output": "t"}}}
{"node": "llm_output", "input": {"llm_output": "<think>x</think>你好"}}
`)
	var out bytes.Buffer
	require.NoError(t, serve(context.Background(), newTestHandler(), in, &out, "", zap.NewNop()))

	responses := decodeResponses(t, &out)
	require.Len(t, responses, 2)
	assert.Equal(t, "structured_output", responses[0]["node"])
	assert.Equal(t, true, responses[0]["output"].(map[string]any)["is_valid"])
	assert.Equal(t, "你好", responses[1]["output"].(map[string]any)["system_output"])
}

func TestServeReportsFailures(t *testing.T) {
	in := strings.NewReader(`{"node": "missing"} {"node": "config", "input": {}}`)
	var out bytes.Buffer
	err := serve(context.Background(), newTestHandler(), in, &out, "", zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 request(s) failed")

	responses := decodeResponses(t, &out)
	require.Len(t, responses, 2)
	assert.Contains(t, responses[0]["error"], "unknown node")
	assert.Contains(t, responses[1]["error"], "bot_id is required")
}

func TestServeFixedNode(t *testing.T) {
	in := strings.NewReader(`{"output": {"text": "hi", "think_output": "t"}}`)
	var out bytes.Buffer
	require.NoError(t, serve(context.Background(), newTestHandler(), in, &out, "structured_output", zap.NewNop()))

	responses := decodeResponses(t, &out)
	require.Len(t, responses, 1)
	assert.Equal(t, "structured_output", responses[0]["node"])
}

func TestServeRejectsMalformedInput(t *testing.T) {
	var out bytes.Buffer
	err := serve(context.Background(), newTestHandler(), strings.NewReader(`{"node":`), &out, "", zap.NewNop())
	assert.ErrorContains(t, err, "failed to decode request")
}
