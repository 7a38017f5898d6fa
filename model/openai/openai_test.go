//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	openaigo "github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jovemexausto/zupa/model"
	"github.com/jovemexausto/zupa/retry"
	"github.com/jovemexausto/zupa/tool"
)

type captured struct {
	body map[string]any
}

func newServer(t *testing.T, c *captured, handler func(w http.ResponseWriter, body map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		if !assert.NoError(t, err) {
			return
		}
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		if c != nil {
			c.body = body
		}
		handler(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, v string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, v)
}

func TestModel_Info(t *testing.T) {
	m := New("gpt-4o-mini", WithAPIKey("k"))
	assert.Equal(t, "gpt-4o-mini", m.Info().Name)
	_, err := m.Complete(context.Background(), nil)
	assert.Error(t, err)
	_, err = m.Stream(context.Background(), nil)
	assert.Error(t, err)
}

func TestModel_Complete_Text(t *testing.T) {
	var c captured
	srv := newServer(t, &c, func(w http.ResponseWriter, _ map[string]any) {
		writeJSON(w, http.StatusOK, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Hello there!"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)
	})
	var hooked bool
	m := New("gpt-4o-mini", WithAPIKey("k"), WithBaseURL(srv.URL),
		WithExtraFields(map[string]any{"user": "zupa"}),
		WithChatRequestCallback(func(context.Context, *openaigo.ChatCompletionNewParams) { hooked = true }))

	rsp, err := m.Complete(context.Background(), &model.Request{
		SystemPrompt: "be nice",
		Messages:     []model.Message{model.NewUserMessage("Hi")},
		Tools: []*tool.Declaration{{
			Name:        "weather",
			Description: "current weather",
			InputSchema: &tool.Schema{Type: "object", Properties: map[string]*tool.Schema{"city": {Type: "string"}}},
		}},
	})
	require.NoError(t, err)
	assert.True(t, hooked)
	assert.Equal(t, "Hello there!", rsp.Content)
	assert.Equal(t, model.FinishReasonStop, rsp.FinishReason)
	assert.Equal(t, 5, rsp.TokensUsed())
	assert.Equal(t, "gpt-4o-mini", rsp.Model)

	msgs := c.body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "user", msgs[1].(map[string]any)["role"])
	tools := c.body["tools"].([]any)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "weather", fn["name"])
	assert.Equal(t, "zupa", c.body["user"])
}

func TestModel_Complete_ToolCalls(t *testing.T) {
	var c captured
	srv := newServer(t, &c, func(w http.ResponseWriter, _ map[string]any) {
		writeJSON(w, http.StatusOK, `{"id":"c2","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":null,
			"tool_calls":[{"id":"","type":"function","function":{"name":"weather","arguments":"{\"city\":\"Recife\"}"}}]}}]}`)
	})
	m := New("m", WithAPIKey("k"), WithBaseURL(srv.URL))
	rsp, err := m.Complete(context.Background(), &model.Request{Messages: []model.Message{
		model.NewUserMessage("weather?"),
		{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{ID: "prev", Name: "weather", Arguments: []byte(`{}`)}}},
		model.NewToolMessage("prev", "weather", "sunny"),
	}})
	require.NoError(t, err)
	require.True(t, rsp.HasToolCalls())
	assert.Equal(t, "auto_call_0", rsp.ToolCalls[0].ID)
	assert.Equal(t, "weather", rsp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"city":"Recife"}`, string(rsp.ToolCalls[0].Arguments))
	assert.Nil(t, rsp.Usage)

	msgs := c.body["messages"].([]any)
	require.Len(t, msgs, 3)
	assert.Equal(t, "prev", msgs[2].(map[string]any)["tool_call_id"])
}

func TestModel_Complete_Structured(t *testing.T) {
	var c captured
	srv := newServer(t, &c, func(w http.ResponseWriter, _ map[string]any) {
		writeJSON(w, http.StatusOK, `{"id":"c3","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant",
			"content":"{\"reply\":\"oi\",\"reply_modality\":\"voice\"}"}}]}`)
	})
	m := New("m", WithAPIKey("k"), WithBaseURL(srv.URL))
	rsp, err := m.Complete(context.Background(), &model.Request{
		Messages: []model.Message{model.NewUserMessage("oi")},
		OutputSchema: &model.OutputSchema{Name: "reply", Schema: &tool.Schema{
			Type:       "object",
			Properties: map[string]*tool.Schema{"reply": {Type: "string"}, "reply_modality": {Type: "string"}},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "voice", rsp.Structured["reply_modality"])
	format := c.body["response_format"].(map[string]any)
	assert.Equal(t, "json_schema", format["type"])
}

func TestModel_Complete_ErrorsAreClassified(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			srv := newServer(t, nil, func(w http.ResponseWriter, _ map[string]any) {
				writeJSON(w, tt.status, `{"error":{"message":"nope","type":"test"}}`)
			})
			m := New("m", WithAPIKey("k"), WithBaseURL(srv.URL))
			_, err := m.Complete(context.Background(), &model.Request{Messages: []model.Message{model.NewUserMessage("x")}})
			require.Error(t, err)
			var se *retry.StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.status, se.Code)
			assert.Equal(t, tt.retryable, retry.IsRetryable(err))
		})
	}
}

func TestModel_Stream(t *testing.T) {
	srv := newServer(t, nil, func(w http.ResponseWriter, body map[string]any) {
		assert.Equal(t, true, body["stream"])
		w.Header().Set("Content-Type", "text/event-stream")
		for _, delta := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"id\":\"s1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\","+
				"\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", delta)
		}
		fmt.Fprint(w, "data: {\"id\":\"s1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\","+
			"\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	m := New("m", WithAPIKey("k"), WithBaseURL(srv.URL), WithChannelBufferSize(1))

	var deltas []string
	rsp, err := model.CompleteStreaming(context.Background(), m,
		&model.Request{Messages: []model.Message{model.NewUserMessage("x")}},
		func(d string) { deltas = append(deltas, d) })
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.Equal(t, "Hello", rsp.Content)
	assert.Equal(t, model.FinishReasonStop, rsp.FinishReason)
}

func TestConvertMessages(t *testing.T) {
	msgs := convertMessages("", []model.Message{
		model.NewSystemMessage("sys"),
		{Role: "unknown", Content: "x"},
		model.NewAssistantMessage("a"),
	})
	require.Len(t, msgs, 3)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	assert.NotNil(t, msgs[2].OfAssistant)
	assert.Empty(t, convertTools([]*tool.Declaration{nil}))
}
