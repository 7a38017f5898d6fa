//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package openai provides OpenAI-compatible model implementations.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	itelemetry "github.com/jovemexausto/zupa/internal/telemetry"
	"github.com/jovemexausto/zupa/log"
	"github.com/jovemexausto/zupa/model"
	"github.com/jovemexausto/zupa/retry"
	"github.com/jovemexausto/zupa/telemetry/trace"
	"github.com/jovemexausto/zupa/tool"
)

const (
	// defaultChannelBufferSize is the default channel buffer size.
	defaultChannelBufferSize = 256
)

// HTTPClient is the interface for the HTTP client.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// HTTPClientNewFunc is the function type for creating a new HTTP client.
type HTTPClientNewFunc func(opts ...HTTPClientOption) HTTPClient

// DefaultNewHTTPClient is the default HTTP client for OpenAI.
var DefaultNewHTTPClient HTTPClientNewFunc = func(opts ...HTTPClientOption) HTTPClient {
	options := &HTTPClientOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return &http.Client{
		Transport: options.Transport,
	}
}

// HTTPClientOption is the option for the HTTP client.
type HTTPClientOption func(*HTTPClientOptions)

// WithHTTPClientTransport is the option for the HTTP client transport.
func WithHTTPClientTransport(transport http.RoundTripper) HTTPClientOption {
	return func(options *HTTPClientOptions) {
		options.Transport = transport
	}
}

// HTTPClientOptions is the options for the HTTP client.
type HTTPClientOptions struct {
	Transport http.RoundTripper
}

// ChatRequestCallbackFunc is the function type for the chat request callback.
type ChatRequestCallbackFunc func(ctx context.Context, chatRequest *openai.ChatCompletionNewParams)

type options struct {
	APIKey              string
	BaseURL             string
	ChannelBufferSize   int
	HTTPClientOptions   []HTTPClientOption
	OpenAIOptions       []openaiopt.RequestOption
	ExtraFields         map[string]any
	ChatRequestCallback ChatRequestCallbackFunc
}

// Option is a function that configures an OpenAI model.
type Option func(*options)

// WithAPIKey sets the API key for the OpenAI client.
func WithAPIKey(key string) Option {
	return func(o *options) { o.APIKey = key }
}

// WithBaseURL sets the base URL for the OpenAI client.
func WithBaseURL(url string) Option {
	return func(o *options) { o.BaseURL = url }
}

// WithChannelBufferSize sets the streaming channel buffer size.
func WithChannelBufferSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.ChannelBufferSize = size
		}
	}
}

// WithHTTPClientOptions sets the HTTP client options.
func WithHTTPClientOptions(httpOpts ...HTTPClientOption) Option {
	return func(o *options) { o.HTTPClientOptions = append(o.HTTPClientOptions, httpOpts...) }
}

// WithOpenAIOptions appends raw openai-go request options.
func WithOpenAIOptions(openaiOpts ...openaiopt.RequestOption) Option {
	return func(o *options) { o.OpenAIOptions = append(o.OpenAIOptions, openaiOpts...) }
}

// WithExtraFields adds fields to every request body.
func WithExtraFields(extraFields map[string]any) Option {
	return func(o *options) {
		if o.ExtraFields == nil {
			o.ExtraFields = make(map[string]any, len(extraFields))
		}
		for k, v := range extraFields {
			o.ExtraFields[k] = v
		}
	}
}

// WithChatRequestCallback sets a hook that sees every outgoing request.
func WithChatRequestCallback(fn ChatRequestCallbackFunc) Option {
	return func(o *options) { o.ChatRequestCallback = fn }
}

// Model implements model.StreamingModel for the OpenAI chat API.
type Model struct {
	client              openai.Client
	name                string
	channelBufferSize   int
	extraFields         map[string]any
	chatRequestCallback ChatRequestCallbackFunc
}

var _ model.StreamingModel = (*Model)(nil)

// NewClient builds the openai-go client shared by the model and speech adapters.
func NewClient(apiKey, baseURL string, httpOpts []HTTPClientOption, extra ...openaiopt.RequestOption) openai.Client {
	var clientOpts []openaiopt.RequestOption
	if apiKey != "" {
		clientOpts = append(clientOpts, openaiopt.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		clientOpts = append(clientOpts, openaiopt.WithBaseURL(baseURL))
	}
	clientOpts = append(clientOpts, openaiopt.WithHTTPClient(DefaultNewHTTPClient(httpOpts...)))
	// Retries are owned by the retry package.
	clientOpts = append(clientOpts, openaiopt.WithMaxRetries(0))
	clientOpts = append(clientOpts, extra...)
	return openai.NewClient(clientOpts...)
}

// New creates a model named name.
func New(name string, opts ...Option) *Model {
	o := &options{ChannelBufferSize: defaultChannelBufferSize}
	for _, opt := range opts {
		opt(o)
	}
	return &Model{
		client:              NewClient(o.APIKey, o.BaseURL, o.HTTPClientOptions, o.OpenAIOptions...),
		name:                name,
		channelBufferSize:   o.ChannelBufferSize,
		extraFields:         o.ExtraFields,
		chatRequestCallback: o.ChatRequestCallback,
	}
}

// Info implements the model.Model interface.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.name}
}

// Complete implements the model.Model interface.
func (m *Model) Complete(ctx context.Context, request *model.Request) (*model.Response, error) {
	if request == nil {
		return nil, errors.New("request cannot be nil")
	}
	ctx, span := trace.Tracer.Start(ctx, itelemetry.NewChatSpanName(m.name))
	defer span.End()

	start := time.Now()
	chatRequest, opts := m.buildRequest(ctx, request)
	completion, err := m.client.Chat.Completions.New(ctx, chatRequest, opts...)
	if err != nil {
		return nil, ClassifyError(err)
	}
	rsp := &model.Response{
		Model:     completion.Model,
		LatencyMs: time.Since(start).Milliseconds(),
		Usage:     convertUsage(completion.Usage),
	}
	if len(completion.Choices) > 0 {
		choice := completion.Choices[0]
		rsp.Content = choice.Message.Content
		rsp.FinishReason = choice.FinishReason
		for j, tc := range choice.Message.ToolCalls {
			rsp.ToolCalls = append(rsp.ToolCalls, convertToolCall(j, tc.ID, tc.Function.Name, tc.Function.Arguments))
		}
	}
	if request.OutputSchema != nil {
		rsp.DecodeStructured()
	}
	itelemetry.TraceChat(span, m.name, len(request.Messages), len(request.Tools), rsp.TokensUsed())
	return rsp, nil
}

// Stream implements the model.StreamingModel interface.
func (m *Model) Stream(ctx context.Context, request *model.Request) (<-chan *model.Chunk, error) {
	if request == nil {
		return nil, errors.New("request cannot be nil")
	}
	chatRequest, opts := m.buildRequest(ctx, request)
	chatRequest.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}
	chunks := make(chan *model.Chunk, m.channelBufferSize)
	go func() {
		defer close(chunks)
		send := func(c *model.Chunk) bool {
			select {
			case chunks <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		start := time.Now()
		stream := m.client.Chat.Completions.NewStreaming(ctx, chatRequest, opts...)
		defer stream.Close()

		acc := openai.ChatCompletionAccumulator{}
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !send(&model.Chunk{Delta: chunk.Choices[0].Delta.Content}) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			send(&model.Chunk{Err: ClassifyError(err)})
			return
		}
		rsp := &model.Response{
			Model:     acc.Model,
			LatencyMs: time.Since(start).Milliseconds(),
			Usage:     convertUsage(acc.Usage),
		}
		if len(acc.Choices) > 0 {
			choice := acc.Choices[0]
			rsp.Content = choice.Message.Content
			rsp.FinishReason = choice.FinishReason
			for j, tc := range choice.Message.ToolCalls {
				rsp.ToolCalls = append(rsp.ToolCalls, convertToolCall(j, tc.ID, tc.Function.Name, tc.Function.Arguments))
			}
		}
		if request.OutputSchema != nil {
			rsp.DecodeStructured()
		}
		send(&model.Chunk{Final: rsp})
	}()
	return chunks, nil
}

func (m *Model) buildRequest(ctx context.Context, request *model.Request) (openai.ChatCompletionNewParams, []openaiopt.RequestOption) {
	chatRequest := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.name),
		Messages: convertMessages(request.SystemPrompt, request.Messages),
		Tools:    convertTools(request.Tools),
	}
	if out := request.OutputSchema; out != nil && out.Schema != nil {
		chatRequest.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        out.Name,
					Schema:      out.Schema.Map(),
					Strict:      openai.Bool(out.Strict),
					Description: openai.String(out.Description),
				},
			},
		}
	}
	// MaxTokens is deprecated and not compatible with o-series models.
	if request.MaxTokens != nil {
		chatRequest.MaxCompletionTokens = openai.Int(int64(*request.MaxTokens))
	}
	if request.Temperature != nil {
		chatRequest.Temperature = openai.Float(*request.Temperature)
	}
	if request.TopP != nil {
		chatRequest.TopP = openai.Float(*request.TopP)
	}
	if len(request.Stop) > 0 {
		// Use the first stop string for simplicity.
		chatRequest.Stop = openai.ChatCompletionNewParamsStopUnion{
			OfString: openai.String(request.Stop[0]),
		}
	}
	var opts []openaiopt.RequestOption
	for key, value := range m.extraFields {
		opts = append(opts, openaiopt.WithJSONSet(key, value))
	}
	if m.chatRequestCallback != nil {
		m.chatRequestCallback(ctx, &chatRequest)
	}
	return chatRequest, opts
}

// convertMessages converts our Message format to OpenAI's format.
func convertMessages(systemPrompt string, messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if systemPrompt != "" {
		result = append(result, openai.SystemMessage(systemPrompt))
	}
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			result = append(result, openai.SystemMessage(msg.Content))
		case model.RoleAssistant:
			assistant := &openai.ChatCompletionAssistantMessageParam{
				ToolCalls: convertToolCalls(msg.ToolCalls),
			}
			if msg.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				}
			}
			result = append(result, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case model.RoleTool:
			result = append(result, openai.ToolMessage(msg.Content, msg.ToolID))
		default: // Default to user message if role is unknown.
			result = append(result, openai.UserMessage(msg.Content))
		}
	}
	return result
}

func convertToolCalls(toolCalls []model.ToolCall) []openai.ChatCompletionMessageToolCallParam {
	var result []openai.ChatCompletionMessageToolCallParam
	for _, toolCall := range toolCalls {
		result = append(result, openai.ChatCompletionMessageToolCallParam{
			ID: toolCall.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      toolCall.Name,
				Arguments: string(toolCall.Arguments),
			},
		})
	}
	return result
}

func convertTools(decls []*tool.Declaration) []openai.ChatCompletionToolParam {
	var result []openai.ChatCompletionToolParam
	for _, decl := range decls {
		if decl == nil {
			continue
		}
		result = append(result, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        decl.Name,
				Description: openai.String(decl.Description),
				Parameters:  shared.FunctionParameters(decl.InputSchema.Map()),
			},
		})
	}
	return result
}

func convertToolCall(index int, id, name, args string) model.ToolCall {
	if id == "" {
		// Synthesize ID for providers that omit it.
		id = fmt.Sprintf("auto_call_%d", index)
	}
	if !json.Valid([]byte(args)) {
		log.Warnf("model returned non-JSON arguments for tool %s", name)
	}
	return model.ToolCall{ID: id, Name: name, Arguments: []byte(args)}
}

func convertUsage(u openai.CompletionUsage) *model.Usage {
	if u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0 {
		return nil
	}
	return &model.Usage{
		PromptTokens:     int(u.PromptTokens),
		CompletionTokens: int(u.CompletionTokens),
		TotalTokens:      int(u.TotalTokens),
	}
}

// classifyError maps API errors to retry.StatusError so callers retry 429
// and 5xx without string matching.
func ClassifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &retry.StatusError{Code: apiErr.StatusCode, Err: err}
	}
	return err
}
