//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package openai implements speech providers on the OpenAI audio API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	openai "github.com/openai/openai-go"

	mopenai "github.com/jovemexausto/zupa/model/openai"
	"github.com/jovemexausto/zupa/speech"
)

// Defaults for the audio models.
const (
	DefaultSTTModel = "whisper-1"
	DefaultTTSModel = "tts-1"
	DefaultVoice    = "alloy"
)

// wordsPerSecond estimates clip length when the API does not report it.
const wordsPerSecond = 2.5

// Option configures the speech adapters.
type Option func(*options)

type options struct {
	apiKey   string
	baseURL  string
	model    string
	voice    string
	httpOpts []mopenai.HTTPClientOption
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option { return func(o *options) { o.apiKey = key } }

// WithBaseURL sets the API base URL.
func WithBaseURL(url string) Option { return func(o *options) { o.baseURL = url } }

// WithModel overrides the audio model.
func WithModel(name string) Option { return func(o *options) { o.model = name } }

// WithVoice sets the default voice of the synthesizer.
func WithVoice(voice string) Option { return func(o *options) { o.voice = voice } }

// WithHTTPClientOptions sets the HTTP client options.
func WithHTTPClientOptions(httpOpts ...mopenai.HTTPClientOption) Option {
	return func(o *options) { o.httpOpts = append(o.httpOpts, httpOpts...) }
}

func newOptions(defaultModel string, opts []Option) *options {
	o := &options{model: defaultModel, voice: DefaultVoice}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Transcriber implements speech.Transcriber.
type Transcriber struct {
	client openai.Client
	model  string
}

var _ speech.Transcriber = (*Transcriber)(nil)

// NewTranscriber creates a transcriber.
func NewTranscriber(opts ...Option) *Transcriber {
	o := newOptions(DefaultSTTModel, opts)
	return &Transcriber{
		client: mopenai.NewClient(o.apiKey, o.baseURL, o.httpOpts),
		model:  o.model,
	}
}

// Transcribe implements speech.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, req speech.TranscribeRequest) (*speech.Transcript, error) {
	if req.AudioPath == "" {
		return nil, errors.New("audio path is empty")
	}
	f, err := os.Open(req.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	start := time.Now()
	params := openai.AudioTranscriptionNewParams{
		File:  f,
		Model: openai.AudioModel(t.model),
	}
	if req.Language != "" {
		params.Language = openai.String(req.Language)
	}
	res, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, mopenai.ClassifyError(err)
	}
	return &speech.Transcript{
		Text:      strings.TrimSpace(res.Text),
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Synthesizer implements speech.Synthesizer.
type Synthesizer struct {
	client openai.Client
	model  string
	voice  string
}

var _ speech.Synthesizer = (*Synthesizer)(nil)

// NewSynthesizer creates a synthesizer.
func NewSynthesizer(opts ...Option) *Synthesizer {
	o := newOptions(DefaultTTSModel, opts)
	return &Synthesizer{
		client: mopenai.NewClient(o.apiKey, o.baseURL, o.httpOpts),
		model:  o.model,
		voice:  o.voice,
	}
}

// Synthesize implements speech.Synthesizer. The clip is written as mp3.
func (s *Synthesizer) Synthesize(ctx context.Context, req speech.SynthesizeRequest) (*speech.Audio, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("text is empty")
	}
	voice := req.Voice
	if voice == "" {
		voice = s.voice
	}
	start := time.Now()
	rsp, err := s.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          req.Text,
		Model:          openai.SpeechModel(s.model),
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return nil, mopenai.ClassifyError(err)
	}
	defer rsp.Body.Close()

	out, err := createOutput(req.OutputPath)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(out, rsp.Body); err != nil {
		out.Close()
		return nil, fmt.Errorf("write audio: %w", err)
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("close audio: %w", err)
	}
	return &speech.Audio{
		Path:            out.Name(),
		DurationSeconds: float64(len(strings.Fields(req.Text))) / wordsPerSecond,
		LatencyMs:       time.Since(start).Milliseconds(),
	}, nil
}

func createOutput(path string) (*os.File, error) {
	if path == "" {
		f, err := os.CreateTemp("", "zupa-tts-*.mp3")
		if err != nil {
			return nil, fmt.Errorf("create audio file: %w", err)
		}
		return f, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create audio file: %w", err)
	}
	return f, nil
}
