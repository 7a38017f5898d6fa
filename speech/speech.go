//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package speech defines speech-to-text and text-to-speech providers.
package speech

import "context"

// TranscribeRequest asks for the transcript of an audio file.
type TranscribeRequest struct {
	AudioPath string
	// Language is a BCP-47 or ISO-639-1 hint; empty lets the provider detect.
	Language string
}

// Transcript is the result of a transcription.
type Transcript struct {
	Text string
	// Confidence in [0,1]; 0 when the provider does not report one.
	Confidence float64
	LatencyMs  int64
}

// Transcriber converts speech to text.
type Transcriber interface {
	Transcribe(ctx context.Context, req TranscribeRequest) (*Transcript, error)
}

// SynthesizeRequest asks for text to be spoken.
type SynthesizeRequest struct {
	Text  string
	Voice string
	// OutputPath is where the audio is written; empty picks a temp file.
	OutputPath string
	Language   string
}

// Audio is a synthesized clip on disk.
type Audio struct {
	Path            string
	DurationSeconds float64
	LatencyMs       int64
}

// Synthesizer converts text to speech.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesizeRequest) (*Audio, error)
}
