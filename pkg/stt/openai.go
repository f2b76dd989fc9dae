// Package stt holds cloud speech-to-text backends. The local whisper.cpp
// backend lives in stt/whisper so that importing this package needs no cgo.
package stt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"murmur/pkg/audioconv"
)

// OpenAI transcribes utterances with the OpenAI audio API.
type OpenAI struct {
	client   openai.Client
	model    string
	language string
}

// NewOpenAI creates a transcriber. language may be "" or "auto" to let the
// service detect it.
func NewOpenAI(model, language string, opts ...option.RequestOption) *OpenAI {
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}
	if language == "auto" {
		language = ""
	}
	return &OpenAI{
		client:   openai.NewClient(opts...),
		model:    model,
		language: language,
	}
}

// Transcribe uploads pcm (16 kHz mono) as a WAV file and returns the text.
func (o *OpenAI) Transcribe(ctx context.Context, pcm []float32) (string, error) {
	if len(pcm) == 0 {
		return "", errors.New("no audio samples provided")
	}

	f, err := os.CreateTemp("", "murmur-*.wav")
	if err != nil {
		return "", fmt.Errorf("create temp wav: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if err := audioconv.EncodeWAV(f, pcm, audioconv.SampleRate); err != nil {
		return "", fmt.Errorf("encode wav: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return "", err
	}

	params := openai.AudioTranscriptionNewParams{
		File:  f,
		Model: openai.AudioModel(o.model),
	}
	if o.language != "" {
		params.Language = openai.String(o.language)
	}

	res, err := o.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("transcription: %w", err)
	}

	return strings.TrimSpace(res.Text), nil
}
