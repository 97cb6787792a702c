// Package stt transcribes Discord voice messages with a local whisper.cpp
// model: download, transcode to 16kHz mono PCM, decode, recognize.
package stt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	. "github.com/roelfdiedericks/discordbridge/internal/logging"
)

var (
	// ErrNoSpeech means recognition produced no text.
	ErrNoSpeech = errors.New("no speech recognized")
	// ErrModelUnavailable means the speech model is not installed.
	ErrModelUnavailable = errors.New("speech model unavailable")
)

// Fetcher downloads a URL to a local file.
type Fetcher interface {
	FetchToFile(ctx context.Context, url, path string) error
}

// Decoder turns an audio file into 16kHz mono samples.
type Decoder interface {
	Samples(ctx context.Context, path string) ([]float32, error)
}

// Pipeline is the voice transcription pipeline.
type Pipeline struct {
	fetch   Fetcher
	decode  Decoder
	loader  *Loader
	tempDir string // "" = os.TempDir()
}

// NewPipeline wires the pipeline stages.
func NewPipeline(fetch Fetcher, decode Decoder, loader *Loader) *Pipeline {
	return &Pipeline{fetch: fetch, decode: decode, loader: loader}
}

// Transcribe downloads the voice attachment at url and returns its text.
// Temporary files are removed on every path, including cancellation.
func (p *Pipeline) Transcribe(ctx context.Context, url, filename string) (string, error) {
	dir, err := os.MkdirTemp(p.tempDir, "discordbridge-voice-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".ogg"
	}
	src := filepath.Join(dir, "voice"+ext)

	if err := p.fetch.FetchToFile(ctx, url, src); err != nil {
		return "", fmt.Errorf("download voice message: %w", err)
	}

	samples, err := p.decode.Samples(ctx, src)
	if err != nil {
		return "", fmt.Errorf("convert audio: %w", err)
	}
	if len(samples) == 0 {
		return "", ErrNoSpeech
	}

	rec, err := p.loader.Get(ctx)
	if err != nil {
		return "", err
	}
	text, err := rec.Recognize(ctx, samples)
	if err != nil {
		return "", fmt.Errorf("recognize: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" || isNonSpeechMarker(text) {
		return "", ErrNoSpeech
	}

	L_debug("stt: transcribed", "chars", len(text))
	return text, nil
}

// isNonSpeechMarker matches whisper's placeholder outputs for silence or
// noise, such as "[BLANK_AUDIO]" or "(music)".
func isNonSpeechMarker(text string) bool {
	if len(text) < 2 {
		return false
	}
	first, last := text[0], text[len(text)-1]
	if !((first == '[' && last == ']') || (first == '(' && last == ')')) {
		return false
	}
	return !strings.ContainsAny(text[1:len(text)-1], "[]()")
}
