package stt

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	. "github.com/roelfdiedericks/discordbridge/internal/logging"
)

// Recognizer turns 16kHz mono samples into text.
type Recognizer interface {
	Recognize(ctx context.Context, samples []float32) (string, error)
	Close() error
}

// WhisperConfig locates and tunes the whisper.cpp model.
type WhisperConfig struct {
	ModelsDir string
	Model     string // file name, e.g. "ggml-base.en.bin"
	Language  string // "en", "auto", ...; empty means auto
	Threads   uint   // 0 = library default
}

// WhisperRecognizer runs a whisper.cpp model in process.
type WhisperRecognizer struct {
	mu     sync.Mutex
	model  whisper.Model
	config WhisperConfig
}

// OpenWhisper loads the configured model. Missing models return
// ErrModelUnavailable so callers can suggest a download.
func OpenWhisper(cfg WhisperConfig) (*WhisperRecognizer, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: no whisper model configured", ErrModelUnavailable)
	}
	if !IsModelDownloaded(cfg.ModelsDir, cfg.Model) {
		return nil, fmt.Errorf("%w: %s not found in %s (run `discordbridge stt download %s`)",
			ErrModelUnavailable, cfg.Model, cfg.ModelsDir, cfg.Model)
	}

	path := filepath.Join(cfg.ModelsDir, cfg.Model)
	L_info("stt: loading whisper model", "path", path)
	model, err := whisper.New(path)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}
	L_info("stt: whisper model loaded", "multilingual", model.IsMultilingual())
	return &WhisperRecognizer{model: model, config: cfg}, nil
}

// Recognize implements Recognizer. Inference is serialized on the model.
func (w *WhisperRecognizer) Recognize(ctx context.Context, samples []float32) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}

	wctx, err := w.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("create whisper context: %w", err)
	}
	lang := w.config.Language
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		L_warn("stt: failed to set language", "language", lang, "error", err)
	}
	if w.config.Threads > 0 {
		wctx.SetThreads(w.config.Threads)
	}

	L_debug("stt: recognizing", "samples", len(samples), "seconds", float64(len(samples))/targetSampleRate)
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper process: %w", err)
	}

	var text strings.Builder
	for {
		seg, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("get segment: %w", err)
		}
		text.WriteString(seg.Text)
	}
	return strings.TrimSpace(text.String()), ctx.Err()
}

// Close releases the model.
func (w *WhisperRecognizer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	L_debug("stt: closing whisper model")
	return w.model.Close()
}
