package stt

import (
	"os"
	"path/filepath"
)

var modelBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

// WhisperModel is a downloadable ggml whisper model.
type WhisperModel struct {
	Name      string // file name, e.g. "ggml-base.en.bin"
	Label     string
	SizeBytes int64 // approximate, for progress when the server sends no length
}

// URL is where the model is downloaded from.
func (m WhisperModel) URL() string {
	return modelBaseURL + m.Name
}

// WhisperModels is the download catalog.
var WhisperModels = []WhisperModel{
	{"ggml-tiny.en.bin", "Tiny English", 39_000_000},
	{"ggml-tiny.bin", "Tiny Multilingual", 39_000_000},
	{"ggml-base.en.bin", "Base English", 142_000_000},
	{"ggml-base.bin", "Base Multilingual", 142_000_000},
	{"ggml-small.en.bin", "Small English", 466_000_000},
	{"ggml-small.bin", "Small Multilingual", 466_000_000},
	{"ggml-medium.bin", "Medium Multilingual", 1_500_000_000},
	{"ggml-large-v3.bin", "Large V3 Multilingual", 3_000_000_000},
}

// GetModel returns the catalog entry for name, or nil.
func GetModel(name string) *WhisperModel {
	for i := range WhisperModels {
		if WhisperModels[i].Name == name {
			return &WhisperModels[i]
		}
	}
	return nil
}

// IsModelDownloaded reports whether a non-empty model file exists.
func IsModelDownloaded(modelsDir, name string) bool {
	if modelsDir == "" || name == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(modelsDir, name))
	if err != nil {
		return false
	}
	return !info.IsDir() && info.Size() > 0
}
