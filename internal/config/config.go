// Package config loads process settings for the bridge. These are distinct
// from the Directory Store config (channel, enabled, thresholds), which is
// owned by the state package and edited through bridge commands.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"

	. "github.com/roelfdiedericks/discordbridge/internal/logging"
	"github.com/roelfdiedericks/discordbridge/internal/paths"
)

// DefaultTokenEnv is the environment variable holding the bot token.
const DefaultTokenEnv = "DISCORD_BOT_TOKEN"

// Settings is the optional settings.json in the data directory.
type Settings struct {
	DataDir            string        `json:"dataDir"`
	StoreBackend       string        `json:"storeBackend"` // "json" or "sqlite"
	TokenEnv           string        `json:"tokenEnv"`
	LogLevel           string        `json:"logLevel"`
	DeleteGraceSeconds int           `json:"deleteGraceSeconds"`
	STT                STTSettings   `json:"stt"`
	LLM                LLMSettings   `json:"llm"`
	Agent              AgentSettings `json:"agent"`
}

// STTSettings configures local voice transcription.
type STTSettings struct {
	ModelsDir  string `json:"modelsDir"`
	Model      string `json:"model"`    // e.g. "ggml-base.en.bin"
	Language   string `json:"language"` // "en", "auto" or "" (auto), ...
	Threads    uint   `json:"threads"`  // 0 = whisper default
	FFmpegPath string `json:"ffmpegPath"`
}

// LLMSettings configures the title generator used for thread auto-naming.
type LLMSettings struct {
	Provider  string `json:"provider"` // "anthropic", "openai" or "" (disabled)
	APIKey    string `json:"apiKey"`
	APIKeyEnv string `json:"apiKeyEnv"`
	Model     string `json:"model"`
	BaseURL   string `json:"baseURL"`
}

// AgentSettings is the coding agent subprocess driven by `run`.
type AgentSettings struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	WorkDir string   `json:"workDir"`
}

// Defaults returns the settings used for any field left unset.
func Defaults() Settings {
	return Settings{
		StoreBackend:       "json",
		TokenEnv:           DefaultTokenEnv,
		LogLevel:           "info",
		DeleteGraceSeconds: 5,
		STT: STTSettings{
			Model:      "ggml-base.en.bin",
			Language:   "en",
			FFmpegPath: "ffmpeg",
		},
		Agent: AgentSettings{
			Command: "ai",
			Args:    []string{"--mode", "rpc"},
		},
	}
}

// Load reads settings from path. A missing file yields defaults. Empty path
// means <data dir>/settings.json.
func Load(path string) (*Settings, error) {
	if path == "" {
		p, err := paths.DataPath(paths.SettingsFile)
		if err != nil {
			return nil, err
		}
		path = p
	}

	var s Settings
	var set explicitSettings
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if err := json.Unmarshal(data, &set); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		L_debug("config: loaded settings", "path", path)
	case os.IsNotExist(err):
		L_debug("config: no settings file, using defaults", "path", path)
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := mergo.Merge(&s, Defaults()); err != nil {
		return nil, fmt.Errorf("merge defaults: %w", err)
	}
	set.apply(&s)

	if err := s.resolvePaths(); err != nil {
		return nil, err
	}
	return &s, nil
}

// explicitSettings records fields whose zero value is meaningful, so an
// explicit "" or [] in the file survives the defaults merge.
type explicitSettings struct {
	STT struct {
		Language *string `json:"language"` // "" = auto-detect
	} `json:"stt"`
	Agent struct {
		Args *[]string `json:"args"`
	} `json:"agent"`
}

func (e explicitSettings) apply(s *Settings) {
	if e.STT.Language != nil {
		s.STT.Language = *e.STT.Language
	}
	if e.Agent.Args != nil {
		s.Agent.Args = *e.Agent.Args
	}
}

func (s *Settings) resolvePaths() error {
	var err error
	if s.DataDir == "" {
		if s.DataDir, err = paths.BaseDir(); err != nil {
			return err
		}
	} else if s.DataDir, err = paths.ExpandTilde(s.DataDir); err != nil {
		return err
	}

	if s.STT.ModelsDir == "" {
		s.STT.ModelsDir = filepath.Join(s.DataDir, "stt", "whisper")
	} else if s.STT.ModelsDir, err = paths.ExpandTilde(s.STT.ModelsDir); err != nil {
		return err
	}

	if s.Agent.WorkDir != "" {
		if s.Agent.WorkDir, err = paths.ExpandTilde(s.Agent.WorkDir); err != nil {
			return err
		}
	}
	return nil
}

// Token returns the bot token from the configured environment variable.
func (s *Settings) Token() (string, bool) {
	tok := os.Getenv(s.TokenEnv)
	return tok, tok != ""
}

// DeleteGrace is the pause between the delete confirmation and the delete.
func (s *Settings) DeleteGrace() time.Duration {
	return time.Duration(s.DeleteGraceSeconds) * time.Second
}

// ResolveAPIKey returns the explicit key, or the one from APIKeyEnv.
func (l LLMSettings) ResolveAPIKey() string {
	if l.APIKey != "" {
		return l.APIKey
	}
	if l.APIKeyEnv != "" {
		return os.Getenv(l.APIKeyEnv)
	}
	switch l.Provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}
