// Package store implements the Directory Store: one durable value per
// logical map (bridge config, session->thread bindings, muted threads).
//
// Reads never fail. A missing or unreadable value loads as absent so the
// bridge can always start cold. Writes replace the whole value.
package store

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	. "github.com/roelfdiedericks/discordbridge/internal/logging"
	"github.com/roelfdiedericks/discordbridge/internal/paths"
)

// Store is a single durable value.
type Store[T any] interface {
	// Load returns the stored value and true, or the zero value and false
	// when nothing usable is stored.
	Load() (T, bool)
	// Save overwrites the stored value.
	Save(T) error
}

// BridgeConfig is the persisted bridge configuration.
type BridgeConfig struct {
	ChannelID      string `json:"channelId"`
	Enabled        bool   `json:"enabled"`
	MinDurationMs  int64  `json:"minDurationMs"`
	IncludePreview bool   `json:"includePreview"`
}

// DefaultBridgeConfig is used when no config has been saved yet.
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		Enabled:        true,
		MinDurationMs:  15000,
		IncludePreview: true,
	}
}

// UnmarshalJSON decodes over the defaults, so fields missing from an older
// or hand-edited document keep their default values.
func (c *BridgeConfig) UnmarshalJSON(data []byte) error {
	type plain BridgeConfig
	p := plain(DefaultBridgeConfig())
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = BridgeConfig(p)
	return nil
}

// Bindings maps session key to thread id.
type Bindings map[string]string

// Muted is the list of muted thread ids.
type Muted []string

// Backend names accepted by Open.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Directory groups the three stores the bridge persists.
type Directory struct {
	Config   Store[BridgeConfig]
	Bindings Store[Bindings]
	Muted    Store[Muted]

	// ConfigPath is the file backing Config, empty when the backend is not
	// file-per-map. Used for change watching.
	ConfigPath string

	closer io.Closer
}

// Open opens the Directory Store rooted at dir using the named backend.
func Open(dir, backend string) (*Directory, error) {
	if err := paths.EnsureDir(dir); err != nil {
		return nil, err
	}

	switch backend {
	case "", BackendJSON:
		cfgPath := filepath.Join(dir, paths.ConfigFile)
		L_debug("store: using json backend", "dir", dir)
		return &Directory{
			Config:     NewJSONFile[BridgeConfig](cfgPath),
			Bindings:   NewJSONFile[Bindings](filepath.Join(dir, paths.BindingsFile)),
			Muted:      NewJSONFile[Muted](filepath.Join(dir, paths.MutedFile)),
			ConfigPath: cfgPath,
		}, nil

	case BackendSQLite:
		db, err := OpenSQLite(filepath.Join(dir, paths.SQLiteFile))
		if err != nil {
			return nil, err
		}
		L_debug("store: using sqlite backend", "dir", dir)
		return &Directory{
			Config:   NewSQLiteKey[BridgeConfig](db, "config"),
			Bindings: NewSQLiteKey[Bindings](db, "bindings"),
			Muted:    NewSQLiteKey[Muted](db, "muted"),
			closer:   db,
		}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// NewMemoryDirectory returns a Directory that keeps everything in memory.
func NewMemoryDirectory() *Directory {
	return &Directory{
		Config:   &Memory[BridgeConfig]{},
		Bindings: &Memory[Bindings]{},
		Muted:    &Memory[Muted]{},
	}
}

// Close releases backend resources.
func (d *Directory) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}
