package main

import (
	"context"
	"fmt"

	"github.com/roelfdiedericks/discordbridge/internal/bridge"
	"github.com/roelfdiedericks/discordbridge/internal/commands"
	"github.com/roelfdiedericks/discordbridge/internal/config"
	"github.com/roelfdiedericks/discordbridge/internal/discord"
	"github.com/roelfdiedericks/discordbridge/internal/host"
	"github.com/roelfdiedericks/discordbridge/internal/llm"
	. "github.com/roelfdiedericks/discordbridge/internal/logging"
	"github.com/roelfdiedericks/discordbridge/internal/media"
	"github.com/roelfdiedericks/discordbridge/internal/state"
	"github.com/roelfdiedericks/discordbridge/internal/store"
	"github.com/roelfdiedericks/discordbridge/internal/stt"
	"github.com/roelfdiedericks/discordbridge/internal/threads"
)

// app is the loaded settings and Directory Store shared by all commands.
type app struct {
	settings *config.Settings
	dir      *store.Directory
	state    *state.State
}

func (g *Globals) open() (*app, error) {
	settings, err := config.Load(g.Settings)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	level := ParseLevel(settings.LogLevel)
	if g.Debug {
		level = LevelDebug
	}
	SetLevel(level)

	dir, err := store.Open(settings.DataDir, settings.StoreBackend)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &app{settings: settings, dir: dir, state: state.New(dir)}, nil
}

func (a *app) close() {
	if err := a.dir.Close(); err != nil {
		L_warn("store close failed", "error", err)
	}
}

// attached is a bridge with its gateway, command registry and speech model.
type attached struct {
	bridge  *bridge.Bridge
	gateway *discord.Gateway
	cmds    *commands.Manager
	voice   *stt.Loader
}

func (a *app) attach(h host.Host) *attached {
	gw := discord.NewGateway(a.state)
	token, _ := a.settings.Token()

	s := a.settings.STT
	loader := stt.NewLoader(func() (stt.Recognizer, error) {
		rec, err := stt.OpenWhisper(stt.WhisperConfig{
			ModelsDir: s.ModelsDir,
			Model:     s.Model,
			Language:  s.Language,
			Threads:   s.Threads,
		})
		if err != nil {
			return nil, err
		}
		return rec, nil
	})
	downloader := &media.Downloader{}
	pipeline := stt.NewPipeline(downloader, &stt.Converter{FFmpegPath: s.FFmpegPath}, loader)

	b := bridge.New(bridge.Options{
		State:       a.state,
		Conn:        gw,
		Host:        h,
		Token:       token,
		TokenEnv:    a.settings.TokenEnv,
		Voice:       pipeline,
		Images:      downloader,
		Titler:      a.titler(),
		DeleteGrace: a.settings.DeleteGrace(),
	})
	cmds := commands.NewManager()
	b.RegisterCommands(cmds)
	return &attached{bridge: b, gateway: gw, cmds: cmds, voice: loader}
}

// titler returns the configured title model, or nil.
func (a *app) titler() threads.Titler {
	l := a.settings.LLM
	p, err := llm.New(llm.Config{
		Provider: l.Provider,
		APIKey:   l.ResolveAPIKey(),
		Model:    l.Model,
		BaseURL:  l.BaseURL,
	})
	if err != nil {
		L_warn("title model unavailable, auto naming disabled", "error", err)
		return nil
	}
	if p == nil {
		return nil
	}
	L_debug("title model ready", "provider", p.Name())
	return p
}

func (t *attached) close() {
	if err := t.bridge.Close(); err != nil {
		L_warn("bridge close failed", "error", err)
	}
	if err := t.voice.Close(); err != nil {
		L_warn("speech model close failed", "error", err)
	}
}

// connect starts the bridge for sess as a session start would.
func (t *attached) connect(ctx context.Context, sess host.SessionInfo) {
	t.bridge.HandleEvent(ctx, host.Event{Kind: host.EventSessionStart, Session: sess})
}
