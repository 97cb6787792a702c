package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/roelfdiedericks/discordbridge/internal/bridge"
	"github.com/roelfdiedericks/discordbridge/internal/host"
	"github.com/roelfdiedericks/discordbridge/internal/host/rpc"
	. "github.com/roelfdiedericks/discordbridge/internal/logging"
)

// RunCmd starts the agent subprocess and bridges it until it exits.
type RunCmd struct {
	Agent   string   `help:"Agent command (default from settings)." placeholder:"CMD"`
	WorkDir string   `help:"Working directory for the agent." type:"path" placeholder:"DIR"`
	Args    []string `arg:"" optional:"" passthrough:"" help:"Arguments for the agent command (after --)."`
}

func (c *RunCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.close()

	agentCmd := a.settings.Agent.Command
	agentArgs := a.settings.Agent.Args
	if c.Agent != "" {
		agentCmd = c.Agent
		agentArgs = nil
	}
	if len(c.Args) > 0 {
		agentArgs = c.Args
	}
	workDir := a.settings.Agent.WorkDir
	if c.WorkDir != "" {
		workDir = c.WorkDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	console := NewConsole(os.Stdin, os.Stdout)

	var br *bridge.Bridge
	agent := rpc.New(rpc.Options{
		Command: agentCmd,
		Args:    agentArgs,
		WorkDir: workDir,
		OnEvent: func(ctx context.Context, ev host.Event) error {
			return br.HandleEvent(ctx, ev)
		},
		OnText:   console.AgentText,
		OnNotify: console.Notice,
	})

	t := a.attach(agent)
	br = t.bridge
	defer t.close()
	console.Attach(agent, a.state, t.cmds)

	if a.dir.ConfigPath != "" {
		w, err := br.WatchConfig(a.dir.ConfigPath)
		if err != nil {
			L_warn("config watch unavailable", "error", err)
		} else {
			defer w.Stop()
		}
	}

	if err := agent.Start(ctx); err != nil {
		agent.Stop()
		return err
	}

	runErr := console.Run(ctx, agent.Done())
	SetShuttingDown()
	if err := agent.Stop(); err != nil {
		L_warn("agent stop failed", "error", err)
	}
	return runErr
}
