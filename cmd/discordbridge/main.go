// discordbridge connects a coding agent session to a Discord thread.
package main

import (
	"errors"
	"os"

	"github.com/alecthomas/kong"

	. "github.com/roelfdiedericks/discordbridge/internal/logging"
)

const version = "0.3.0"

// Globals are flags shared by every command.
type Globals struct {
	Debug    bool   `help:"Enable debug logging." short:"d"`
	Settings string `help:"Path to settings.json (default: <data dir>/settings.json)." type:"path" placeholder:"PATH"`
}

// CLI is the command tree.
type CLI struct {
	Globals

	Run        RunCmd        `cmd:"" help:"Run a coding agent with the Discord bridge attached."`
	Setup      SetupCmd      `cmd:"" help:"Set the Discord channel for notifications."`
	Toggle     ToggleCmd     `cmd:"" help:"Turn Discord notifications on or off."`
	Config     ConfigCmd     `cmd:"" help:"Show the Discord configuration."`
	Unmute     UnmuteCmd     `cmd:"" help:"Resume notifications for a muted thread."`
	TestNotify TestNotifyCmd `cmd:"" name:"test-notify" help:"Send a test notification to a session's thread."`
	Rename     RenameCmd     `cmd:"" help:"Rename a session's thread."`
	STT        STTCmd        `cmd:"" name:"stt" help:"Speech-to-text model management."`
	Version    VersionCmd    `cmd:"" help:"Print the version."`
}

// exitError carries a failure whose message was already printed.
type exitError struct{ code int }

func (e exitError) Error() string { return "command failed" }

func main() {
	Init(&Config{Level: LevelInfo, TimeFormat: "15:04:05"})

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("discordbridge"),
		kong.Description("Bridge a coding agent session to a Discord thread."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)

	err := ctx.Run(&cli.Globals)
	var exit exitError
	if errors.As(err, &exit) {
		os.Exit(exit.code)
	}
	ctx.FatalIfErrorf(err)
}
