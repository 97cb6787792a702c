package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/roelfdiedericks/discordbridge/internal/stt"
)

// STTCmd groups speech model commands.
type STTCmd struct {
	Download STTDownloadCmd `cmd:"" help:"Download a whisper model."`
	Models   STTModelsCmd   `cmd:"" help:"List downloadable whisper models."`
}

// STTDownloadCmd fetches a model into the models directory.
type STTDownloadCmd struct {
	Model string `arg:"" optional:"" help:"Model file name (default from settings)."`
}

func (c *STTDownloadCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.close()

	name := c.Model
	if name == "" {
		name = a.settings.STT.Model
	}
	model := stt.GetModel(name)
	if model == nil {
		return fmt.Errorf("unknown model %q (see `discordbridge stt models`)", name)
	}
	if stt.IsModelDownloaded(a.settings.STT.ModelsDir, model.Name) {
		fmt.Printf("%s is already downloaded.\n", model.Name)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Downloading %s (%s)...\n", model.Name, model.Label)
	lastPct := -1
	path, err := stt.DownloadModel(ctx, nil, model, a.settings.STT.ModelsDir, func(done, total int64) {
		if total <= 0 {
			return
		}
		pct := int(done * 100 / total)
		if pct > 100 {
			pct = 100
		}
		if pct != lastPct {
			lastPct = pct
			fmt.Fprintf(os.Stderr, "\r  %3d%%  %s / %s", pct, megabytes(done), megabytes(total))
		}
	})
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}
	fmt.Printf("Saved %s\n", path)
	return nil
}

// STTModelsCmd lists the catalog and what is installed.
type STTModelsCmd struct{}

func (c *STTModelsCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.close()

	var out strings.Builder
	for _, m := range stt.WhisperModels {
		mark := " "
		if stt.IsModelDownloaded(a.settings.STT.ModelsDir, m.Name) {
			mark = "*"
		}
		if m.Name == a.settings.STT.Model {
			mark += ">"
		} else {
			mark += " "
		}
		fmt.Fprintf(&out, "%s %-22s %-24s %s\n", mark, m.Name, m.Label, megabytes(m.SizeBytes))
	}
	out.WriteString("\n* downloaded  > configured\n")
	fmt.Print(out.String())
	return nil
}

func megabytes(n int64) string {
	return fmt.Sprintf("%.0f MB", float64(n)/1_000_000)
}
