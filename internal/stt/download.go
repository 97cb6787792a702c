package stt

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	. "github.com/roelfdiedericks/discordbridge/internal/logging"
	"github.com/roelfdiedericks/discordbridge/internal/paths"
)

// Progress receives download progress. total may be an estimate.
type Progress func(downloaded, total int64)

// DownloadModel fetches model into destDir via a temp file and rename, so
// an interrupted download never leaves a truncated model behind.
func DownloadModel(ctx context.Context, client *http.Client, model *WhisperModel, destDir string, progress Progress) (string, error) {
	if model == nil {
		return "", fmt.Errorf("model is nil")
	}
	if client == nil {
		client = &http.Client{}
	}

	dir, err := paths.ExpandTilde(destDir)
	if err != nil {
		return "", fmt.Errorf("expand path: %w", err)
	}
	if err := paths.EnsureDir(dir); err != nil {
		return "", err
	}
	destPath := filepath.Join(dir, model.Name)

	L_info("stt: downloading model", "model", model.Name, "url", model.URL())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, model.URL(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	total := resp.ContentLength
	if total <= 0 {
		total = model.SizeBytes
	}

	tmp, err := os.CreateTemp(dir, model.Name+".*.download")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			os.Remove(tmpPath)
		}
	}()

	cw := &countingWriter{w: tmp, total: total, progress: progress}
	if _, err := io.Copy(cw, resp.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("read response: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if progress != nil {
		progress(cw.n, total)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return "", fmt.Errorf("rename file: %w", err)
	}
	ok = true

	L_info("stt: download complete", "model", model.Name, "path", destPath, "bytes", cw.n)
	return destPath, nil
}

type countingWriter struct {
	w        io.Writer
	n        int64
	total    int64
	progress Progress
	last     time.Time
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	if c.progress != nil && time.Since(c.last) > time.Second {
		c.progress(c.n, c.total)
		c.last = time.Now()
	}
	return n, err
}
