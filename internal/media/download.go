package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	. "github.com/roelfdiedericks/discordbridge/internal/logging"
)

// DownloadTimeout bounds a single attachment download.
const DownloadTimeout = 60 * time.Second

// MaxDownloadBytes caps attachment downloads (Discord's upload ceiling for
// boosted servers).
const MaxDownloadBytes = 100 * 1024 * 1024

// Downloader fetches attachment URLs. The zero value uses a default client.
type Downloader struct {
	Client *http.Client
	// MaxBytes overrides MaxDownloadBytes when positive.
	MaxBytes int64
}

func (d *Downloader) limit() int64 {
	if d != nil && d.MaxBytes > 0 {
		return d.MaxBytes
	}
	return MaxDownloadBytes
}

func (d *Downloader) client() *http.Client {
	if d != nil && d.Client != nil {
		return d.Client
	}
	return &http.Client{Timeout: DownloadTimeout}
}

func (d *Downloader) open(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := d.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// Fetch downloads url into memory.
func (d *Downloader) Fetch(ctx context.Context, url string) ([]byte, error) {
	body, err := d.open(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	limit := d.limit()
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file content: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("attachment exceeds %d bytes", limit)
	}
	return data, nil
}

// FetchToFile downloads url to path. A partial file is removed on failure.
func (d *Downloader) FetchToFile(ctx context.Context, url, path string) error {
	body, err := d.open(ctx, url)
	if err != nil {
		return err
	}
	defer body.Close()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	limit := d.limit()
	n, err := io.Copy(f, io.LimitReader(body, limit+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("write file: %w", err)
	}
	if n > limit {
		os.Remove(path)
		return fmt.Errorf("attachment exceeds %d bytes", limit)
	}
	L_trace("media: downloaded", "path", path, "bytes", n)
	return nil
}

// FetchImage downloads an image attachment and fits it within model limits.
func (d *Downloader) FetchImage(ctx context.Context, url string) (*ImageData, error) {
	data, err := d.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	img, err := Optimize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to optimize image: %w", err)
	}
	return img, nil
}
