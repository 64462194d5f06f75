package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/nathom/streamrip-sub000/internal/metadata"
	"github.com/nathom/streamrip-sub000/internal/shared"
)

// artworkCache downloads cover art at most once per distinct URL, so the
// tracks of an album share one embeddable file instead of fetching the
// same image each.
type artworkCache struct {
	client *http.Client

	mu    sync.Mutex
	paths map[string]string
	saved map[string]bool
}

func newArtworkCache(client *http.Client) *artworkCache {
	return &artworkCache{
		client: client,
		paths:  make(map[string]string),
		saved:  make(map[string]bool),
	}
}

// prepare fetches the covers the configuration asks for: the full-size
// cover saved next to the audio files, and the embed-size cover at a
// temp path returned for the tagger.
func (c *artworkCache) prepare(ctx context.Context, covers *metadata.Covers, cfg *shared.ArtworkConfig, folder string) (string, error) {
	if covers == nil || covers.Empty() {
		return "", nil
	}

	if cfg.SaveArtwork {
		if entry, ok := covers.Largest(); ok && entry.URL != "" {
			if err := c.save(ctx, entry.URL, filepath.Join(folder, "cover.jpg")); err != nil {
				return "", fmt.Errorf("failed to save cover art: %w", err)
			}
		}
	}
	if !cfg.Embed {
		return "", nil
	}
	entry, ok := covers.GetSize(cfg.EmbedSize)
	if !ok || entry.URL == "" {
		return "", nil
	}
	return c.embed(ctx, entry.URL)
}

func (c *artworkCache) save(ctx context.Context, url, path string) error {
	c.mu.Lock()
	done := c.saved[url]
	c.saved[url] = true
	c.mu.Unlock()
	if done {
		return nil
	}
	return downloadFile(ctx, c.client, url, path)
}

func (c *artworkCache) embed(ctx context.Context, url string) (string, error) {
	c.mu.Lock()
	if path, ok := c.paths[url]; ok {
		c.mu.Unlock()
		return path, nil
	}
	c.mu.Unlock()

	path := filepath.Join(os.TempDir(), uuid.NewString()+".jpg")
	if err := downloadFile(ctx, c.client, url, path); err != nil {
		return "", fmt.Errorf("failed to fetch embed cover: %w", err)
	}
	c.mu.Lock()
	c.paths[url] = path
	c.mu.Unlock()
	return path, nil
}

func downloadFile(ctx context.Context, client *http.Client, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s returned status %d", url, resp.StatusCode)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
