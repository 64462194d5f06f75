package clients

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
)

// ProgressFunc receives byte counts as a transfer advances. total is -1
// when the server did not announce a length.
type ProgressFunc func(written, total int64)

// Downloadable is a ready-to-fetch stream handle produced by a client for
// one (item, quality) pair. Implementations hide whatever protection the
// service applies to the bytes in transit.
type Downloadable interface {
	// Size returns the expected byte count, fetching it if necessary.
	Size(ctx context.Context) (int64, error)
	// Extension is the container extension without the dot.
	Extension() string
	// Download writes the decoded audio to path. The file appears at path
	// only after the transfer completed; partial data lives in a
	// temporary sibling that is removed on failure.
	Download(ctx context.Context, path string, progress ProgressFunc) error
}

// progressWriter forwards counts to a ProgressFunc as bytes pass through.
type progressWriter struct {
	w        io.Writer
	total    int64
	written  int64
	progress ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	if p.progress != nil {
		p.progress(p.written, p.total)
	}
	return n, err
}

// writeAtomic streams r into path via a uniquely named temporary file in
// the same directory, renaming only on success.
func writeAtomic(path string, r io.Reader, total int64, progress ProgressFunc) error {
	tmp := filepath.Join(filepath.Dir(path), "."+uuid.NewString()+".part")
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	pw := &progressWriter{w: f, total: total, progress: progress}
	_, err = io.Copy(pw, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("download to %s failed: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// BasicDownloadable fetches an unprotected URL. Qobuz and SoundCloud
// original downloads use it directly.
type BasicDownloadable struct {
	Client    *http.Client
	URL       string
	Ext       string
	SizeHint  int64
	sizeKnown bool
}

func (d *BasicDownloadable) Extension() string { return d.Ext }

func (d *BasicDownloadable) Size(ctx context.Context) (int64, error) {
	if d.sizeKnown || d.SizeHint > 0 {
		return d.SizeHint, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, d.URL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	size, _ := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	d.SizeHint = size
	d.sizeKnown = true
	return size, nil
}

func (d *BasicDownloadable) Download(ctx context.Context, path string, progress ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return err
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream fetch returned status %d", resp.StatusCode)
	}
	return writeAtomic(path, resp.Body, resp.ContentLength, progress)
}
