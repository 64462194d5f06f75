// package media drives the acquisition lifecycle. A Pending is a request
// to fetch one item; resolving it yields a Media, which rips itself in
// three phases (preprocess, download, postprocess). Composite kinds own
// child Pendings and resolve them in bounded batches so the first tracks
// start streaming before the last metadata request has gone out.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/nathom/streamrip-sub000/internal/ledger"
	"github.com/nathom/streamrip-sub000/internal/metadata"
	"github.com/nathom/streamrip-sub000/internal/shared"
)

// resolveBatchSize bounds how many children of a composite item are
// in-flight at once, independent of the global download cap.
const resolveBatchSize = 10

// Media is a resolved item ready to acquire itself.
type Media interface {
	Rip(ctx context.Context) error
}

// Pending is an unresolved request for one item. Resolve returns the
// Media to rip, or (nil, nil) when the item is already in the ledger.
type Pending interface {
	Resolve(ctx context.Context) (Media, error)
	// Item identifies the request for failure recording.
	Item() shared.FailedItem
}

// RipAll resolves and rips the top-level requests of one run. Failures
// are recorded and reported; they do not abort the siblings.
func RipAll(ctx context.Context, items []Pending, db *ledger.Ledger, logger *log.Logger) error {
	return ripPendings(ctx, items, db, logger)
}

// ripPendings resolves and rips children in bounded batches. A failed
// child is recorded and its siblings continue; the collected failures
// come back as a PartialFailureError.
func ripPendings(ctx context.Context, children []Pending, db *ledger.Ledger, logger *log.Logger) error {
	var mu sync.Mutex
	var failed []shared.FailedItem

	record := func(item shared.FailedItem, err error) {
		logger.Error("item failed",
			"source", item.Source, "type", item.MediaType, "id", item.ID, "err", err)
		db.SetFailed(item.Source, item.MediaType, item.ID)
		mu.Lock()
		failed = append(failed, item)
		mu.Unlock()
	}

	for start := 0; start < len(children); start += resolveBatchSize {
		// Cancellation stops admission of new batches; the running batch
		// finishes or abandons its temp files on its own.
		if err := ctx.Err(); err != nil {
			return err
		}
		g, gctx := errgroup.WithContext(ctx)
		for _, p := range children[start:min(start+resolveBatchSize, len(children))] {
			g.Go(func() error {
				m, err := p.Resolve(gctx)
				if err != nil {
					record(p.Item(), err)
					return nil
				}
				if m == nil {
					return nil
				}
				if err := m.Rip(gctx); err != nil {
					var partial *shared.PartialFailureError
					if errors.As(err, &partial) {
						// Nested composite already recorded its failures.
						mu.Lock()
						failed = append(failed, partial.Failed...)
						mu.Unlock()
						return nil
					}
					record(p.Item(), err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	if len(failed) > 0 {
		return &shared.PartialFailureError{Failed: failed}
	}
	return nil
}

// sourceFolder is the base destination directory for a source.
func sourceFolder(cfg *shared.Config, source string) string {
	folder := cfg.Downloads.Folder
	if cfg.Downloads.SourceSubdirectories {
		folder = filepath.Join(folder, capitalize(source))
	}
	return folder
}

// albumFolder renders and sanitizes the directory name for an album.
func albumFolder(cfg *shared.Config, source string, album *metadata.AlbumMetadata) string {
	name := album.FormatFolderPath(cfg.Filepaths.FolderFormat)
	name = metadata.CleanFilename(name, cfg.Filepaths.RestrictCharacters)
	name = metadata.TruncateRunes(name, cfg.Filepaths.TruncateTo)
	return filepath.Join(sourceFolder(cfg, source), name)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func parseTrack(source string, raw json.RawMessage) (*metadata.TrackMetadata, error) {
	switch source {
	case "qobuz":
		return metadata.ParseQobuzTrack(raw)
	case "deezer":
		return metadata.ParseDeezerTrack(raw)
	case "tidal":
		return metadata.ParseTidalTrack(raw)
	case "soundcloud":
		return metadata.ParseSoundcloudTrack(raw)
	}
	return nil, fmt.Errorf("no track parser for source %q", source)
}

func parseAlbum(source string, raw json.RawMessage) (*metadata.AlbumMetadata, error) {
	switch source {
	case "qobuz":
		return metadata.ParseQobuzAlbum(raw)
	case "deezer":
		return metadata.ParseDeezerAlbum(raw)
	case "tidal":
		return metadata.ParseTidalAlbum(raw)
	}
	return nil, fmt.Errorf("no album parser for source %q", source)
}

func albumTrackIDs(source string, raw json.RawMessage) ([]string, error) {
	switch source {
	case "qobuz":
		return metadata.QobuzAlbumTrackIDs(raw)
	case "deezer":
		return metadata.DeezerAlbumTrackIDs(raw)
	case "tidal":
		return metadata.TidalAlbumTrackIDs(raw)
	}
	return nil, fmt.Errorf("no album listing parser for source %q", source)
}
