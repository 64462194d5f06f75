package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/nathom/streamrip-sub000/internal/clients"
	"github.com/nathom/streamrip-sub000/internal/converter"
	"github.com/nathom/streamrip-sub000/internal/ledger"
	"github.com/nathom/streamrip-sub000/internal/metadata"
	"github.com/nathom/streamrip-sub000/internal/shared"
	"github.com/nathom/streamrip-sub000/internal/tagger"
	"github.com/nathom/streamrip-sub000/internal/urls"
)

// PendingTrack is a request for one track. Parents hand it whatever
// context they already hold (a parsed parent album, a prefetched raw
// document, a destination folder) so resolving never repeats work.
type PendingTrack struct {
	ID string

	// Raw, when set, is the prefetched track document; no metadata call
	// is made. SoundCloud playlists use this, the hydrated entries carry
	// everything a separate fetch would return.
	Raw json.RawMessage
	// Meta, when set, is fully parsed metadata from the parent; both the
	// metadata call and the parse are skipped.
	Meta *metadata.TrackMetadata
	// Album, when set, replaces the album view embedded in the track
	// document so siblings share the parent's folder, totals and covers.
	Album *metadata.AlbumMetadata

	// Folder is the destination directory decided by the parent. Empty
	// means this track was requested on its own and derives a singles
	// destination from its own album metadata.
	Folder string

	// Playlist context.
	PlaylistName string
	Position     int

	Client clients.Client
	Cfg    *shared.Config
	DB     *ledger.Ledger
	Log    *log.Logger
	Covers *artworkCache
}

func (p *PendingTrack) Item() shared.FailedItem {
	return shared.FailedItem{Source: p.Client.Source(), MediaType: string(urls.Track), ID: p.ID}
}

func (p *PendingTrack) Resolve(ctx context.Context) (Media, error) {
	source := p.Client.Source()
	if p.DB.Downloaded(p.ID) {
		p.Log.Info("skipping already downloaded track", "source", source, "id", p.ID)
		return nil, nil
	}

	meta := p.Meta
	raw := p.Raw
	if meta == nil {
		if raw == nil {
			var err error
			raw, err = p.Client.GetMetadata(ctx, p.ID, urls.Track)
			if err != nil {
				return nil, err
			}
		}
		var err error
		meta, err = parseTrack(source, raw)
		if err != nil {
			return nil, err
		}
	}
	if p.Album != nil {
		meta.Album = p.Album
	}

	if p.PlaylistName != "" {
		if p.Cfg.Metadata.SetPlaylistToAlbum {
			meta.Album.Album = p.PlaylistName
		}
		if p.Cfg.Metadata.RenumberPlaylistTracks && p.Position > 0 {
			meta.TrackNumber = p.Position
		}
	}

	quality := metadata.NegotiateQuality(
		p.Cfg.SourceQuality(source), p.Client.MaxQuality(), meta.Info.Quality)

	downloadID := p.ID
	if source == "soundcloud" {
		var err error
		downloadID, err = metadata.SoundcloudDownloadID(raw)
		if err != nil {
			return nil, err
		}
	}

	folder := p.Folder
	if folder == "" {
		folder = p.singlesFolder(meta.Album)
	}
	covers := p.Covers
	if covers == nil {
		covers = newArtworkCache(clients.NewStreamClient())
	}

	// The downloadable and the cover art come over different hosts; fetch
	// them concurrently. Artwork failures degrade to an untagged cover,
	// they never fail the track.
	var dl clients.Downloadable
	var coverPath string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		dl, err = p.Client.GetDownloadable(gctx, downloadID, quality)
		return err
	})
	g.Go(func() error {
		path, err := covers.prepare(gctx, meta.Album.Covers, &p.Cfg.Artwork, folder)
		if err != nil {
			p.Log.Warn("failed to fetch cover art", "id", p.ID, "err", err)
			return nil
		}
		coverPath = path
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Track{
		Meta:         meta,
		Downloadable: dl,
		Folder:       folder,
		CoverPath:    coverPath,
		cfg:          p.Cfg,
		db:           p.DB,
		log:          p.Log,
	}, nil
}

// singlesFolder derives the destination for a track requested outside
// any collection.
func (p *PendingTrack) singlesFolder(album *metadata.AlbumMetadata) string {
	folder := sourceFolder(p.Cfg, p.Client.Source())
	if p.Cfg.Filepaths.AddSinglesToFolder {
		return albumFolder(p.Cfg, p.Client.Source(), album)
	}
	return folder
}

// Track is the only leaf Media kind; it owns the Downloadable.
type Track struct {
	Meta         *metadata.TrackMetadata
	Downloadable clients.Downloadable
	Folder       string
	CoverPath    string

	cfg  *shared.Config
	db   *ledger.Ledger
	log  *log.Logger
	path string
}

func (t *Track) Rip(ctx context.Context) error {
	if err := t.preprocess(); err != nil {
		return err
	}
	if err := t.download(ctx); err != nil {
		return err
	}
	return t.postprocess(ctx)
}

// preprocess creates the destination directory and derives the final
// file path from the configured template.
func (t *Track) preprocess() error {
	folder := t.Folder
	if t.cfg.Downloads.DiscSubdirectories && t.Meta.Album.DiscTotal > 1 {
		folder = filepath.Join(folder, fmt.Sprintf("Disc %d", t.Meta.DiscNumber))
	}
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return fmt.Errorf("failed to create destination folder: %w", err)
	}

	name := t.Meta.FormatTrackPath(t.cfg.Filepaths.TrackFormat)
	name = metadata.CleanFilename(name, t.cfg.Filepaths.RestrictCharacters)
	name = metadata.TruncateRunes(name, t.cfg.Filepaths.TruncateTo)
	t.path = filepath.Join(folder, name+"."+t.Downloadable.Extension())
	return nil
}

// download streams the track under the global cap, retrying a failed
// transfer once before giving up.
func (t *Track) download(ctx context.Context) error {
	release, err := acquireDownload(ctx, &t.cfg.Downloads)
	if err != nil {
		return err
	}
	defer release()

	t.log.Info("downloading", "title", t.Meta.Title, "artist", t.Meta.Artist)
	if err := t.Downloadable.Download(ctx, t.path, nil); err != nil {
		t.log.Warn("retrying failed download", "title", t.Meta.Title, "err", err)
		if err := t.Downloadable.Download(ctx, t.path, nil); err != nil {
			return fmt.Errorf("download failed after retry: %w", err)
		}
	}
	return nil
}

// postprocess tags the finished file, converts it when enabled, and
// records completion in the ledger.
func (t *Track) postprocess(ctx context.Context) error {
	coverPath := ""
	if t.cfg.Artwork.Embed {
		coverPath = t.CoverPath
	}
	if err := tagger.Tag(t.path, t.Meta, coverPath); err != nil {
		return fmt.Errorf("failed to tag %s: %w", t.path, err)
	}
	if t.cfg.Conversion.Enabled {
		newPath, err := converter.Convert(ctx, t.path, &t.cfg.Conversion)
		if err != nil {
			return fmt.Errorf("failed to convert %s: %w", t.path, err)
		}
		t.path = newPath
	}
	t.db.SetDownloaded(t.Meta.Info.ID)
	return nil
}

// Path returns the final location of the ripped file. Valid after Rip.
func (t *Track) Path() string { return t.path }
