package media

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/nathom/streamrip-sub000/internal/clients"
	"github.com/nathom/streamrip-sub000/internal/metadata"
	"github.com/nathom/streamrip-sub000/internal/shared"
	"github.com/nathom/streamrip-sub000/internal/urls"
)

func testTrackMeta(id string) *metadata.TrackMetadata {
	return &metadata.TrackMetadata{
		Info:        metadata.TrackInfo{ID: id, Quality: 2},
		Title:       "Weird Fishes",
		Artist:      "Radiohead",
		TrackNumber: 4,
		DiscNumber:  1,
		Album: &metadata.AlbumMetadata{
			Info:        metadata.AlbumInfo{ID: "album-1", Label: "XL"},
			Album:       "In Rainbows",
			AlbumArtist: "Radiohead",
			Year:        "2007",
			TrackTotal:  10,
			DiscTotal:   1,
		},
	}
}

func TestPendingTrackLedgerSkip(t *testing.T) {
	ms := newMemStore()
	ms.SetDownloaded("track-1")

	fetched := false
	p := &PendingTrack{
		ID: "track-1",
		Client: &stubClient{
			source: "qobuz",
			metadata: func(context.Context, string, urls.MediaType) (json.RawMessage, error) {
				fetched = true
				return nil, errors.New("should not be called")
			},
		},
		Cfg: shared.DefaultConfig(),
		DB:  memLedger(ms),
		Log: quietLogger(),
	}

	m, err := p.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m != nil {
		t.Fatal("ledger hit should resolve to nil Media")
	}
	if fetched {
		t.Fatal("metadata was fetched for an already downloaded track")
	}
}

func TestPendingTrackResolvePlaylistContext(t *testing.T) {
	cfg := shared.DefaultConfig()
	cfg.Metadata.SetPlaylistToAlbum = true
	cfg.Metadata.RenumberPlaylistTracks = true
	cfg.Qobuz.Quality = 3

	var gotQuality int
	dl := &stubDownloadable{ext: "flac"}
	p := &PendingTrack{
		ID:           "track-1",
		Meta:         testTrackMeta("track-1"),
		PlaylistName: "Sunday Mix",
		Position:     7,
		Folder:       t.TempDir(),
		Client: &stubClient{
			source:     "qobuz",
			maxQuality: 3,
			download: func(_ context.Context, _ string, quality int) (clients.Downloadable, error) {
				gotQuality = quality
				return dl, nil
			},
		},
		Cfg: cfg,
		DB:  memLedger(newMemStore()),
		Log: quietLogger(),
	}

	m, err := p.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	track := m.(*Track)
	if track.Meta.Album.Album != "Sunday Mix" {
		t.Errorf("album = %q, want playlist name", track.Meta.Album.Album)
	}
	if track.Meta.TrackNumber != 7 {
		t.Errorf("track number = %d, want playlist position", track.Meta.TrackNumber)
	}
	// The item itself only carries quality 2, so the request is capped
	// below the configured tier.
	if gotQuality != 2 {
		t.Errorf("requested quality = %d, want 2", gotQuality)
	}
}

func ripTestTrack(t *testing.T, dl *stubDownloadable, ms *memStore) (*Track, error) {
	t.Helper()
	resetDownloadGate(t)
	cfg := shared.DefaultConfig()
	cfg.Artwork.Embed = false
	cfg.Conversion.Enabled = false

	track := &Track{
		Meta:         testTrackMeta("track-1"),
		Downloadable: dl,
		Folder:       t.TempDir(),
		cfg:          cfg,
		db:           memLedger(ms),
		log:          quietLogger(),
	}
	return track, track.Rip(context.Background())
}

func TestTrackRipWritesTaggedFile(t *testing.T) {
	ms := newMemStore()
	dl := &stubDownloadable{ext: "mp3", data: make([]byte, 1024)}

	track, err := ripTestTrack(t, dl, ms)
	if err != nil {
		t.Fatalf("Rip: %v", err)
	}
	info, err := os.Stat(track.Path())
	if err != nil {
		t.Fatalf("ripped file missing: %v", err)
	}
	// The tagger prepends an ID3 header, so the file grows past the
	// stream payload.
	if info.Size() <= 1024 {
		t.Errorf("file not tagged, size %d", info.Size())
	}
	if done, _ := ms.Downloaded("track-1"); !done {
		t.Error("completion not recorded in ledger")
	}
}

func TestTrackDownloadRetries(t *testing.T) {
	ms := newMemStore()
	dl := &stubDownloadable{ext: "mp3", data: make([]byte, 64), failures: 1}

	if _, err := ripTestTrack(t, dl, ms); err != nil {
		t.Fatalf("Rip should recover from one failed transfer: %v", err)
	}
	if dl.callCount() != 2 {
		t.Errorf("download attempts = %d, want 2", dl.callCount())
	}
}

func TestTrackDownloadRetryExhausted(t *testing.T) {
	ms := newMemStore()
	dl := &stubDownloadable{ext: "mp3", failures: 5}

	_, err := ripTestTrack(t, dl, ms)
	if err == nil {
		t.Fatal("expected failure after exhausted retry")
	}
	if dl.callCount() != 2 {
		t.Errorf("download attempts = %d, want 2", dl.callCount())
	}
	if done, _ := ms.Downloaded("track-1"); done {
		t.Error("failed track recorded as downloaded")
	}
}
