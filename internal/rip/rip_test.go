package rip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/nathom/streamrip-sub000/internal/clients"
	"github.com/nathom/streamrip-sub000/internal/shared"
	"github.com/nathom/streamrip-sub000/internal/urls"
)

type stubClient struct {
	source string
}

func (s *stubClient) Source() string { return s.source }

func (s *stubClient) MaxQuality() int { return 4 }

func (s *stubClient) Login(context.Context) error { return nil }

func (s *stubClient) LoggedIn() bool { return true }

func (s *stubClient) GetMetadata(context.Context, string, urls.MediaType) (json.RawMessage, error) {
	return nil, errors.New("not stubbed")
}

func (s *stubClient) Search(context.Context, urls.MediaType, string, int) ([]json.RawMessage, error) {
	return nil, errors.New("not stubbed")
}

func (s *stubClient) GetDownloadable(context.Context, string, int) (clients.Downloadable, error) {
	return nil, errors.New("not stubbed")
}

func newTestRip(t *testing.T) *Rip {
	t.Helper()
	cfg := shared.DefaultConfig()
	cfg.Database.DownloadsEnabled = true
	cfg.Database.DownloadsPath = filepath.Join(t.TempDir(), "downloads.db")
	cfg.Database.FailedEnabled = true
	cfg.Database.FailedPath = cfg.Database.DownloadsPath

	r, err := New(cfg, log.New(io.Discard))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func TestPendingDirectKinds(t *testing.T) {
	r := newTestRip(t)
	r.clients["qobuz"] = &stubClient{source: "qobuz"}

	cases := []struct {
		mediaType urls.MediaType
		want      string
	}{
		{urls.Track, "*media.PendingTrack"},
		{urls.Album, "*media.PendingAlbum"},
		{urls.Playlist, "*media.PendingPlaylist"},
		{urls.Artist, "*media.PendingArtist"},
		{urls.Label, "*media.PendingLabel"},
	}
	for _, tc := range cases {
		p, err := r.pending(context.Background(), urls.Parsed{
			Kind: urls.Direct, Source: "qobuz", MediaType: tc.mediaType, ID: "1",
		})
		if err != nil {
			t.Fatalf("%s: %v", tc.mediaType, err)
		}
		if got := fmt.Sprintf("%T", p); got != tc.want {
			t.Errorf("%s resolved to %s, want %s", tc.mediaType, got, tc.want)
		}
	}
}

func TestPendingUnknownSource(t *testing.T) {
	r := newTestRip(t)
	_, err := r.pending(context.Background(), urls.Parsed{
		Kind: urls.Direct, Source: "napster", MediaType: urls.Track, ID: "1",
	})
	if err == nil {
		t.Fatal("expected error for unknown source")
	}
}

func TestURLsNoneRecognized(t *testing.T) {
	r := newTestRip(t)
	err := r.URLs(context.Background(), []string{"definitely not a url"})
	if err == nil {
		t.Fatal("a run with zero recognized URLs cannot start")
	}
	var partial *shared.PartialFailureError
	if errors.As(err, &partial) {
		t.Fatal("zero URLs is a hard error, not a partial failure")
	}
}

func TestRipRecordsUnresolvableRequests(t *testing.T) {
	r := newTestRip(t)
	err := r.rip(context.Background(), []urls.Parsed{
		{Kind: urls.Direct, Source: "napster", MediaType: urls.Track, ID: "42"},
	})

	var partial *shared.PartialFailureError
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialFailureError, got %v", err)
	}
	if len(partial.Failed) != 1 || partial.Failed[0].ID != "42" {
		t.Fatalf("unexpected failures: %+v", partial.Failed)
	}
	failed := r.Failed()
	if len(failed) != 1 || failed[0].Source != "napster" {
		t.Fatalf("ledger recorded %+v", failed)
	}
}

func TestClientLoginOnce(t *testing.T) {
	r := newTestRip(t)
	stub := &stubClient{source: "qobuz"}
	r.clients["qobuz"] = stub

	c, err := r.client(context.Background(), "qobuz")
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if c != clients.Client(stub) {
		t.Fatal("registry did not reuse the existing client")
	}
}
