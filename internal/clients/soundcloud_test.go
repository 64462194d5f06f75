package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/nathom/streamrip-sub000/internal/metadata"
	"github.com/nathom/streamrip-sub000/internal/shared"
	"github.com/nathom/streamrip-sub000/internal/urls"
)

func newTestSoundcloud(t *testing.T, handler http.Handler) *Soundcloud {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := shared.DefaultConfig()
	cfg.Soundcloud.ClientID = "testclientid"
	cfg.Soundcloud.AppVersion = "1700000000"

	c := NewSoundcloud(cfg, log.New(io.Discard))
	c.api = srv.Client()
	c.stream = srv.Client()
	c.apiBase = srv.URL
	c.stockURL = srv.URL + "/"
	return c
}

func TestSoundcloudLoginScrape(t *testing.T) {
	var srvURL string
	c := newTestSoundcloud(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			fmt.Fprintf(w, `<html>
<script crossorigin src="%s/assets/0-old.js"></script>
<script crossorigin src="%s/assets/1-latest.js"></script>
<script>window.__sc_version="1712345678"</script>
</html>`, srvURL, srvURL)
		case "/assets/0-old.js":
			fmt.Fprint(w, `var stale=1;`)
		case "/assets/1-latest.js":
			fmt.Fprint(w, `...,client_id: "FreshClientId123",...`)
		case "/announcements":
			// Force a rescrape by rejecting the cached credentials.
			w.WriteHeader(http.StatusUnauthorized)
		default:
			http.NotFound(w, r)
		}
	}))
	srvURL = c.apiBase

	if err := c.Login(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.cfg.Soundcloud.ClientID != "FreshClientId123" {
		t.Errorf("client id = %q, want the one from the last script", c.cfg.Soundcloud.ClientID)
	}
	if c.cfg.Soundcloud.AppVersion != "1712345678" {
		t.Errorf("app version = %q", c.cfg.Soundcloud.AppVersion)
	}
	if !c.cfg.Modified() {
		t.Error("config should be marked modified after a rescrape")
	}
}

func TestSoundcloudRequestParams(t *testing.T) {
	c := newTestSoundcloud(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("client_id") != "testclientid" ||
			q.Get("app_version") != "1700000000" ||
			q.Get("app_locale") != "en" {
			t.Errorf("missing identification params: %v", q)
		}
		fmt.Fprint(w, `{"id":123}`)
	}))

	if _, err := c.GetMetadata(context.Background(), "123", urls.Track); err != nil {
		t.Fatal(err)
	}
}

func TestSoundcloudPlaylistHydration(t *testing.T) {
	c := newTestSoundcloud(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/playlists/900":
			// Track 2 is a stub without media and needs hydration.
			fmt.Fprint(w, `{"id":900,"title":"Mix",
				"tracks":[
					{"id":1,"title":"Full","media":{"transcodings":[]}},
					{"id":2},
					{"id":3,"title":"Also Full","media":{"transcodings":[]}}
				]}`)
		case "/tracks":
			if ids := r.URL.Query().Get("ids"); ids != "2" {
				t.Errorf("hydration batch ids = %q, want only the stub", ids)
			}
			fmt.Fprint(w, `[{"id":2,"title":"Hydrated","media":{"transcodings":[]}}]`)
		default:
			http.NotFound(w, r)
		}
	}))

	body, err := c.GetMetadata(context.Background(), "900", urls.Playlist)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Tracks []struct {
			ID    json.Number     `json:"id"`
			Title string          `json:"title"`
			Media json.RawMessage `json:"media"`
		} `json:"tracks"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.Tracks) != 3 {
		t.Fatalf("tracks = %d, want 3", len(doc.Tracks))
	}
	if doc.Tracks[1].Title != "Hydrated" || len(doc.Tracks[1].Media) == 0 {
		t.Errorf("stub track was not hydrated: %+v", doc.Tracks[1])
	}
	if doc.Tracks[0].Title != "Full" || doc.Tracks[2].Title != "Also Full" {
		t.Error("track order was not preserved")
	}
}

func TestSoundcloudGetDownloadableMarkers(t *testing.T) {
	c := newTestSoundcloud(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tracks/77/download":
			fmt.Fprint(w, `{"redirectUri":"https://cdn/original.flac"}`)
		case "/transcode/77":
			fmt.Fprint(w, `{"url":"https://cdn/playlist.m3u8"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	c.loggedIn = true
	ctx := context.Background()

	if _, err := c.GetDownloadable(ctx, "77|"+metadata.SoundcloudNonStreamable, 0); !errors.Is(err, shared.ErrNonStreamable) {
		t.Errorf("non-streamable marker: got %v", err)
	}
	if _, err := c.GetDownloadable(ctx, "77|"+metadata.SoundcloudNotResolved, 0); err == nil {
		t.Error("unresolved marker should error")
	}
	if _, err := c.GetDownloadable(ctx, "justanid", 0); err == nil {
		t.Error("id without separator should error")
	}

	dl, err := c.GetDownloadable(ctx, "77|"+metadata.SoundcloudOriginalDownload, 0)
	if err != nil {
		t.Fatal(err)
	}
	if dl.Extension() != "flac" {
		t.Errorf("original download extension = %q", dl.Extension())
	}

	dl, err = c.GetDownloadable(ctx, "77|"+c.apiBase+"/transcode/77", 0)
	if err != nil {
		t.Fatal(err)
	}
	if dl.Extension() != "mp3" {
		t.Errorf("hls download extension = %q", dl.Extension())
	}
	if sd, ok := dl.(*SoundcloudDownloadable); !ok || sd.URL != "https://cdn/playlist.m3u8" {
		t.Errorf("downloadable = %#v", dl)
	}
}

func TestParseM3U(t *testing.T) {
	playlist := `#EXTM3U
#EXT-X-VERSION:6
#EXTINF:9.98,
https://cdn/seg0.mp3
#EXTINF:9.98,
https://cdn/seg1.mp3

#EXT-X-ENDLIST
`
	got := parseM3U(playlist)
	want := []string{"https://cdn/seg0.mp3", "https://cdn/seg1.mp3"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("segments = %v, want %v", got, want)
	}
}

func TestSoundcloudHLSDownload(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/playlist.m3u8":
			fmt.Fprintf(w, "#EXTM3U\n%s/seg0\n%s/seg1\n#EXT-X-ENDLIST\n", srvURL, srvURL)
		case "/seg0":
			fmt.Fprint(w, "first-")
		case "/seg1":
			fmt.Fprint(w, "second")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	dir := t.TempDir()
	path := filepath.Join(dir, "track.mp3")
	dl := &SoundcloudDownloadable{Client: srv.Client(), URL: srv.URL + "/playlist.m3u8"}

	var lastWritten int64
	err := dl.Download(context.Background(), path, func(written, total int64) {
		lastWritten = written
		if total != -1 {
			t.Errorf("hls progress total = %d, want -1", total)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "first-second" {
		t.Errorf("file contents = %q", data)
	}
	if lastWritten != int64(len("first-second")) {
		t.Errorf("final progress = %d", lastWritten)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}
