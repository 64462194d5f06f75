package clients

import (
	"bytes"
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

	"github.com/nathom/streamrip-sub000/internal/shared"
	"github.com/nathom/streamrip-sub000/internal/urls"
)

func newTestDeezer(t *testing.T, handler http.Handler) *Deezer {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := shared.DefaultConfig()
	cfg.Deezer.ARL = "test-arl-cookie"

	c := NewDeezer(cfg, log.New(io.Discard))
	c.api = srv.Client()
	jar := c.gw.Jar
	c.gw = srv.Client()
	c.gw.Jar = jar
	c.stream = srv.Client()
	c.apiBase = srv.URL
	c.gwBase = srv.URL + "/ajax/gw-light.php"
	c.mediaBase = srv.URL + "/v1/get_url"
	return c
}

func TestDeezerLogin(t *testing.T) {
	c := newTestDeezer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ajax/gw-light.php" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("method") != "deezer.getUserData" || q.Get("api_token") != "null" ||
			q.Get("input") != "3" || q.Get("api_version") != "1.0" {
			t.Errorf("unexpected gateway params: %v", q)
		}
		fmt.Fprint(w, `{"error":[],"results":{
			"USER":{"USER_ID":42,"OPTIONS":{"license_token":"lic-token"}},
			"checkForm":"form-token"}}`)
	}))

	if err := c.Login(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !c.LoggedIn() || c.apiToken != "form-token" || c.licenseToken != "lic-token" {
		t.Errorf("login state: loggedIn=%v apiToken=%q licenseToken=%q",
			c.loggedIn, c.apiToken, c.licenseToken)
	}
}

func TestDeezerLoginRejectedARL(t *testing.T) {
	c := newTestDeezer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":[],"results":{"USER":{"USER_ID":0}}}`)
	}))
	err := c.Login(context.Background())
	if !errors.Is(err, shared.ErrAuthentication) {
		t.Errorf("expected ErrAuthentication, got %v", err)
	}
}

func TestDeezerAlbumMergesTrackPages(t *testing.T) {
	var srvURL string
	c := newTestDeezer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/album/300":
			fmt.Fprint(w, `{"id":300,"title":"Double Album","nb_tracks":3}`)
		case r.URL.Path == "/album/300/tracks" && r.URL.Query().Get("index") == "":
			fmt.Fprintf(w, `{"data":[{"id":1},{"id":2}],
				"next":"%s/album/300/tracks?index=2&limit=100"}`, srvURL)
		case r.URL.Path == "/album/300/tracks":
			fmt.Fprint(w, `{"data":[{"id":3}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	srvURL = c.apiBase

	body, err := c.GetMetadata(context.Background(), "300", urls.Album)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Title      string            `json:"title"`
		Tracks     []json.RawMessage `json:"tracks"`
		TrackTotal int               `json:"track_total"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Title != "Double Album" {
		t.Errorf("title = %q", doc.Title)
	}
	if len(doc.Tracks) != 3 || doc.TrackTotal != 3 {
		t.Errorf("tracks = %d, track_total = %d, want 3 each", len(doc.Tracks), doc.TrackTotal)
	}
}

func TestDeezerDownloadableQualityFallback(t *testing.T) {
	var gotFormat string
	c := newTestDeezer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ajax/gw-light.php":
			// The account has no FLAC for this track.
			fmt.Fprint(w, `{"error":[],"results":{
				"MD5_ORIGIN":"a1b2c3","MEDIA_VERSION":"1","TRACK_TOKEN":"tt",
				"FILESIZE_MP3_128":"1000","FILESIZE_MP3_320":"3000","FILESIZE_FLAC":"0"}}`)
		case "/v1/get_url":
			var req struct {
				Media []struct {
					Formats []map[string]string `json:"formats"`
				} `json:"media"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			gotFormat = req.Media[0].Formats[0]["format"]
			fmt.Fprint(w, `{"data":[{"media":[{"sources":[{"url":"https://cdn/direct.mp3"}]}]}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	c.loggedIn = true

	dl, err := c.GetDownloadable(context.Background(), "555", 2)
	if err != nil {
		t.Fatal(err)
	}
	if gotFormat != "MP3_320" {
		t.Errorf("requested format = %q, want fallback to MP3_320", gotFormat)
	}
	if dl.Extension() != "mp3" {
		t.Errorf("extension = %q", dl.Extension())
	}
	size, _ := dl.Size(context.Background())
	if size != 3000 {
		t.Errorf("size = %d", size)
	}
}

func TestDeezerDownloadableNoSizes(t *testing.T) {
	c := newTestDeezer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":[],"results":{
			"FILESIZE_MP3_128":"0","FILESIZE_MP3_320":"0","FILESIZE_FLAC":"0"}}`)
	}))
	c.loggedIn = true
	_, err := c.GetDownloadable(context.Background(), "555", 2)
	if !errors.Is(err, shared.ErrNonStreamable) {
		t.Errorf("expected ErrNonStreamable, got %v", err)
	}
}

func TestDeezerDownloadSniffsErrorDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"code":2000,"message":"no stream"}}`)
	}))
	defer srv.Close()

	d := &DeezerDownloadable{Client: srv.Client(), URL: srv.URL + "/track", TrackID: "9"}
	err := d.Download(context.Background(), filepath.Join(t.TempDir(), "out.mp3"), nil)
	if !errors.Is(err, shared.ErrNonStreamable) {
		t.Errorf("expected ErrNonStreamable for tiny json body, got %v", err)
	}
}

func TestDeezerDownloadDecryptsProtectedPath(t *testing.T) {
	plain := make([]byte, 4*deezerChunkSize+500)
	for i := range plain {
		plain[i] = byte(i * 3)
	}
	// Pad to the sniff threshold so the response is treated as audio.
	if len(plain) < 20000 {
		t.Fatal("fixture must be at least 20000 bytes")
	}
	enc := encryptDeezer(t, "31337", plain)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(enc)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "track.mp3")
	d := &DeezerDownloadable{
		Client:  srv.Client(),
		URL:     srv.URL + "/mobile/1/deadbeef",
		TrackID: "31337",
		Ext:     "mp3",
	}
	if err := d.Download(context.Background(), path, nil); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plain) {
		t.Error("downloaded file was not decrypted")
	}
}
