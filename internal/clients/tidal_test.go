package clients

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/nathom/streamrip-sub000/internal/shared"
	"github.com/nathom/streamrip-sub000/internal/urls"
)

func newTestTidal(t *testing.T, handler http.Handler) *Tidal {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := shared.DefaultConfig()
	cfg.Tidal.AccessToken = "access-token"
	cfg.Tidal.CountryCode = "US"

	c := NewTidal(cfg, log.New(io.Discard))
	c.api = srv.Client()
	c.stream = srv.Client()
	c.apiBase = srv.URL
	return c
}

func manifestB64(t *testing.T, manifest any) string {
	t.Helper()
	raw, err := json.Marshal(manifest)
	if err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func TestTidalAlbumMergesItemPages(t *testing.T) {
	c := newTestTidal(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cc := r.URL.Query().Get("countryCode"); cc != "US" {
			t.Errorf("countryCode = %q", cc)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer access-token" {
			t.Errorf("authorization = %q", auth)
		}
		switch r.URL.Path {
		case "/albums/80":
			fmt.Fprint(w, `{"id":80,"title":"Big Album","audioQuality":"LOSSLESS"}`)
		case "/albums/80/items":
			switch r.URL.Query().Get("offset") {
			case "0":
				fmt.Fprint(w, `{"totalNumberOfItems":101,"items":[
					{"item":{"id":1,"title":"A"},"type":"track"},
					{"item":{"id":2,"title":"B"},"type":"track"}]}`)
			case "100":
				fmt.Fprint(w, `{"totalNumberOfItems":101,"items":[
					{"item":{"id":3,"title":"C"},"type":"track"}]}`)
			default:
				t.Errorf("unexpected offset %s", r.URL.Query().Get("offset"))
			}
		default:
			http.NotFound(w, r)
		}
	}))

	body, err := c.GetMetadata(context.Background(), "80", urls.Album)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Title  string `json:"title"`
		Tracks struct {
			Items []struct {
				ID json.Number `json:"id"`
			} `json:"items"`
		} `json:"tracks"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Title != "Big Album" {
		t.Errorf("title = %q", doc.Title)
	}
	if len(doc.Tracks.Items) != 3 {
		t.Fatalf("items = %d, want unwrapped entries from both pages", len(doc.Tracks.Items))
	}
	if doc.Tracks.Items[2].ID.String() != "3" {
		t.Errorf("last item id = %s", doc.Tracks.Items[2].ID)
	}
}

func TestTidalGetDownloadable(t *testing.T) {
	var gotQuality string
	c := newTestTidal(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/playbackinfopostpaywall") {
			http.NotFound(w, r)
			return
		}
		gotQuality = r.URL.Query().Get("audioquality")
		fmt.Fprintf(w, `{"audioQuality":"LOSSLESS","manifest":"%s"}`, manifestB64(t, map[string]any{
			"urls":           []string{"https://cdn/stream.flac"},
			"codecs":         "flac",
			"encryptionType": "NONE",
		}))
	}))
	c.loggedIn = true

	dl, err := c.GetDownloadable(context.Background(), "1234", 2)
	if err != nil {
		t.Fatal(err)
	}
	if gotQuality != "LOSSLESS" {
		t.Errorf("audioquality = %q", gotQuality)
	}
	if dl.Extension() != "flac" {
		t.Errorf("extension = %q", dl.Extension())
	}
	td, ok := dl.(*TidalDownloadable)
	if !ok || td.SecurityKey != "" {
		t.Errorf("unencrypted manifest must not carry a key: %#v", dl)
	}
}

func TestTidalGetDownloadableEncrypted(t *testing.T) {
	c := newTestTidal(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"manifest":"%s"}`, manifestB64(t, map[string]any{
			"urls":           []string{"https://cdn/stream.m4a"},
			"codecs":         "mp4a.40.2",
			"keyId":          "b64token",
			"encryptionType": "OLD_AES",
		}))
	}))
	c.loggedIn = true

	dl, err := c.GetDownloadable(context.Background(), "1234", 1)
	if err != nil {
		t.Fatal(err)
	}
	td := dl.(*TidalDownloadable)
	if td.SecurityKey != "b64token" {
		t.Errorf("security key = %q", td.SecurityKey)
	}
	if td.Ext != "m4a" {
		t.Errorf("extension = %q", td.Ext)
	}
}

func TestTidalGetDownloadableRestricted(t *testing.T) {
	c := newTestTidal(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"manifest":"%s"}`, manifestB64(t, map[string]any{
			"urls": []string{},
			"restrictions": []map[string]string{
				{"code": "CONTENT_NOT_AVAILABLE_IN_LOCATION"},
			},
		}))
	}))
	c.loggedIn = true

	_, err := c.GetDownloadable(context.Background(), "1234", 3)
	if !errors.Is(err, shared.ErrNonStreamable) {
		t.Fatalf("expected ErrNonStreamable, got %v", err)
	}
	if !strings.Contains(err.Error(), "CONTENT not available in location") {
		t.Errorf("restriction code not humanized: %v", err)
	}
}

func TestTidalUnauthorized(t *testing.T) {
	c := newTestTidal(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	_, err := c.GetMetadata(context.Background(), "1", urls.Track)
	if !errors.Is(err, shared.ErrAuthentication) {
		t.Errorf("expected ErrAuthentication, got %v", err)
	}
}
