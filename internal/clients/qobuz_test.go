package clients

import (
	"context"
	"crypto/md5"
	"encoding/hex"
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

// A minimal bundle.js with two obfuscated secrets. The berlin pair is
// captured first, but the london pair is the live one and must end up in
// front after reordering.
const spooferBundleFixture = `
var n={app_id:"123456789",app_secret:"abcdefabcdefabcdefabcdefabcdefab",base_port:"80",base_url:"https://www.qobuz.com",base_method:"/api.json/0.2/"},n.base_url="https://play.qobuz.com";
a.initialSeed("YmVybGluc2VjcmV0MTIz",window.utimezone.berlin);
b.initialSeed("bG9uZG9uc2VjcmV0MTIz",window.utimezone.london);
media:[{name:"Europe/Berlin",info:"NDU2Nzg5MGFiY2RlZg==XXXXXXXXXXXXXXXXXXXX",extras:"XXXXXXXXXXXXXXXXXXXXXXXX"},{name:"Europe/London",info:"NDU2Nzg5MGFiY2RlZg==XXXXXXXXXXXXXXXXXXXX",extras:"XXXXXXXXXXXXXXXXXXXXXXXX"}],
`

func newSpooferServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			fmt.Fprint(w, `<script src="/resources/7.1.3-b011/bundle.js"></script>`)
		case "/resources/7.1.3-b011/bundle.js":
			fmt.Fprint(w, spooferBundleFixture)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestQobuzSpoofer(t *testing.T) {
	srv := newSpooferServer(t)
	s, err := newQobuzSpoofer(context.Background(), srv.Client(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	appID, err := s.appID()
	if err != nil {
		t.Fatal(err)
	}
	if appID != "123456789" {
		t.Errorf("app id = %q", appID)
	}

	secrets, err := s.secrets()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"londonsecret1234567890abcdef",
		"berlinsecret1234567890abcdef",
	}
	if len(secrets) != 2 || secrets[0] != want[0] || secrets[1] != want[1] {
		t.Errorf("secrets = %v, want %v", secrets, want)
	}
}

func newTestQobuz(t *testing.T, handler http.Handler) (*Qobuz, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := shared.DefaultConfig()
	cfg.Qobuz.EmailOrUserID = "user@example.com"
	cfg.Qobuz.PasswordOrToken = "hunter2"
	cfg.Qobuz.AppID = "123456789"
	cfg.Qobuz.Secrets = []string{"badsecret", "goodsecret"}

	c := NewQobuz(cfg, log.New(io.Discard))
	c.api = srv.Client()
	c.apiBase = srv.URL + "/"
	return c, srv
}

// verifySignature recomputes the request signature the way the API does
// and reports whether it matches.
func verifySignature(r *http.Request, secret string) bool {
	q := r.URL.Query()
	sig := fmt.Sprintf("trackgetFileUrlformat_id%sintentstreamtrack_id%s%s%s",
		q.Get("format_id"), q.Get("track_id"), q.Get("request_ts"), secret)
	sum := md5.Sum([]byte(sig))
	return hex.EncodeToString(sum[:]) == q.Get("request_sig")
}

func TestQobuzLoginAndSecretSelection(t *testing.T) {
	c, _ := newTestQobuz(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "user/login"):
			fmt.Fprint(w, `{"user_auth_token":"tok123",
				"user":{"credential":{"parameters":{"short_label":"studio"}}}}`)
		case strings.HasSuffix(r.URL.Path, "track/getFileUrl"):
			// Only the good secret produces a valid signature.
			if verifySignature(r, "goodsecret") {
				fmt.Fprint(w, `{"url":"https://cdn/probe.flac"}`)
			} else {
				w.WriteHeader(http.StatusBadRequest)
			}
		default:
			http.NotFound(w, r)
		}
	}))

	if err := c.Login(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !c.LoggedIn() {
		t.Error("client should report logged in")
	}
	if c.secret != "goodsecret" {
		t.Errorf("selected secret = %q", c.secret)
	}
	if c.token != "tok123" {
		t.Errorf("auth token = %q", c.token)
	}
}

func TestQobuzLoginFreeAccount(t *testing.T) {
	c, _ := newTestQobuz(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"user_auth_token":"tok","user":{"credential":{"parameters":null}}}`)
	}))
	err := c.Login(context.Background())
	if !errors.Is(err, shared.ErrIneligibleAccount) {
		t.Errorf("expected ErrIneligibleAccount, got %v", err)
	}
}

func TestQobuzGetDownloadable(t *testing.T) {
	var gotFormatID string
	c, _ := newTestQobuz(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "track/getFileUrl") {
			http.NotFound(w, r)
			return
		}
		if !verifySignature(r, "goodsecret") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gotFormatID = r.URL.Query().Get("format_id")
		fmt.Fprint(w, `{"url":"https://cdn/file.flac","bit_depth":24,"sampling_rate":96}`)
	}))
	c.loggedIn = true
	c.secret = "goodsecret"

	dl, err := c.GetDownloadable(context.Background(), "52151405", 3)
	if err != nil {
		t.Fatal(err)
	}
	if gotFormatID != "7" {
		t.Errorf("format id = %s, want 7 for quality 3", gotFormatID)
	}
	if dl.Extension() != "flac" {
		t.Errorf("extension = %q", dl.Extension())
	}
}

func TestQobuzGetDownloadableSample(t *testing.T) {
	c, _ := newTestQobuz(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"url":"https://cdn/file.mp3","sample":true}`)
	}))
	c.loggedIn = true
	c.secret = "goodsecret"

	_, err := c.GetDownloadable(context.Background(), "1", 1)
	if !errors.Is(err, shared.ErrNonStreamable) {
		t.Errorf("expected ErrNonStreamable for sample, got %v", err)
	}
}

func TestQobuzPaginatedArtist(t *testing.T) {
	c, _ := newTestQobuz(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "artist/get") {
			http.NotFound(w, r)
			return
		}
		switch r.URL.Query().Get("offset") {
		case "0":
			fmt.Fprint(w, `{"name":"Some Artist","albums":{"total":502,
				"items":[{"id":"a1","title":"One"},{"id":"a2","title":"Two"}]}}`)
		case "500":
			fmt.Fprint(w, `{"name":"Some Artist","albums":{"total":502,
				"items":[{"id":"a3","title":"Three"}]}}`)
		default:
			t.Errorf("unexpected offset %s", r.URL.Query().Get("offset"))
		}
	}))

	body, err := c.GetMetadata(context.Background(), "23608", urls.Artist)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Name   string `json:"name"`
		Albums struct {
			Total int               `json:"total"`
			Items []json.RawMessage `json:"items"`
		} `json:"albums"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Name != "Some Artist" {
		t.Errorf("name = %q", doc.Name)
	}
	if len(doc.Albums.Items) != 3 {
		t.Errorf("items = %d, want all pages merged", len(doc.Albums.Items))
	}
}
