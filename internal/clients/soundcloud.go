package clients

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/nathom/streamrip-sub000/internal/metadata"
	"github.com/nathom/streamrip-sub000/internal/shared"
	"github.com/nathom/streamrip-sub000/internal/urls"
)

const (
	soundcloudAPIBase  = "https://api-v2.soundcloud.com"
	soundcloudStockURL = "https://soundcloud.com/"

	// Playlist track hydration batch size accepted by the tracks endpoint.
	soundcloudBatchSize = 50
)

var (
	soundcloudScriptRe     = regexp.MustCompile(`<script\s+crossorigin\s+src="([^"]+)"`)
	soundcloudAppVersionRe = regexp.MustCompile(`<script>window\.__sc_version="(\d+)"</script>`)
	soundcloudClientIDRe   = regexp.MustCompile(`client_id:\s*"(\w+)"`)
)

// Soundcloud implements Client against the anonymous v2 API. There is no
// account: an anonymous client id is scraped from the public web player
// and cached until it stops working.
type Soundcloud struct {
	cfg    *shared.Config
	log    *log.Logger
	api    *http.Client
	stream *http.Client

	apiBase  string
	stockURL string
	loggedIn bool
}

func NewSoundcloud(cfg *shared.Config, logger *log.Logger) *Soundcloud {
	return &Soundcloud{
		cfg:      cfg,
		log:      logger,
		api:      NewAPIClient(cfg.Downloads.RequestsPerMinute),
		stream:   NewStreamClient(),
		apiBase:  soundcloudAPIBase,
		stockURL: soundcloudStockURL,
	}
}

func (c *Soundcloud) Source() string { return "soundcloud" }

// MaxQuality is 0: SoundCloud serves one lossy tier.
func (c *Soundcloud) MaxQuality() int { return 0 }
func (c *Soundcloud) LoggedIn() bool  { return c.loggedIn }

func (c *Soundcloud) Login(ctx context.Context) error {
	s := &c.cfg.Soundcloud
	if s.ClientID == "" || s.AppVersion == "" || !c.tokensWork(ctx) {
		clientID, appVersion, err := c.refreshTokens(ctx)
		if err != nil {
			return err
		}
		s.ClientID = clientID
		s.AppVersion = appVersion
		c.cfg.SetModified()
	}
	c.loggedIn = true
	c.log.Info("using soundcloud client id", "app_version", s.AppVersion)
	return nil
}

// tokensWork probes a cheap endpoint with the cached credentials.
func (c *Soundcloud) tokensWork(ctx context.Context) bool {
	status, _, err := c.apiRequest(ctx, "/announcements", nil)
	return err == nil && status == http.StatusOK
}

// refreshTokens scrapes a fresh anonymous client id and app version from
// the web player. The client id hides in the last crossorigin script.
func (c *Soundcloud) refreshTokens(ctx context.Context) (clientID, appVersion string, err error) {
	page, err := fetchText(ctx, c.api, c.stockURL)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch soundcloud home page: %w", err)
	}
	scripts := soundcloudScriptRe.FindAllStringSubmatch(page, -1)
	if len(scripts) == 0 {
		return "", "", fmt.Errorf("no scripts found in soundcloud home page")
	}
	m := soundcloudAppVersionRe.FindStringSubmatch(page)
	if m == nil {
		return "", "", fmt.Errorf("no app version in soundcloud home page")
	}
	appVersion = m[1]

	scriptURL := scripts[len(scripts)-1][1]
	script, err := fetchText(ctx, c.api, scriptURL)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch soundcloud script: %w", err)
	}
	m = soundcloudClientIDRe.FindStringSubmatch(script)
	if m == nil {
		return "", "", fmt.Errorf("no client id in soundcloud script %s", scriptURL)
	}
	return m[1], appVersion, nil
}

func (c *Soundcloud) GetMetadata(ctx context.Context, id string, mediaType urls.MediaType) (json.RawMessage, error) {
	switch mediaType {
	case urls.Track:
		status, body, err := c.apiRequest(ctx, "/tracks/"+id, nil)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("soundcloud track %s returned status %d", id, status)
		}
		return body, nil
	case urls.Playlist:
		return c.getPlaylist(ctx, id)
	}
	return nil, fmt.Errorf("soundcloud does not serve media type %q", mediaType)
}

// ResolveURL turns a vanity URL into the raw metadata of the item it
// points to. The response carries a "kind" field naming the media type.
func (c *Soundcloud) ResolveURL(ctx context.Context, rawURL string) (json.RawMessage, error) {
	status, body, err := c.apiRequest(ctx, "/resolve", url.Values{"url": {rawURL}})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("soundcloud could not resolve %s (status %d)", rawURL, status)
	}
	return body, nil
}

// getPlaylist fetches a playlist and hydrates its stub track entries in
// batches, so every returned track carries full metadata.
func (c *Soundcloud) getPlaylist(ctx context.Context, id string) (json.RawMessage, error) {
	status, body, err := c.apiRequest(ctx, "/playlists/"+id, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("soundcloud playlist %s returned status %d", id, status)
	}

	var playlist map[string]json.RawMessage
	if err := json.Unmarshal(body, &playlist); err != nil {
		return nil, fmt.Errorf("failed to parse soundcloud playlist: %w", err)
	}
	var tracks []map[string]json.RawMessage
	if err := json.Unmarshal(playlist["tracks"], &tracks); err != nil {
		return nil, fmt.Errorf("failed to parse soundcloud playlist tracks: %w", err)
	}

	var unresolved []string
	for _, t := range tracks {
		if _, ok := t["media"]; !ok {
			unresolved = append(unresolved, rawNumber(t["id"]))
		}
	}
	resolved := make(map[string]json.RawMessage)
	for start := 0; start < len(unresolved); start += soundcloudBatchSize {
		end := start + soundcloudBatchSize
		if end > len(unresolved) {
			end = len(unresolved)
		}
		status, batch, err := c.apiRequest(ctx, "/tracks",
			url.Values{"ids": {strings.Join(unresolved[start:end], ",")}})
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("soundcloud track batch returned status %d", status)
		}
		var full []json.RawMessage
		if err := json.Unmarshal(batch, &full); err != nil {
			return nil, fmt.Errorf("failed to parse soundcloud track batch: %w", err)
		}
		for _, raw := range full {
			var probe struct {
				ID json.Number `json:"id"`
			}
			if err := json.Unmarshal(raw, &probe); err == nil {
				resolved[probe.ID.String()] = raw
			}
		}
	}

	out := make([]json.RawMessage, 0, len(tracks))
	for _, t := range tracks {
		if full, ok := resolved[rawNumber(t["id"])]; ok {
			out = append(out, full)
			continue
		}
		merged, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		out = append(out, merged)
	}
	mergedTracks, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	playlist["tracks"] = mergedTracks
	return json.Marshal(playlist)
}

func (c *Soundcloud) Search(ctx context.Context, mediaType urls.MediaType, query string, limit int) ([]json.RawMessage, error) {
	switch mediaType {
	case urls.Track, urls.Playlist:
	default:
		return nil, fmt.Errorf("soundcloud cannot search media type %q", mediaType)
	}
	if limit <= 0 {
		limit = 50
	}
	status, body, err := c.apiRequest(ctx, "/search/"+string(mediaType)+"s",
		url.Values{"q": {query}, "limit": {strconv.Itoa(limit)}})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("soundcloud search returned status %d", status)
	}
	var listing struct {
		Collection []json.RawMessage `json:"collection"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("failed to parse soundcloud search response: %w", err)
	}
	if len(listing.Collection) > limit {
		listing.Collection = listing.Collection[:limit]
	}
	return listing.Collection, nil
}

// GetDownloadable takes the composite "{id}|{info}" id produced at
// metadata time. The quality argument is ignored; there is one tier.
func (c *Soundcloud) GetDownloadable(ctx context.Context, compositeID string, _ int) (Downloadable, error) {
	if !c.loggedIn {
		return nil, fmt.Errorf("soundcloud: %w", shared.ErrNotLoggedIn)
	}
	id, info, err := metadata.SplitSoundcloudID(compositeID)
	if err != nil {
		return nil, err
	}
	switch info {
	case metadata.SoundcloudNonStreamable:
		return nil, fmt.Errorf("soundcloud track %s: %w", id, shared.ErrNonStreamable)
	case metadata.SoundcloudNotResolved:
		return nil, fmt.Errorf("soundcloud track %s was never resolved", id)
	case metadata.SoundcloudOriginalDownload:
		status, body, err := c.apiRequest(ctx, "/tracks/"+id+"/download", nil)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("soundcloud download endpoint returned status %d", status)
		}
		var dl struct {
			RedirectURI string `json:"redirectUri"`
		}
		if err := json.Unmarshal(body, &dl); err != nil {
			return nil, fmt.Errorf("failed to parse soundcloud download response: %w", err)
		}
		return &SoundcloudDownloadable{Client: c.stream, URL: dl.RedirectURI, Original: true}, nil
	}

	// info is a transcoding URL whose response points at the HLS playlist.
	status, body, err := c.request(ctx, info, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("soundcloud transcoding endpoint returned status %d", status)
	}
	var tc struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &tc); err != nil {
		return nil, fmt.Errorf("failed to parse soundcloud transcoding response: %w", err)
	}
	return &SoundcloudDownloadable{Client: c.stream, URL: tc.URL}, nil
}

func (c *Soundcloud) apiRequest(ctx context.Context, path string, params url.Values) (int, json.RawMessage, error) {
	return c.request(ctx, c.apiBase+path, params)
}

func (c *Soundcloud) request(ctx context.Context, rawURL string, params url.Values) (int, json.RawMessage, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("client_id", c.cfg.Soundcloud.ClientID)
	params.Set("app_version", c.cfg.Soundcloud.AppVersion)
	params.Set("app_locale", "en")

	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL+sep+params.Encode(), nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := c.api.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("soundcloud request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func rawNumber(raw json.RawMessage) string {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return strings.Trim(string(raw), `"`)
	}
	return n.String()
}

// SoundcloudDownloadable fetches either the uploader's original file or
// the public HLS mp3 rendition.
type SoundcloudDownloadable struct {
	Client   *http.Client
	URL      string
	Original bool
}

func (d *SoundcloudDownloadable) Extension() string {
	if d.Original {
		return "flac"
	}
	return "mp3"
}

func (d *SoundcloudDownloadable) Size(ctx context.Context) (int64, error) {
	if d.Original {
		b := &BasicDownloadable{Client: d.Client, URL: d.URL}
		return b.Size(ctx)
	}
	// HLS renditions do not announce a byte size up front.
	return 0, nil
}

func (d *SoundcloudDownloadable) Download(ctx context.Context, path string, progress ProgressFunc) error {
	if d.Original {
		b := &BasicDownloadable{Client: d.Client, URL: d.URL, Ext: "flac"}
		return b.Download(ctx, path, progress)
	}
	return d.downloadHLS(ctx, path, progress)
}

// downloadHLS fetches the playlist and concatenates its mp3 segments in
// order. Segments are raw MPEG frames, so byte-wise concatenation yields
// a playable file.
func (d *SoundcloudDownloadable) downloadHLS(ctx context.Context, path string, progress ProgressFunc) error {
	playlist, err := fetchText(ctx, d.Client, d.URL)
	if err != nil {
		return fmt.Errorf("failed to fetch hls playlist: %w", err)
	}
	segments := parseM3U(playlist)
	if len(segments) == 0 {
		return fmt.Errorf("hls playlist has no segments")
	}

	tmp := filepath.Join(filepath.Dir(path), "."+uuid.NewString()+".part")
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	var written int64
	for _, segURL := range segments {
		if err := func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, segURL, nil)
			if err != nil {
				return err
			}
			resp, err := d.Client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("segment fetch returned status %d", resp.StatusCode)
			}
			n, err := io.Copy(f, resp.Body)
			written += n
			if progress != nil {
				progress(written, -1)
			}
			return err
		}(); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("failed to fetch hls segment: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// parseM3U extracts the segment URIs from a media playlist.
func parseM3U(playlist string) []string {
	var out []string
	scanner := bufio.NewScanner(strings.NewReader(playlist))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}
