package clients

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nathom/streamrip-sub000/internal/shared"
	"github.com/nathom/streamrip-sub000/internal/urls"
)

const (
	qobuzAPIBase    = "https://www.qobuz.com/api.json/0.2/"
	qobuzMaxQuality = 4
	qobuzPageLimit  = 500

	// Known public track used to probe which secret candidate signs
	// requests the API accepts.
	qobuzProbeTrackID = "19512574"
)

// Qobuz quality tiers are selected by format id: 5 MP3 320, 6 CD FLAC,
// 7 hi-res up to 96 kHz, 27 hi-res up to 192 kHz.
var qobuzFormatIDs = [4]int{5, 6, 7, 27}

// Qobuz implements Client against the Qobuz JSON API.
type Qobuz struct {
	cfg     *shared.Config
	log     *log.Logger
	api     *http.Client
	stream  *http.Client
	apiBase string

	secret   string
	token    string
	loggedIn bool
}

func NewQobuz(cfg *shared.Config, logger *log.Logger) *Qobuz {
	return &Qobuz{
		cfg:     cfg,
		log:     logger,
		api:     NewAPIClient(cfg.Downloads.RequestsPerMinute),
		stream:  NewStreamClient(),
		apiBase: qobuzAPIBase,
	}
}

func (c *Qobuz) Source() string  { return "qobuz" }
func (c *Qobuz) MaxQuality() int { return qobuzMaxQuality }
func (c *Qobuz) LoggedIn() bool  { return c.loggedIn }

func (c *Qobuz) Login(ctx context.Context) error {
	q := &c.cfg.Qobuz
	if q.EmailOrUserID == "" || q.PasswordOrToken == "" {
		return fmt.Errorf("qobuz: %w", shared.ErrMissingCredentials)
	}
	if q.AppID == "" || len(q.Secrets) == 0 {
		c.log.Info("fetching qobuz app credentials from web player")
		spoofer, err := newQobuzSpoofer(ctx, c.api, qobuzPlayBase)
		if err != nil {
			return err
		}
		if q.AppID, err = spoofer.appID(); err != nil {
			return err
		}
		if q.Secrets, err = spoofer.secrets(); err != nil {
			return err
		}
		c.cfg.SetModified()
	}

	params := url.Values{"app_id": {q.AppID}}
	if q.UseAuthToken {
		params.Set("user_id", q.EmailOrUserID)
		params.Set("user_auth_token", q.PasswordOrToken)
	} else {
		params.Set("email", q.EmailOrUserID)
		params.Set("password", q.PasswordOrToken)
	}
	status, body, err := c.apiRequest(ctx, "user/login", params)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("qobuz: %w", shared.ErrAuthentication)
	case http.StatusBadRequest:
		return fmt.Errorf("qobuz: %w: app id %s", shared.ErrInvalidAppID, q.AppID)
	case http.StatusOK:
	default:
		return fmt.Errorf("qobuz login returned status %d", status)
	}

	var login struct {
		UserAuthToken string `json:"user_auth_token"`
		User          struct {
			Credential struct {
				Parameters json.RawMessage `json:"parameters"`
			} `json:"credential"`
		} `json:"user"`
	}
	if err := json.Unmarshal(body, &login); err != nil {
		return fmt.Errorf("failed to parse qobuz login response: %w", err)
	}
	if len(login.User.Credential.Parameters) == 0 ||
		string(login.User.Credential.Parameters) == "null" {
		// Free accounts authenticate fine but cannot stream.
		return fmt.Errorf("qobuz: %w", shared.ErrIneligibleAccount)
	}
	c.token = login.UserAuthToken

	secret, err := c.validSecret(ctx, c.cfg.Qobuz.Secrets)
	if err != nil {
		return err
	}
	c.secret = secret
	c.loggedIn = true
	c.log.Info("logged into qobuz")
	return nil
}

// validSecret probes each candidate with a signed getFileUrl request on a
// known track. The API answers 400 to a bad signature; anything else
// means the secret is live.
func (c *Qobuz) validSecret(ctx context.Context, candidates []string) (string, error) {
	for _, secret := range candidates {
		if secret == "" {
			continue
		}
		status, _, err := c.requestFileURL(ctx, qobuzProbeTrackID, qobuzMaxQuality, secret)
		if err != nil {
			return "", err
		}
		if status == http.StatusBadRequest {
			continue
		}
		if status == http.StatusOK || status == http.StatusUnauthorized {
			return secret, nil
		}
		c.log.Warn("unexpected status while testing qobuz secret", "status", status)
	}
	return "", fmt.Errorf("qobuz: %w", shared.ErrInvalidAppSecret)
}

func (c *Qobuz) GetMetadata(ctx context.Context, id string, mediaType urls.MediaType) (json.RawMessage, error) {
	switch mediaType {
	case urls.Track:
		return c.simpleGet(ctx, "track/get", url.Values{"track_id": {id}})
	case urls.Album:
		return c.simpleGet(ctx, "album/get", url.Values{"album_id": {id}})
	case urls.Playlist:
		return c.paginatedGet(ctx, "playlist/get",
			url.Values{"playlist_id": {id}, "extra": {"tracks"}}, "tracks")
	case urls.Artist:
		return c.paginatedGet(ctx, "artist/get",
			url.Values{"artist_id": {id}, "extra": {"albums"}}, "albums")
	case urls.Label:
		return c.paginatedGet(ctx, "label/get",
			url.Values{"label_id": {id}, "extra": {"albums"}}, "albums")
	}
	return nil, fmt.Errorf("qobuz does not serve media type %q", mediaType)
}

func (c *Qobuz) Search(ctx context.Context, mediaType urls.MediaType, query string, limit int) ([]json.RawMessage, error) {
	key, ok := map[urls.MediaType]string{
		urls.Track:    "tracks",
		urls.Album:    "albums",
		urls.Artist:   "artists",
		urls.Playlist: "playlists",
	}[mediaType]
	if !ok {
		return nil, fmt.Errorf("qobuz cannot search media type %q", mediaType)
	}
	if limit <= 0 {
		limit = 50
	}
	params := url.Values{"query": {query}, "limit": {strconv.Itoa(limit)}}
	body, err := c.simpleGet(ctx, string(mediaType)+"/search", params)
	if err != nil {
		return nil, err
	}
	var envelope map[string]struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse qobuz search response: %w", err)
	}
	items := envelope[key].Items
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (c *Qobuz) GetDownloadable(ctx context.Context, id string, quality int) (Downloadable, error) {
	if !c.loggedIn {
		return nil, fmt.Errorf("qobuz: %w", shared.ErrNotLoggedIn)
	}
	if quality < 1 {
		quality = 1
	}
	if quality > qobuzMaxQuality {
		quality = qobuzMaxQuality
	}
	status, body, err := c.requestFileURL(ctx, id, quality, c.secret)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("qobuz getFileUrl returned status %d", status)
	}
	var file struct {
		URL    string `json:"url"`
		Sample bool   `json:"sample"`
	}
	if err := json.Unmarshal(body, &file); err != nil {
		return nil, fmt.Errorf("failed to parse qobuz file url response: %w", err)
	}
	if file.URL == "" || file.Sample {
		return nil, fmt.Errorf("qobuz track %s: %w", id, shared.ErrNonStreamable)
	}
	ext := "flac"
	if quality <= 1 {
		ext = "mp3"
	}
	return &BasicDownloadable{Client: c.stream, URL: file.URL, Ext: ext}, nil
}

// requestFileURL performs the signed track/getFileUrl call.
func (c *Qobuz) requestFileURL(ctx context.Context, trackID string, quality int, secret string) (int, json.RawMessage, error) {
	formatID := qobuzFormatIDs[quality-1]
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig := fmt.Sprintf("trackgetFileUrlformat_id%dintentstreamtrack_id%s%s%s",
		formatID, trackID, ts, secret)
	hashed := md5.Sum([]byte(sig))
	params := url.Values{
		"request_ts":  {ts},
		"request_sig": {hex.EncodeToString(hashed[:])},
		"track_id":    {trackID},
		"format_id":   {strconv.Itoa(formatID)},
		"intent":      {"stream"},
	}
	return c.apiRequest(ctx, "track/getFileUrl", params)
}

func (c *Qobuz) simpleGet(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	status, body, err := c.apiRequest(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("qobuz %s returned status %d", endpoint, status)
	}
	return body, nil
}

// paginatedGet follows the limit/offset listing under key until every
// item is collected, then splices the full list back into the first page.
func (c *Qobuz) paginatedGet(ctx context.Context, endpoint string, params url.Values, key string) (json.RawMessage, error) {
	params.Set("limit", strconv.Itoa(qobuzPageLimit))
	params.Set("offset", "0")
	first, err := c.simpleGet(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}

	total, items, err := qobuzPage(first, key)
	if err != nil {
		return nil, err
	}
	for offset := qobuzPageLimit; offset < total; offset += qobuzPageLimit {
		params.Set("offset", strconv.Itoa(offset))
		page, err := c.simpleGet(ctx, endpoint, params)
		if err != nil {
			return nil, err
		}
		_, pageItems, err := qobuzPage(page, key)
		if err != nil {
			return nil, err
		}
		if len(pageItems) == 0 {
			break
		}
		items = append(items, pageItems...)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(first, &doc); err != nil {
		return nil, err
	}
	merged, err := json.Marshal(struct {
		Total int               `json:"total"`
		Items []json.RawMessage `json:"items"`
	}{Total: total, Items: items})
	if err != nil {
		return nil, err
	}
	doc[key] = merged
	return json.Marshal(doc)
}

func qobuzPage(body json.RawMessage, key string) (total int, items []json.RawMessage, err error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return 0, nil, err
	}
	var listing struct {
		Total int               `json:"total"`
		Items []json.RawMessage `json:"items"`
	}
	if raw, ok := doc[key]; ok {
		if err := json.Unmarshal(raw, &listing); err != nil {
			return 0, nil, fmt.Errorf("failed to parse qobuz %s listing: %w", key, err)
		}
	}
	return listing.Total, listing.Items, nil
}

func (c *Qobuz) apiRequest(ctx context.Context, endpoint string, params url.Values) (int, json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.apiBase+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("X-App-Id", c.cfg.Qobuz.AppID)
	if c.token != "" {
		req.Header.Set("X-User-Auth-Token", c.token)
	}
	resp, err := c.api.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("qobuz request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}
