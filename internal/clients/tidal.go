package clients

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/nathom/streamrip-sub000/internal/shared"
	"github.com/nathom/streamrip-sub000/internal/urls"
)

const (
	tidalAPIBase    = "https://api.tidalhifi.com/v1"
	tidalAuthBase   = "https://auth.tidal.com/v1/oauth2"
	tidalMaxQuality = 3
	tidalPageLimit  = 100
)

// App credentials of the TV client, which is the one allowed to use the
// device-code grant.
var (
	tidalClientID     = mustB64("elU0WEhWVmtjMnREUG80dA==")
	tidalClientSecret = mustB64("VkpLaERGcUpQcXZzUFZOQlY2dWtYVEptd2x2YnR0UDd3bE1scmM3MnNlND0=")
)

func mustB64(s string) string {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// tidalAudioQuality maps universal tiers onto the audioQuality parameter.
var tidalAudioQuality = [4]string{"LOW", "HIGH", "LOSSLESS", "HI_RES"}

// Tidal implements Client against the Tidal hifi API, authenticating
// with the OAuth device-code flow and persisting tokens in the config.
type Tidal struct {
	cfg    *shared.Config
	log    *log.Logger
	api    *http.Client
	stream *http.Client

	apiBase  string
	oauth    *oauth2.Config
	loggedIn bool
}

func NewTidal(cfg *shared.Config, logger *log.Logger) *Tidal {
	return &Tidal{
		cfg:     cfg,
		log:     logger,
		api:     NewAPIClient(cfg.Downloads.RequestsPerMinute),
		stream:  NewStreamClient(),
		apiBase: tidalAPIBase,
		oauth: &oauth2.Config{
			ClientID:     tidalClientID,
			ClientSecret: tidalClientSecret,
			Scopes:       []string{"r_usr", "w_usr", "w_sub"},
			Endpoint: oauth2.Endpoint{
				DeviceAuthURL: tidalAuthBase + "/device_authorization",
				TokenURL:      tidalAuthBase + "/token",
				AuthStyle:     oauth2.AuthStyleInHeader,
			},
		},
	}
}

func (c *Tidal) Source() string  { return "tidal" }
func (c *Tidal) MaxQuality() int { return tidalMaxQuality }
func (c *Tidal) LoggedIn() bool  { return c.loggedIn }

func (c *Tidal) Login(ctx context.Context) error {
	t := &c.cfg.Tidal
	if t.AccessToken == "" {
		if err := c.deviceLogin(ctx); err != nil {
			return err
		}
	} else if time.Now().Unix() > int64(t.TokenExpiry)-int64(24*time.Hour/time.Second) {
		// Refresh ahead of expiry so a long run never loses its session.
		if err := c.refresh(ctx); err != nil {
			return err
		}
	}
	c.loggedIn = true
	c.log.Info("logged into tidal", "country", t.CountryCode)
	return nil
}

// deviceLogin walks the user through the device-code grant: they visit
// the printed link on any browser while this process polls for approval.
func (c *Tidal) deviceLogin(ctx context.Context) error {
	da, err := c.oauth.DeviceAuth(ctx)
	if err != nil {
		return fmt.Errorf("tidal device authorization failed: %w", err)
	}
	uri := da.VerificationURIComplete
	if uri == "" {
		uri = da.VerificationURI
	}
	c.log.Info("authorize this device to use tidal", "url", "https://"+strings.TrimPrefix(uri, "https://"))

	tok, err := c.oauth.DeviceAccessToken(ctx, da)
	if err != nil {
		return fmt.Errorf("tidal: %w: device code not approved", shared.ErrAuthentication)
	}
	c.storeToken(tok)
	return nil
}

func (c *Tidal) refresh(ctx context.Context) error {
	t := &c.cfg.Tidal
	src := c.oauth.TokenSource(ctx, &oauth2.Token{
		RefreshToken: t.RefreshToken,
		Expiry:       time.Unix(0, 0),
	})
	tok, err := src.Token()
	if err != nil {
		return fmt.Errorf("tidal: %w: token refresh failed: %v", shared.ErrAuthentication, err)
	}
	c.storeToken(tok)
	return nil
}

func (c *Tidal) storeToken(tok *oauth2.Token) {
	t := &c.cfg.Tidal
	t.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		t.RefreshToken = tok.RefreshToken
	}
	t.TokenExpiry = float64(tok.Expiry.Unix())
	if user, ok := tok.Extra("user").(map[string]any); ok {
		if id, ok := user["userId"].(float64); ok {
			t.UserID = strconv.FormatInt(int64(id), 10)
		}
		if cc, ok := user["countryCode"].(string); ok {
			t.CountryCode = cc
		}
	}
	c.cfg.SetModified()
}

func (c *Tidal) GetMetadata(ctx context.Context, id string, mediaType urls.MediaType) (json.RawMessage, error) {
	switch mediaType {
	case urls.Track:
		return c.apiGet(ctx, "/tracks/"+id, nil)
	case urls.Album:
		return c.mergeItems(ctx, "/albums/"+id, "/albums/"+id+"/items", "tracks")
	case urls.Playlist:
		return c.mergeItems(ctx, "/playlists/"+id, "/playlists/"+id+"/items", "tracks")
	case urls.Artist:
		return c.mergeItems(ctx, "/artists/"+id, "/artists/"+id+"/albums", "albums")
	}
	return nil, fmt.Errorf("tidal does not serve media type %q", mediaType)
}

// mergeItems fetches a document and its paginated items listing, then
// splices the complete list into the document as {key: {items: [...]}}.
// Wrapped listing entries ({"item": {...}, "type": ...}) are unwrapped.
func (c *Tidal) mergeItems(ctx context.Context, docPath, listPath, key string) (json.RawMessage, error) {
	body, err := c.apiGet(ctx, docPath, nil)
	if err != nil {
		return nil, err
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse tidal response: %w", err)
	}

	var items []json.RawMessage
	for offset := 0; ; offset += tidalPageLimit {
		params := url.Values{
			"limit":  {strconv.Itoa(tidalPageLimit)},
			"offset": {strconv.Itoa(offset)},
		}
		page, err := c.apiGet(ctx, listPath, params)
		if err != nil {
			return nil, err
		}
		var listing struct {
			Items              []json.RawMessage `json:"items"`
			TotalNumberOfItems int               `json:"totalNumberOfItems"`
		}
		if err := json.Unmarshal(page, &listing); err != nil {
			return nil, fmt.Errorf("failed to parse tidal listing: %w", err)
		}
		for _, entry := range listing.Items {
			var wrapped struct {
				Item json.RawMessage `json:"item"`
			}
			if err := json.Unmarshal(entry, &wrapped); err == nil && len(wrapped.Item) > 0 {
				entry = wrapped.Item
			}
			items = append(items, entry)
		}
		if len(listing.Items) == 0 || offset+tidalPageLimit >= listing.TotalNumberOfItems {
			break
		}
	}

	merged, err := json.Marshal(struct {
		Items []json.RawMessage `json:"items"`
	}{Items: items})
	if err != nil {
		return nil, err
	}
	doc[key] = merged
	return json.Marshal(doc)
}

func (c *Tidal) Search(ctx context.Context, mediaType urls.MediaType, query string, limit int) ([]json.RawMessage, error) {
	switch mediaType {
	case urls.Track, urls.Album, urls.Artist, urls.Playlist:
	default:
		return nil, fmt.Errorf("tidal cannot search media type %q", mediaType)
	}
	if limit <= 0 {
		limit = 50
	}
	params := url.Values{"query": {query}, "limit": {strconv.Itoa(limit)}}
	body, err := c.apiGet(ctx, "/search/"+string(mediaType)+"s", params)
	if err != nil {
		return nil, err
	}
	var listing struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("failed to parse tidal search response: %w", err)
	}
	if len(listing.Items) > limit {
		listing.Items = listing.Items[:limit]
	}
	return listing.Items, nil
}

func (c *Tidal) GetDownloadable(ctx context.Context, id string, quality int) (Downloadable, error) {
	if !c.loggedIn {
		return nil, fmt.Errorf("tidal: %w", shared.ErrNotLoggedIn)
	}
	if quality < 0 {
		quality = 0
	}
	if quality > tidalMaxQuality {
		quality = tidalMaxQuality
	}
	params := url.Values{
		"audioquality":      {tidalAudioQuality[quality]},
		"playbackmode":      {"STREAM"},
		"assetpresentation": {"FULL"},
	}
	body, err := c.apiGet(ctx, "/tracks/"+id+"/playbackinfopostpaywall", params)
	if err != nil {
		return nil, err
	}
	var info struct {
		Manifest     string `json:"manifest"`
		AudioQuality string `json:"audioQuality"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse tidal playback info: %w", err)
	}
	manifestJSON, err := base64.StdEncoding.DecodeString(info.Manifest)
	if err != nil {
		return nil, fmt.Errorf("malformed tidal manifest: %w", err)
	}
	var manifest struct {
		URLs           []string `json:"urls"`
		Codecs         string   `json:"codecs"`
		KeyID          string   `json:"keyId"`
		EncryptionType string   `json:"encryptionType"`
		Restrictions   []struct {
			Code string `json:"code"`
		} `json:"restrictions"`
	}
	if err := json.Unmarshal(manifestJSON, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse tidal manifest: %w", err)
	}
	if len(manifest.URLs) == 0 {
		if len(manifest.Restrictions) > 0 {
			// Restriction codes read like CONTENT_NOT_AVAILABLE_IN_LOCATION.
			words := strings.Split(manifest.Restrictions[0].Code, "_")
			reason := words[0] + " " + strings.ToLower(strings.Join(words[1:], " "))
			return nil, fmt.Errorf("tidal track %s: %w: %s", id, shared.ErrNonStreamable, reason)
		}
		return nil, fmt.Errorf("tidal track %s: %w", id, shared.ErrNonStreamable)
	}

	ext := "m4a"
	if strings.Contains(strings.ToLower(manifest.Codecs), "flac") {
		ext = "flac"
	}
	key := ""
	if manifest.EncryptionType != "" && manifest.EncryptionType != "NONE" {
		key = manifest.KeyID
	}
	return &TidalDownloadable{
		Client:      c.stream,
		URL:         manifest.URLs[0],
		Ext:         ext,
		SecurityKey: key,
	}, nil
}

func (c *Tidal) apiGet(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	if params == nil {
		params = url.Values{}
	}
	if cc := c.cfg.Tidal.CountryCode; cc != "" {
		params.Set("countryCode", cc)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.apiBase+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Tidal.AccessToken)
	resp, err := c.api.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tidal request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("tidal: %w", shared.ErrAuthentication)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tidal %s returned status %d", path, resp.StatusCode)
	}
	return body, nil
}

// TidalDownloadable fetches a Tidal stream, decrypting the token-locked
// hi-res files on the fly.
type TidalDownloadable struct {
	Client      *http.Client
	URL         string
	Ext         string
	SecurityKey string
}

func (d *TidalDownloadable) Extension() string { return d.Ext }

func (d *TidalDownloadable) Size(ctx context.Context) (int64, error) {
	b := &BasicDownloadable{Client: d.Client, URL: d.URL, Ext: d.Ext}
	return b.Size(ctx)
}

func (d *TidalDownloadable) Download(ctx context.Context, path string, progress ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return err
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch tidal stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tidal stream returned status %d", resp.StatusCode)
	}
	var src io.Reader = resp.Body
	if d.SecurityKey != "" {
		src, err = newTidalDecryptStream(resp.Body, d.SecurityKey)
		if err != nil {
			return err
		}
	}
	return writeAtomic(path, src, resp.ContentLength, progress)
}
