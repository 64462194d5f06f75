package clients

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/nathom/streamrip-sub000/internal/shared"
	"github.com/nathom/streamrip-sub000/internal/urls"
)

const (
	deezerAPIBase    = "https://api.deezer.com"
	deezerGWBase     = "https://www.deezer.com/ajax/gw-light.php"
	deezerMediaURL   = "https://media.deezer.com/v1/get_url"
	deezerMaxQuality = 2
)

// Deezer format numbers by universal quality tier 0..2.
var deezerFormats = [3]struct {
	Number int
	Name   string
}{
	{1, "MP3_128"},
	{3, "MP3_320"},
	{9, "FLAC"},
}

// Deezer implements Client against the public API for metadata and the
// gateway API for stream resolution.
type Deezer struct {
	cfg    *shared.Config
	log    *log.Logger
	api    *http.Client
	gw     *http.Client
	stream *http.Client

	apiBase   string
	gwBase    string
	mediaBase string

	apiToken     string
	licenseToken string
	loggedIn     bool
}

func NewDeezer(cfg *shared.Config, logger *log.Logger) *Deezer {
	// The gateway requires the arl session cookie on every call.
	jar, _ := cookiejar.New(nil)
	gw := NewAPIClient(cfg.Downloads.RequestsPerMinute)
	gw.Jar = jar
	return &Deezer{
		cfg:       cfg,
		log:       logger,
		api:       NewAPIClient(cfg.Downloads.RequestsPerMinute),
		gw:        gw,
		stream:    NewStreamClient(),
		apiBase:   deezerAPIBase,
		gwBase:    deezerGWBase,
		mediaBase: deezerMediaURL,
	}
}

func (c *Deezer) Source() string  { return "deezer" }
func (c *Deezer) MaxQuality() int { return deezerMaxQuality }
func (c *Deezer) LoggedIn() bool  { return c.loggedIn }

func (c *Deezer) Login(ctx context.Context) error {
	arl := c.cfg.Deezer.ARL
	if arl == "" {
		return fmt.Errorf("deezer: %w", shared.ErrMissingCredentials)
	}
	u, err := url.Parse("https://www.deezer.com")
	if err != nil {
		return err
	}
	c.gw.Jar.SetCookies(u, []*http.Cookie{{Name: "arl", Value: arl, Domain: ".deezer.com"}})

	var user struct {
		User struct {
			ID      int64 `json:"USER_ID"`
			Options struct {
				LicenseToken string `json:"license_token"`
			} `json:"OPTIONS"`
		} `json:"USER"`
		CheckForm string `json:"checkForm"`
	}
	if err := c.gwRequest(ctx, "deezer.getUserData", nil, &user); err != nil {
		return err
	}
	if user.User.ID == 0 {
		return fmt.Errorf("deezer: %w: arl cookie rejected", shared.ErrAuthentication)
	}
	c.apiToken = user.CheckForm
	c.licenseToken = user.User.Options.LicenseToken
	c.loggedIn = true
	c.log.Info("logged into deezer", "user_id", user.User.ID)
	return nil
}

func (c *Deezer) GetMetadata(ctx context.Context, id string, mediaType urls.MediaType) (json.RawMessage, error) {
	switch mediaType {
	case urls.Track:
		return c.getTrack(ctx, id)
	case urls.Album:
		return c.getAlbum(ctx, id)
	case urls.Playlist:
		return c.mergeListing(ctx, "/playlist/"+id, "/playlist/"+id+"/tracks", "tracks")
	case urls.Artist:
		return c.mergeListing(ctx, "/artist/"+id, "/artist/"+id+"/albums", "albums")
	}
	return nil, fmt.Errorf("deezer does not serve media type %q", mediaType)
}

func (c *Deezer) getAlbum(ctx context.Context, id string) (json.RawMessage, error) {
	return c.mergeListing(ctx, "/album/"+id, "/album/"+id+"/tracks", "tracks")
}

// getTrack fetches a track and replaces its stub album with the full
// album document so downstream parsing sees complete metadata.
func (c *Deezer) getTrack(ctx context.Context, id string) (json.RawMessage, error) {
	body, err := c.apiGet(ctx, "/track/"+id, nil)
	if err != nil {
		return nil, err
	}
	var track map[string]json.RawMessage
	if err := json.Unmarshal(body, &track); err != nil {
		return nil, fmt.Errorf("failed to parse deezer track: %w", err)
	}
	var albumStub struct {
		ID int64 `json:"id"`
	}
	if raw, ok := track["album"]; ok {
		if err := json.Unmarshal(raw, &albumStub); err == nil && albumStub.ID != 0 {
			album, err := c.getAlbum(ctx, strconv.FormatInt(albumStub.ID, 10))
			if err != nil {
				c.log.Warn("failed to fetch album of deezer track", "track", id, "err", err)
			} else {
				track["album"] = album
			}
		}
	}
	return json.Marshal(track)
}

// mergeListing fetches a document and its paginated child listing, then
// splices the complete child array into the document under key.
func (c *Deezer) mergeListing(ctx context.Context, docPath, listPath, key string) (json.RawMessage, error) {
	body, err := c.apiGet(ctx, docPath, nil)
	if err != nil {
		return nil, err
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse deezer response: %w", err)
	}

	var items []json.RawMessage
	next := listPath + "?limit=100"
	for next != "" {
		page, err := c.apiGet(ctx, next, nil)
		if err != nil {
			return nil, err
		}
		var listing struct {
			Data []json.RawMessage `json:"data"`
			Next string            `json:"next"`
		}
		if err := json.Unmarshal(page, &listing); err != nil {
			return nil, fmt.Errorf("failed to parse deezer listing: %w", err)
		}
		items = append(items, listing.Data...)
		next = strings.TrimPrefix(listing.Next, c.apiBase)
		if len(listing.Data) == 0 {
			break
		}
	}

	merged, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	doc[key] = merged
	if key == "tracks" {
		doc["track_total"], _ = json.Marshal(len(items))
	}
	return json.Marshal(doc)
}

func (c *Deezer) Search(ctx context.Context, mediaType urls.MediaType, query string, limit int) ([]json.RawMessage, error) {
	switch mediaType {
	case urls.Track, urls.Album, urls.Artist, urls.Playlist:
	default:
		return nil, fmt.Errorf("deezer cannot search media type %q", mediaType)
	}
	if limit <= 0 {
		limit = 50
	}
	params := url.Values{"q": {query}, "limit": {strconv.Itoa(limit)}}
	body, err := c.apiGet(ctx, "/search/"+string(mediaType), params)
	if err != nil {
		return nil, err
	}
	var listing struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("failed to parse deezer search response: %w", err)
	}
	if len(listing.Data) > limit {
		listing.Data = listing.Data[:limit]
	}
	return listing.Data, nil
}

func (c *Deezer) GetDownloadable(ctx context.Context, id string, quality int) (Downloadable, error) {
	if !c.loggedIn {
		return nil, fmt.Errorf("deezer: %w", shared.ErrNotLoggedIn)
	}
	if quality > deezerMaxQuality {
		quality = deezerMaxQuality
	}
	if quality < 0 {
		quality = 0
	}

	var info struct {
		MD5Origin    string      `json:"MD5_ORIGIN"`
		MediaVersion string      `json:"MEDIA_VERSION"`
		TrackToken   string      `json:"TRACK_TOKEN"`
		FilesizeMP3  json.Number `json:"FILESIZE_MP3_320"`
		Filesize128  json.Number `json:"FILESIZE_MP3_128"`
		FilesizeFLAC json.Number `json:"FILESIZE_FLAC"`
	}
	if err := c.gwRequest(ctx, "song.getData", map[string]string{"SNG_ID": id}, &info); err != nil {
		return nil, err
	}

	sizes := [3]int64{
		jsonNumber(info.Filesize128),
		jsonNumber(info.FilesizeMP3),
		jsonNumber(info.FilesizeFLAC),
	}
	// Fall back to the best tier the account and track actually have.
	actual := -1
	for q := quality; q >= 0; q-- {
		if sizes[q] > 0 {
			actual = q
			break
		}
	}
	if actual < 0 {
		for q := quality + 1; q <= deezerMaxQuality; q++ {
			if sizes[q] > 0 {
				actual = q
				break
			}
		}
	}
	if actual < 0 {
		return nil, fmt.Errorf("deezer track %s: %w", id, shared.ErrNonStreamable)
	}

	streamURL, err := c.mediaSourceURL(ctx, info.TrackToken, deezerFormats[actual].Name)
	if err != nil || streamURL == "" {
		// The media endpoint refuses some tracks that are still reachable
		// through the legacy encrypted CDN path.
		streamURL = deezerEncryptedMediaURL(id, info.MD5Origin, info.MediaVersion)
	}

	ext := "flac"
	if actual < 2 {
		ext = "mp3"
	}
	return &DeezerDownloadable{
		Client:   c.stream,
		URL:      streamURL,
		TrackID:  id,
		Ext:      ext,
		SizeHint: sizes[actual],
	}, nil
}

// mediaSourceURL asks the media gateway for a direct stream URL.
func (c *Deezer) mediaSourceURL(ctx context.Context, trackToken, format string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"license_token": c.licenseToken,
		"media": []map[string]any{{
			"type":    "FULL",
			"formats": []map[string]string{{"cipher": "BF_CBC_STRIPE", "format": format}},
		}},
		"track_tokens": []string{trackToken},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.mediaBase, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.gw.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var result struct {
		Data []struct {
			Media []struct {
				Sources []struct {
					URL string `json:"url"`
				} `json:"sources"`
			} `json:"media"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.Data) == 0 || len(result.Data[0].Media) == 0 ||
		len(result.Data[0].Media[0].Sources) == 0 {
		return "", nil
	}
	return result.Data[0].Media[0].Sources[0].URL, nil
}

// deezerEncryptedMediaURL derives the legacy CDN URL for a track. The
// path is the AES-ECB encryption of "md5hash|origin|format|id|version"
// joined by 0xa4 separators and dot-padded to a block boundary.
func deezerEncryptedMediaURL(trackID, md5Origin, mediaVersion string) string {
	sep := []byte{0xa4}
	data := bytes.Join([][]byte{
		[]byte(md5Origin),
		[]byte("1"),
		[]byte(trackID),
		[]byte(mediaVersion),
	}, sep)
	sum := md5.Sum(data)

	var buf bytes.Buffer
	buf.WriteString(hex.EncodeToString(sum[:]))
	buf.Write(sep)
	buf.Write(data)
	buf.Write(sep)
	for buf.Len()%aes.BlockSize != 0 {
		buf.WriteByte('.')
	}

	block, err := aes.NewCipher([]byte("jo6aey6haid2Teih"))
	if err != nil {
		panic(err)
	}
	plain := buf.Bytes()
	enc := make([]byte, len(plain))
	for i := 0; i < len(plain); i += aes.BlockSize {
		block.Encrypt(enc[i:i+aes.BlockSize], plain[i:i+aes.BlockSize])
	}
	return fmt.Sprintf("https://e-cdns-proxy-%c.dzcdn.net/mobile/1/%s",
		md5Origin[0], hex.EncodeToString(enc))
}

// gwRequest performs a gateway call and unmarshals its results field.
func (c *Deezer) gwRequest(ctx context.Context, method string, args map[string]string, out any) error {
	token := c.apiToken
	if method == "deezer.getUserData" {
		token = "null"
	}
	params := url.Values{
		"method":      {method},
		"input":       {"3"},
		"api_version": {"1.0"},
		"api_token":   {token},
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.gwBase+"?"+params.Encode(), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	resp, err := c.gw.Do(req)
	if err != nil {
		return fmt.Errorf("deezer gateway request failed: %w", err)
	}
	defer resp.Body.Close()
	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Results json.RawMessage `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to parse deezer gateway response: %w", err)
	}
	if len(envelope.Results) == 0 {
		return fmt.Errorf("deezer gateway %s returned no results: %s", method, envelope.Error)
	}
	return json.Unmarshal(envelope.Results, out)
}

func (c *Deezer) apiGet(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	u := c.apiBase + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.api.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deezer request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deezer %s returned status %d", path, resp.StatusCode)
	}
	return body, nil
}

func jsonNumber(n json.Number) int64 {
	v, _ := n.Int64()
	return v
}

// Encrypted CDN paths are recognizable from the URL alone.
var deezerEncryptedRe = regexp.MustCompile(`/m(?:obile|edia)/`)

// DeezerDownloadable fetches a Deezer stream, transparently decrypting
// files served from the protected CDN paths.
type DeezerDownloadable struct {
	Client   *http.Client
	URL      string
	TrackID  string
	Ext      string
	SizeHint int64
}

func (d *DeezerDownloadable) Extension() string { return d.Ext }

func (d *DeezerDownloadable) Size(ctx context.Context) (int64, error) {
	return d.SizeHint, nil
}

func (d *DeezerDownloadable) Download(ctx context.Context, path string, progress ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return err
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch deezer stream: %w", err)
	}
	defer resp.Body.Close()

	// Tiny responses are error documents, not audio.
	if resp.ContentLength >= 0 && resp.ContentLength < 20000 && !strings.HasSuffix(d.URL, ".jpg") {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 20000))
		var apiErr map[string]json.RawMessage
		if json.Unmarshal(body, &apiErr) == nil {
			return fmt.Errorf("deezer track %s: %w: %s", d.TrackID, shared.ErrNonStreamable, body)
		}
		return fmt.Errorf("deezer returned %d bytes for track %s", len(body), d.TrackID)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("deezer stream returned status %d", resp.StatusCode)
	}

	var src io.Reader = resp.Body
	if deezerEncryptedRe.MatchString(d.URL) {
		src, err = newDeezerDecryptReader(resp.Body, d.TrackID)
		if err != nil {
			return err
		}
	}
	return writeAtomic(path, src, resp.ContentLength, progress)
}
