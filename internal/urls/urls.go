// package urls classifies raw input strings into (source, media type, id)
// triples for the resolution pipeline.
//
// Some URL forms do not carry the item id directly: Deezer short links and
// Qobuz interpreter pages need one extra fetch-and-scrape round trip, and
// SoundCloud vanity URLs are resolved through the SoundCloud API by its
// client. The router only classifies; it never performs network calls
// itself.
package urls

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
)

// MediaType enumerates the five downloadable kinds.
type MediaType string

const (
	Track    MediaType = "track"
	Album    MediaType = "album"
	Playlist MediaType = "playlist"
	Artist   MediaType = "artist"
	Label    MediaType = "label"
)

// Kind distinguishes how a matched URL yields its item id.
type Kind int

const (
	// Direct URLs carry source, media type and id in the path.
	Direct Kind = iota
	// QobuzInterpreter URLs name an artist by vanity slug; the artist id
	// is scraped from the page unless the slug is already numeric.
	QobuzInterpreter
	// DeezerDynamic short links redirect to a canonical URL that is
	// scraped for the media type and id.
	DeezerDynamic
	// Soundcloud vanity URLs are resolved through the SoundCloud API.
	Soundcloud
)

// Parsed is an immutable classification of one input URL.
type Parsed struct {
	Raw       string
	Kind      Kind
	Source    string
	MediaType MediaType
	ID        string
}

var (
	genericRe = regexp.MustCompile(
		`https?://(?:www|open|play|listen)?\.?(qobuz|tidal|deezer|dzr)\.?(?:com|page\.link)(?:(?:/(album|artist|track|playlist|label))|(?:/[-\w]+?))+/([-\w]+)`,
	)
	soundcloudRe       = regexp.MustCompile(`https://soundcloud\.com/[-\w:/]+`)
	qobuzInterpreterRe = regexp.MustCompile(`https?://www\.qobuz\.com/\w\w-\w\w/interpreter/[-\w]+/([-\w]+)`)
	deezerDynamicRe    = regexp.MustCompile(`https://(?:deezer|dzr)\.page\.link/\w+`)

	interpreterArtistRe = regexp.MustCompile(`getSimilarArtist\(\s*'(\w+)'`)
	deezerCanonicalRe   = regexp.MustCompile(`https://www\.deezer\.com/[a-z]{2}/(album|artist|playlist|track)/(\d+)`)
)

// Parse classifies a single URL string. It returns false when nothing
// matched; the caller decides whether that is fatal.
func Parse(raw string) (Parsed, bool) {
	raw = strings.TrimSpace(raw)

	// Interpreter and dynamic forms would also partially match the
	// generic grammar, so they are tried first.
	if m := qobuzInterpreterRe.FindStringSubmatch(raw); m != nil {
		return Parsed{
			Raw:       m[0],
			Kind:      QobuzInterpreter,
			Source:    "qobuz",
			MediaType: Artist,
			ID:        m[1],
		}, true
	}
	if m := deezerDynamicRe.FindString(raw); m != "" {
		return Parsed{Raw: m, Kind: DeezerDynamic, Source: "deezer"}, true
	}
	if m := genericRe.FindStringSubmatch(raw); m != nil && m[2] != "" {
		source := m[1]
		if source == "dzr" {
			source = "deezer"
		}
		return Parsed{
			Raw:       m[0],
			Kind:      Direct,
			Source:    source,
			MediaType: MediaType(m[2]),
			ID:        m[3],
		}, true
	}
	if m := soundcloudRe.FindString(raw); m != "" {
		return Parsed{Raw: m, Kind: Soundcloud, Source: "soundcloud"}, true
	}
	return Parsed{}, false
}

// FindAll extracts every non-overlapping recognized URL embedded in a
// block of text, in order of appearance. Unmatched stretches are skipped.
func FindAll(text string) []Parsed {
	type span struct {
		start, end int
		p          Parsed
	}
	var spans []span

	collect := func(re *regexp.Regexp) {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			if p, ok := Parse(text[loc[0]:loc[1]]); ok {
				spans = append(spans, span{loc[0], loc[1], p})
			}
		}
	}
	collect(qobuzInterpreterRe)
	collect(deezerDynamicRe)
	collect(genericRe)
	collect(soundcloudRe)

	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})

	var out []Parsed
	lastEnd := -1
	for _, s := range spans {
		if s.start < lastEnd {
			continue
		}
		out = append(out, s.p)
		lastEnd = s.end
	}
	return out
}

// ResolveInterpreter recovers a Qobuz artist id from an interpreter page.
// Slugs that are already numeric skip the fetch.
func ResolveInterpreter(ctx context.Context, client *http.Client, p Parsed) (string, error) {
	if isDigits(p.ID) {
		return p.ID, nil
	}
	body, err := fetch(ctx, client, p.Raw)
	if err != nil {
		return "", err
	}
	m := interpreterArtistRe.FindStringSubmatch(body)
	if m == nil {
		return "", fmt.Errorf("no artist id found in interpreter page %s", p.Raw)
	}
	return m[1], nil
}

// ResolveDynamic recovers the media type and id behind a Deezer short
// link by scraping the redirect target page.
func ResolveDynamic(ctx context.Context, client *http.Client, p Parsed) (MediaType, string, error) {
	body, err := fetch(ctx, client, p.Raw)
	if err != nil {
		return "", "", err
	}
	m := deezerCanonicalRe.FindStringSubmatch(body)
	if m == nil {
		return "", "", fmt.Errorf("no canonical deezer link found behind %s", p.Raw)
	}
	return MediaType(m[1]), m[2], nil
}

func fetch(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
