package clients

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
)

// Qobuz publishes no API credentials. The web player bundle embeds an app
// id and a set of obfuscated signing-secret candidates, which are scraped
// from the login page on first run and cached in the config.
const qobuzPlayBase = "https://play.qobuz.com"

var (
	qobuzBundleURLRe = regexp.MustCompile(
		`<script src="(/resources/\d+\.\d+\.\d+-[a-z]\d{3}/bundle\.js)"></script>`,
	)
	qobuzAppIDRe = regexp.MustCompile(
		`{app_id:"(?P<app_id>\d{9})",app_secret:"\w{32}",base_port:"80",base_url:"https://www\.qobuz\.com",base_method:"/api\.json/0\.2/"},n\.base_url="https://play\.qobuz\.com"`,
	)
	qobuzSeedRe = regexp.MustCompile(
		`[a-z]\.initialSeed\("(?P<seed>[\w=]+)",window\.utimezone\.(?P<timezone>[a-z]+)\)`,
	)
)

type qobuzSpoofer struct {
	client *http.Client
	bundle string
}

// newQobuzSpoofer fetches the current web player bundle from playBase.
func newQobuzSpoofer(ctx context.Context, client *http.Client, playBase string) (*qobuzSpoofer, error) {
	loginPage, err := fetchText(ctx, client, playBase+"/login")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch qobuz login page: %w", err)
	}
	m := qobuzBundleURLRe.FindStringSubmatch(loginPage)
	if m == nil {
		return nil, fmt.Errorf("no bundle url in qobuz login page")
	}
	bundle, err := fetchText(ctx, client, playBase+m[1])
	if err != nil {
		return nil, fmt.Errorf("failed to fetch qobuz bundle: %w", err)
	}
	return &qobuzSpoofer{client: client, bundle: bundle}, nil
}

func (s *qobuzSpoofer) appID() (string, error) {
	m := qobuzAppIDRe.FindStringSubmatch(s.bundle)
	if m == nil {
		return "", fmt.Errorf("no app id in qobuz bundle")
	}
	return m[1], nil
}

// secrets reassembles the signing-secret candidates hidden in the bundle.
// Each candidate is the base64 of seed+info+extras for one timezone, with
// the trailing 44 characters discarded. The bundle's ternary obfuscation
// always takes the second branch, so the second captured pair is the one
// actually in use and is moved to the front.
func (s *qobuzSpoofer) secrets() ([]string, error) {
	type pair struct {
		timezone string
		parts    []string
	}
	var pairs []pair
	for _, m := range qobuzSeedRe.FindAllStringSubmatch(s.bundle, -1) {
		pairs = append(pairs, pair{timezone: m[2], parts: []string{m[1]}})
	}
	if len(pairs) < 2 {
		return nil, fmt.Errorf("expected at least 2 seed captures, got %d", len(pairs))
	}
	pairs[0], pairs[1] = pairs[1], pairs[0]

	timezones := make([]string, len(pairs))
	for i, p := range pairs {
		timezones[i] = strings.ToUpper(p.timezone[:1]) + p.timezone[1:]
	}
	infoExtrasRe, err := regexp.Compile(
		`name:"\w+/(?P<timezone>` + strings.Join(timezones, "|") +
			`)",info:"(?P<info>[\w=]+)",extras:"(?P<extras>[\w=]+)"`,
	)
	if err != nil {
		return nil, err
	}
	for _, m := range infoExtrasRe.FindAllStringSubmatch(s.bundle, -1) {
		tz := strings.ToLower(m[1])
		for i := range pairs {
			if pairs[i].timezone == tz {
				pairs[i].parts = append(pairs[i].parts, m[2], m[3])
			}
		}
	}

	var out []string
	for _, p := range pairs {
		joined := strings.Join(p.parts, "")
		if len(joined) <= 44 {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(joined[:len(joined)-44])
		if err != nil || len(decoded) == 0 {
			continue
		}
		out = append(out, string(decoded))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no usable secrets in qobuz bundle")
	}
	return out, nil
}

func fetchText(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s returned status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
