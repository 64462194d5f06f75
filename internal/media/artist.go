package media

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/nathom/streamrip-sub000/internal/clients"
	"github.com/nathom/streamrip-sub000/internal/ledger"
	"github.com/nathom/streamrip-sub000/internal/metadata"
	"github.com/nathom/streamrip-sub000/internal/shared"
	"github.com/nathom/streamrip-sub000/internal/urls"
)

// PendingArtist is a request for an artist's discography.
type PendingArtist struct {
	ID     string
	Client clients.Client
	Cfg    *shared.Config
	DB     *ledger.Ledger
	Log    *log.Logger
}

func (p *PendingArtist) Item() shared.FailedItem {
	return shared.FailedItem{Source: p.Client.Source(), MediaType: string(urls.Artist), ID: p.ID}
}

func (p *PendingArtist) Resolve(ctx context.Context) (Media, error) {
	source := p.Client.Source()
	raw, err := p.Client.GetMetadata(ctx, p.ID, urls.Artist)
	if err != nil {
		return nil, err
	}
	var artist *metadata.ArtistMetadata
	switch source {
	case "qobuz":
		artist, err = metadata.ParseQobuzArtist(raw)
	case "deezer":
		artist, err = metadata.ParseDeezerArtist(raw)
	case "tidal":
		artist, err = metadata.ParseTidalArtist(raw)
	default:
		return nil, fmt.Errorf("no artist parser for source %q", source)
	}
	if err != nil {
		return nil, err
	}

	albums := filterAlbums(artist.Albums, artist.Name, &p.Cfg.QobuzFilters)
	p.Log.Info("resolved artist", "name", artist.Name,
		"albums", len(albums), "filtered_out", len(artist.Albums)-len(albums))

	children := make([]Pending, 0, len(albums))
	for _, a := range albums {
		children = append(children, &PendingAlbum{
			ID:     a.ID,
			Client: p.Client,
			Cfg:    p.Cfg,
			DB:     p.DB,
			Log:    p.Log,
		})
	}
	return &Artist{Name: artist.Name, children: children, db: p.DB, log: p.Log}, nil
}

// Artist is a composite Media owning one PendingAlbum per kept album.
type Artist struct {
	Name string

	children []Pending
	db       *ledger.Ledger
	log      *log.Logger
}

func (a *Artist) Rip(ctx context.Context) error {
	a.log.Info("ripping discography", "artist", a.Name, "albums", len(a.children))
	return ripPendings(ctx, a.children, a.db, a.log)
}

var (
	extrasRe   = regexp.MustCompile(`(?i)(anniversary|deluxe|live|collector|demo|expanded|remix)`)
	remasterRe = regexp.MustCompile(`(?i)(re)?master(ed)?`)
	// Bracketed and parenthetical qualifiers do not distinguish editions.
	qualifierRe = regexp.MustCompile(`[\(\[][^)\]]*[\)\]]`)
)

// filterAlbums applies the configured discography predicates to an
// artist's or label's album list.
func filterAlbums(albums []metadata.AlbumSummary, artistName string, f *shared.QobuzFiltersConfig) []metadata.AlbumSummary {
	keep := func(a metadata.AlbumSummary) bool {
		if f.Extras && extrasRe.MatchString(a.Title) {
			return false
		}
		if f.Features && !strings.EqualFold(a.Artist, artistName) {
			return false
		}
		if f.NonStudioAlbums &&
			(extrasRe.MatchString(a.Title) || !strings.EqualFold(a.Artist, artistName)) {
			return false
		}
		if f.NonRemaster && !remasterRe.MatchString(a.Title) {
			return false
		}
		return true
	}

	out := albums[:0:0]
	for _, a := range albums {
		if keep(a) {
			out = append(out, a)
		}
	}
	if f.Repeats {
		out = dedupeRepeats(out, f.RepeatsPreferExplicit)
	}
	return out
}

// dedupeRepeats keeps one edition per essential title. The winner has
// the highest bit depth, then the highest sample rate, then the explicit
// flag; preferExplicit puts the explicit flag first instead.
func dedupeRepeats(albums []metadata.AlbumSummary, preferExplicit bool) []metadata.AlbumSummary {
	better := func(a, b metadata.AlbumSummary) bool {
		if preferExplicit && a.Explicit != b.Explicit {
			return a.Explicit
		}
		if a.BitDepth != b.BitDepth {
			return a.BitDepth > b.BitDepth
		}
		if a.SamplingRate != b.SamplingRate {
			return a.SamplingRate > b.SamplingRate
		}
		return a.Explicit && !b.Explicit
	}

	var order []string
	winners := make(map[string]metadata.AlbumSummary)
	for _, a := range albums {
		key := essenceTitle(a.Title)
		w, seen := winners[key]
		if !seen {
			order = append(order, key)
			winners[key] = a
			continue
		}
		if better(a, w) {
			winners[key] = a
		}
	}
	out := make([]metadata.AlbumSummary, 0, len(order))
	for _, key := range order {
		out = append(out, winners[key])
	}
	return out
}

func essenceTitle(title string) string {
	t := qualifierRe.ReplaceAllString(title, "")
	return strings.ToLower(strings.Join(strings.Fields(t), " "))
}
