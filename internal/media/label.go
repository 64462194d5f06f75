package media

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/nathom/streamrip-sub000/internal/clients"
	"github.com/nathom/streamrip-sub000/internal/ledger"
	"github.com/nathom/streamrip-sub000/internal/metadata"
	"github.com/nathom/streamrip-sub000/internal/shared"
	"github.com/nathom/streamrip-sub000/internal/urls"
)

// PendingLabel is a request for a label's full catalog. Only Qobuz
// exposes labels.
type PendingLabel struct {
	ID     string
	Client clients.Client
	Cfg    *shared.Config
	DB     *ledger.Ledger
	Log    *log.Logger
}

func (p *PendingLabel) Item() shared.FailedItem {
	return shared.FailedItem{Source: p.Client.Source(), MediaType: string(urls.Label), ID: p.ID}
}

func (p *PendingLabel) Resolve(ctx context.Context) (Media, error) {
	if p.Client.Source() != "qobuz" {
		return nil, fmt.Errorf("source %q does not serve labels", p.Client.Source())
	}
	raw, err := p.Client.GetMetadata(ctx, p.ID, urls.Label)
	if err != nil {
		return nil, err
	}
	label, err := metadata.ParseQobuzLabel(raw)
	if err != nil {
		return nil, err
	}

	// Label catalogs mix artists, so the features filter has no single
	// artist name to compare against; the remaining predicates apply.
	albums := filterAlbums(label.Albums, "", &shared.QobuzFiltersConfig{
		Extras:                p.Cfg.QobuzFilters.Extras,
		Repeats:               p.Cfg.QobuzFilters.Repeats,
		NonRemaster:           p.Cfg.QobuzFilters.NonRemaster,
		RepeatsPreferExplicit: p.Cfg.QobuzFilters.RepeatsPreferExplicit,
	})
	p.Log.Info("resolved label", "name", label.Name, "albums", len(albums))

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
	return &Label{Name: label.Name, children: children, db: p.DB, log: p.Log}, nil
}

// Label is a composite Media owning one PendingAlbum per catalog album.
type Label struct {
	Name string

	children []Pending
	db       *ledger.Ledger
	log      *log.Logger
}

func (l *Label) Rip(ctx context.Context) error {
	l.log.Info("ripping label catalog", "label", l.Name, "albums", len(l.children))
	return ripPendings(ctx, l.children, l.db, l.log)
}
