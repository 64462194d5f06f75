package media

import (
	"context"
	"os"

	"github.com/charmbracelet/log"

	"github.com/nathom/streamrip-sub000/internal/clients"
	"github.com/nathom/streamrip-sub000/internal/ledger"
	"github.com/nathom/streamrip-sub000/internal/shared"
	"github.com/nathom/streamrip-sub000/internal/urls"
)

// PendingAlbum is a request for a full album.
type PendingAlbum struct {
	ID     string
	Client clients.Client
	Cfg    *shared.Config
	DB     *ledger.Ledger
	Log    *log.Logger
}

func (p *PendingAlbum) Item() shared.FailedItem {
	return shared.FailedItem{Source: p.Client.Source(), MediaType: string(urls.Album), ID: p.ID}
}

func (p *PendingAlbum) Resolve(ctx context.Context) (Media, error) {
	source := p.Client.Source()
	if p.DB.Downloaded(p.ID) {
		p.Log.Info("skipping already downloaded album", "source", source, "id", p.ID)
		return nil, nil
	}

	raw, err := p.Client.GetMetadata(ctx, p.ID, urls.Album)
	if err != nil {
		return nil, err
	}
	album, err := parseAlbum(source, raw)
	if err != nil {
		return nil, err
	}
	ids, err := albumTrackIDs(source, raw)
	if err != nil {
		return nil, err
	}

	folder := albumFolder(p.Cfg, source, album)
	covers := newArtworkCache(clients.NewStreamClient())
	children := make([]Pending, 0, len(ids))
	for _, id := range ids {
		children = append(children, &PendingTrack{
			ID:     id,
			Album:  album,
			Folder: folder,
			Client: p.Client,
			Cfg:    p.Cfg,
			DB:     p.DB,
			Log:    p.Log,
			Covers: covers,
		})
	}
	return &Album{
		Title:    album.Album,
		Folder:   folder,
		children: children,
		db:       p.DB,
		log:      p.Log,
	}, nil
}

// Album is a composite Media owning one PendingTrack per album track.
type Album struct {
	Title  string
	Folder string

	children []Pending
	db       *ledger.Ledger
	log      *log.Logger
}

func (a *Album) Rip(ctx context.Context) error {
	if err := os.MkdirAll(a.Folder, 0o755); err != nil {
		return err
	}
	a.log.Info("ripping album", "title", a.Title, "tracks", len(a.children))
	return ripPendings(ctx, a.children, a.db, a.log)
}
