package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/nathom/streamrip-sub000/internal/clients"
	"github.com/nathom/streamrip-sub000/internal/ledger"
	"github.com/nathom/streamrip-sub000/internal/metadata"
	"github.com/nathom/streamrip-sub000/internal/shared"
	"github.com/nathom/streamrip-sub000/internal/urls"
)

// PendingPlaylist is a request for a playlist and all its tracks.
type PendingPlaylist struct {
	ID     string
	Client clients.Client
	Cfg    *shared.Config
	DB     *ledger.Ledger
	Log    *log.Logger
}

func (p *PendingPlaylist) Item() shared.FailedItem {
	return shared.FailedItem{Source: p.Client.Source(), MediaType: string(urls.Playlist), ID: p.ID}
}

func (p *PendingPlaylist) Resolve(ctx context.Context) (Media, error) {
	source := p.Client.Source()
	raw, err := p.Client.GetMetadata(ctx, p.ID, urls.Playlist)
	if err != nil {
		return nil, err
	}

	name, children, err := p.expand(source, raw)
	if err != nil {
		return nil, err
	}
	folder := filepath.Join(sourceFolder(p.Cfg, source),
		metadata.CleanFilename(name, p.Cfg.Filepaths.RestrictCharacters))
	covers := newArtworkCache(clients.NewStreamClient())
	for _, c := range children {
		t := c.(*PendingTrack)
		t.Folder = folder
		t.Covers = covers
	}

	return &Playlist{
		Name:     name,
		Folder:   folder,
		children: children,
		db:       p.DB,
		log:      p.Log,
	}, nil
}

// expand builds the child requests from the playlist document. Sources
// differ in how much the document itself carries: Qobuz entries are full
// tracks, SoundCloud entries are hydrated raw documents, the rest are
// ids fetched individually later.
func (p *PendingPlaylist) expand(source string, raw json.RawMessage) (string, []Pending, error) {
	child := func(id string, position int) *PendingTrack {
		return &PendingTrack{
			ID:       id,
			Position: position,
			Client:   p.Client,
			Cfg:      p.Cfg,
			DB:       p.DB,
			Log:      p.Log,
		}
	}

	switch source {
	case "qobuz":
		pl, err := metadata.ParseQobuzPlaylist(raw)
		if err != nil {
			return "", nil, err
		}
		children := make([]Pending, 0, len(pl.Tracks))
		for i, tm := range pl.Tracks {
			c := child(tm.Info.ID, i+1)
			c.Meta = tm
			c.PlaylistName = pl.Name
			children = append(children, c)
		}
		return pl.Name, children, nil

	case "deezer", "tidal":
		var name string
		var ids []string
		var err error
		if source == "deezer" {
			name, ids, err = metadata.ParseDeezerPlaylist(raw)
		} else {
			name, ids, err = metadata.ParseTidalPlaylist(raw)
		}
		if err != nil {
			return "", nil, err
		}
		children := make([]Pending, 0, len(ids))
		for i, id := range ids {
			c := child(id, i+1)
			c.PlaylistName = name
			children = append(children, c)
		}
		return name, children, nil

	case "soundcloud":
		var doc struct {
			Title  string            `json:"title"`
			Tracks []json.RawMessage `json:"tracks"`
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return "", nil, fmt.Errorf("failed to parse soundcloud playlist: %w", err)
		}
		children := make([]Pending, 0, len(doc.Tracks))
		for i, rawTrack := range doc.Tracks {
			var probe struct {
				ID json.Number `json:"id"`
			}
			if err := json.Unmarshal(rawTrack, &probe); err != nil {
				continue
			}
			c := child(probe.ID.String(), i+1)
			c.Raw = rawTrack
			c.PlaylistName = doc.Title
			children = append(children, c)
		}
		return doc.Title, children, nil
	}
	return "", nil, fmt.Errorf("no playlist parser for source %q", source)
}

// Playlist is a composite Media owning one PendingTrack per entry.
type Playlist struct {
	Name   string
	Folder string

	children []Pending
	db       *ledger.Ledger
	log      *log.Logger
}

func (p *Playlist) Rip(ctx context.Context) error {
	if err := os.MkdirAll(p.Folder, 0o755); err != nil {
		return err
	}
	p.log.Info("ripping playlist", "name", p.Name, "tracks", len(p.children))
	return ripPendings(ctx, p.children, p.db, p.log)
}
