// package rip owns one acquisition run: it turns raw input into
// classified requests, lazily builds and authenticates the service
// clients the requests need, and drives the resolution pipeline.
package rip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/nathom/streamrip-sub000/internal/clients"
	"github.com/nathom/streamrip-sub000/internal/ledger"
	"github.com/nathom/streamrip-sub000/internal/media"
	"github.com/nathom/streamrip-sub000/internal/shared"
	"github.com/nathom/streamrip-sub000/internal/urls"
)

// Rip is the state of one run. Clients are constructed and logged in at
// most once per source, on first use; nothing here outlives the run.
type Rip struct {
	cfg *shared.Config
	db  *ledger.Ledger
	log *log.Logger

	mu      sync.Mutex
	clients map[string]clients.Client
}

// New builds a run around a loaded configuration.
func New(cfg *shared.Config, logger *log.Logger) (*Rip, error) {
	db, err := ledger.New(&cfg.Database)
	if err != nil {
		return nil, err
	}
	return &Rip{
		cfg:     cfg,
		db:      db,
		log:     logger,
		clients: make(map[string]clients.Client),
	}, nil
}

// Close saves back any discovered session material and releases the
// ledger. Call it after the run, regardless of outcome.
func (r *Rip) Close() {
	if err := r.cfg.Save(); err != nil {
		r.log.Warn("failed to save config", "err", err)
	}
	r.db.Close()
}

// URLs rips every recognized URL among the arguments. Arguments that
// match nothing are reported and skipped, not fatal.
func (r *Rip) URLs(ctx context.Context, args []string) error {
	var parsed []urls.Parsed
	for _, arg := range args {
		p, ok := urls.Parse(arg)
		if !ok {
			r.log.Warn("no downloadable URL found", "input", arg)
			continue
		}
		parsed = append(parsed, p)
	}
	return r.rip(ctx, parsed)
}

// File rips every URL found anywhere in a text file, in order of
// appearance.
func (r *Rip) File(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read url file: %w", err)
	}
	found := urls.FindAll(string(data))
	r.log.Info("scanned url file", "path", path, "found", len(found))
	return r.rip(ctx, found)
}

// Search runs a query against one service and returns the raw result
// documents.
func (r *Rip) Search(ctx context.Context, source string, mediaType urls.MediaType, query string, limit int) ([]json.RawMessage, error) {
	c, err := r.client(ctx, source)
	if err != nil {
		return nil, err
	}
	return c.Search(ctx, mediaType, query, limit)
}

// Failed lists every failure tuple recorded in the ledger.
func (r *Rip) Failed() []shared.FailedItem {
	return r.db.AllFailed()
}

func (r *Rip) rip(ctx context.Context, parsed []urls.Parsed) error {
	if len(parsed) == 0 {
		return fmt.Errorf("no downloadable URLs in input")
	}

	var items []media.Pending
	var failed []shared.FailedItem
	for _, p := range parsed {
		pending, err := r.pending(ctx, p)
		if err != nil {
			r.log.Error("cannot resolve request", "url", p.Raw, "err", err)
			item := shared.FailedItem{Source: p.Source, MediaType: string(p.MediaType), ID: p.ID}
			r.db.SetFailed(item.Source, item.MediaType, item.ID)
			failed = append(failed, item)
			continue
		}
		items = append(items, pending)
	}

	err := media.RipAll(ctx, items, r.db, r.log)
	var partial *shared.PartialFailureError
	if errors.As(err, &partial) {
		failed = append(failed, partial.Failed...)
		err = nil
	}
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		return &shared.PartialFailureError{Failed: failed}
	}
	return nil
}

// pending classifies one parsed URL into the request that will resolve
// it, performing the extra round trip some URL forms need.
func (r *Rip) pending(ctx context.Context, p urls.Parsed) (media.Pending, error) {
	switch p.Kind {
	case urls.QobuzInterpreter:
		c, err := r.client(ctx, "qobuz")
		if err != nil {
			return nil, err
		}
		id, err := urls.ResolveInterpreter(ctx, clients.NewStreamClient(), p)
		if err != nil {
			return nil, err
		}
		return &media.PendingArtist{ID: id, Client: c, Cfg: r.cfg, DB: r.db, Log: r.log}, nil

	case urls.DeezerDynamic:
		mediaType, id, err := urls.ResolveDynamic(ctx, clients.NewStreamClient(), p)
		if err != nil {
			return nil, err
		}
		p.MediaType = mediaType
		p.ID = id
		return r.direct(ctx, p)

	case urls.Soundcloud:
		return r.soundcloudPending(ctx, p)
	}
	return r.direct(ctx, p)
}

func (r *Rip) direct(ctx context.Context, p urls.Parsed) (media.Pending, error) {
	c, err := r.client(ctx, p.Source)
	if err != nil {
		return nil, err
	}
	switch p.MediaType {
	case urls.Track:
		return &media.PendingTrack{ID: p.ID, Client: c, Cfg: r.cfg, DB: r.db, Log: r.log}, nil
	case urls.Album:
		return &media.PendingAlbum{ID: p.ID, Client: c, Cfg: r.cfg, DB: r.db, Log: r.log}, nil
	case urls.Playlist:
		return &media.PendingPlaylist{ID: p.ID, Client: c, Cfg: r.cfg, DB: r.db, Log: r.log}, nil
	case urls.Artist:
		return &media.PendingArtist{ID: p.ID, Client: c, Cfg: r.cfg, DB: r.db, Log: r.log}, nil
	case urls.Label:
		return &media.PendingLabel{ID: p.ID, Client: c, Cfg: r.cfg, DB: r.db, Log: r.log}, nil
	}
	return nil, fmt.Errorf("unsupported media type %q", p.MediaType)
}

// soundcloudPending resolves a vanity URL through the SoundCloud API;
// the response names the kind of item it points to.
func (r *Rip) soundcloudPending(ctx context.Context, p urls.Parsed) (media.Pending, error) {
	c, err := r.client(ctx, "soundcloud")
	if err != nil {
		return nil, err
	}
	sc, ok := c.(*clients.Soundcloud)
	if !ok {
		return nil, fmt.Errorf("soundcloud client does not resolve URLs")
	}
	raw, err := sc.ResolveURL(ctx, p.Raw)
	if err != nil {
		return nil, err
	}
	var probe struct {
		Kind string      `json:"kind"`
		ID   json.Number `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse resolved soundcloud item: %w", err)
	}
	switch probe.Kind {
	case "track":
		return &media.PendingTrack{
			ID: probe.ID.String(), Raw: raw,
			Client: c, Cfg: r.cfg, DB: r.db, Log: r.log,
		}, nil
	case "playlist":
		return &media.PendingPlaylist{
			ID: probe.ID.String(),
			Client: c, Cfg: r.cfg, DB: r.db, Log: r.log,
		}, nil
	}
	return nil, fmt.Errorf("soundcloud kind %q is not downloadable", probe.Kind)
}

// client returns the authenticated client for a source, constructing
// and logging it in on first use.
func (r *Rip) client(ctx context.Context, source string) (clients.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[source]; ok {
		return c, nil
	}

	var c clients.Client
	switch source {
	case "qobuz":
		c = clients.NewQobuz(r.cfg, r.log)
	case "deezer":
		c = clients.NewDeezer(r.cfg, r.log)
	case "tidal":
		c = clients.NewTidal(r.cfg, r.log)
	case "soundcloud":
		c = clients.NewSoundcloud(r.cfg, r.log)
	default:
		return nil, fmt.Errorf("unknown source %q", source)
	}
	if err := c.Login(ctx); err != nil {
		return nil, fmt.Errorf("%s login failed: %w", source, err)
	}
	r.clients[source] = c
	return c, nil
}
