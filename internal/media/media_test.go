package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/nathom/streamrip-sub000/internal/clients"
	"github.com/nathom/streamrip-sub000/internal/ledger"
	"github.com/nathom/streamrip-sub000/internal/shared"
	"github.com/nathom/streamrip-sub000/internal/urls"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

// memStore is an in-memory ledger.Store for lifecycle tests.
type memStore struct {
	mu       sync.Mutex
	done     map[string]bool
	failures []shared.FailedItem
}

func newMemStore() *memStore {
	return &memStore{done: make(map[string]bool)}
}

func (m *memStore) Downloaded(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done[id], nil
}

func (m *memStore) SetDownloaded(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done[id] = true
	return nil
}

func (m *memStore) SetFailed(source, mediaType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, shared.FailedItem{Source: source, MediaType: mediaType, ID: id})
	return nil
}

func (m *memStore) AllFailed() ([]shared.FailedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]shared.FailedItem(nil), m.failures...), nil
}

func (m *memStore) Close() error { return nil }

func memLedger(ms *memStore) *ledger.Ledger {
	return &ledger.Ledger{Downloads: ms, Failures: ms}
}

// stubClient satisfies clients.Client with pluggable behavior.
type stubClient struct {
	source     string
	maxQuality int
	metadata   func(ctx context.Context, id string, mt urls.MediaType) (json.RawMessage, error)
	download   func(ctx context.Context, id string, quality int) (clients.Downloadable, error)
}

func (s *stubClient) Source() string { return s.source }

func (s *stubClient) MaxQuality() int { return s.maxQuality }

func (s *stubClient) Login(context.Context) error { return nil }

func (s *stubClient) LoggedIn() bool { return true }

func (s *stubClient) GetMetadata(ctx context.Context, id string, mt urls.MediaType) (json.RawMessage, error) {
	if s.metadata == nil {
		return nil, errors.New("no metadata stub")
	}
	return s.metadata(ctx, id, mt)
}

func (s *stubClient) Search(context.Context, urls.MediaType, string, int) ([]json.RawMessage, error) {
	return nil, errors.New("no search stub")
}

func (s *stubClient) GetDownloadable(ctx context.Context, id string, quality int) (clients.Downloadable, error) {
	if s.download == nil {
		return nil, errors.New("no downloadable stub")
	}
	return s.download(ctx, id, quality)
}

// stubDownloadable writes fixed bytes to the destination, optionally
// failing the first few attempts.
type stubDownloadable struct {
	ext      string
	data     []byte
	failures int

	mu    sync.Mutex
	calls int
}

func (d *stubDownloadable) Size(context.Context) (int64, error) {
	return int64(len(d.data)), nil
}

func (d *stubDownloadable) Extension() string { return d.ext }

func (d *stubDownloadable) Download(ctx context.Context, path string, _ clients.ProgressFunc) error {
	d.mu.Lock()
	d.calls++
	fail := d.calls <= d.failures
	d.mu.Unlock()
	if fail {
		return errors.New("transfer interrupted")
	}
	return os.WriteFile(path, d.data, 0o644)
}

func (d *stubDownloadable) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// fakePending resolves to a canned Media or error.
type fakePending struct {
	id      string
	media   Media
	err     error
	skipped bool
}

func (f *fakePending) Item() shared.FailedItem {
	return shared.FailedItem{Source: "test", MediaType: "track", ID: f.id}
}

func (f *fakePending) Resolve(context.Context) (Media, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.skipped {
		return nil, nil
	}
	return f.media, nil
}

type fakeMedia struct {
	ripErr error

	mu   sync.Mutex
	rips int
}

func (f *fakeMedia) Rip(context.Context) error {
	f.mu.Lock()
	f.rips++
	f.mu.Unlock()
	return f.ripErr
}

func (f *fakeMedia) ripCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rips
}

// resetDownloadGate clears the process-wide download cap for one test.
func resetDownloadGate(t *testing.T) {
	t.Helper()
	downloadMu.Lock()
	downloadInit = false
	downloadSem = nil
	downloadCap = 0
	downloadMu.Unlock()
	t.Cleanup(func() {
		downloadMu.Lock()
		downloadInit = false
		downloadSem = nil
		downloadCap = 0
		downloadMu.Unlock()
	})
}

func TestRipPendingsPartialFailure(t *testing.T) {
	ms := newMemStore()
	var children []Pending
	var medias []*fakeMedia
	for i := 0; i < 12; i++ {
		if i == 5 {
			children = append(children, &fakePending{
				id:  fmt.Sprintf("id-%d", i),
				err: shared.ErrNonStreamable,
			})
			continue
		}
		m := &fakeMedia{}
		medias = append(medias, m)
		children = append(children, &fakePending{id: fmt.Sprintf("id-%d", i), media: m})
	}

	err := ripPendings(context.Background(), children, memLedger(ms), quietLogger())

	var partial *shared.PartialFailureError
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialFailureError, got %v", err)
	}
	if len(partial.Failed) != 1 || partial.Failed[0].ID != "id-5" {
		t.Fatalf("unexpected failures: %+v", partial.Failed)
	}
	for i, m := range medias {
		if m.ripCount() != 1 {
			t.Errorf("sibling %d ripped %d times", i, m.ripCount())
		}
	}
	recorded, _ := ms.AllFailed()
	if len(recorded) != 1 || recorded[0].ID != "id-5" {
		t.Errorf("ledger recorded %+v", recorded)
	}
}

func TestRipPendingsSkipsAndSucceeds(t *testing.T) {
	ms := newMemStore()
	m := &fakeMedia{}
	children := []Pending{
		&fakePending{id: "done", skipped: true},
		&fakePending{id: "fresh", media: m},
	}
	if err := ripPendings(context.Background(), children, memLedger(ms), quietLogger()); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if m.ripCount() != 1 {
		t.Errorf("fresh item ripped %d times", m.ripCount())
	}
	if recorded, _ := ms.AllFailed(); len(recorded) != 0 {
		t.Errorf("ledger recorded %+v", recorded)
	}
}

func TestRipPendingsMergesNestedFailures(t *testing.T) {
	ms := newMemStore()
	nested := &shared.PartialFailureError{Failed: []shared.FailedItem{
		{Source: "test", MediaType: "track", ID: "inner-1"},
		{Source: "test", MediaType: "track", ID: "inner-2"},
	}}
	children := []Pending{
		&fakePending{id: "album-1", media: &fakeMedia{ripErr: nested}},
	}

	err := ripPendings(context.Background(), children, memLedger(ms), quietLogger())

	var partial *shared.PartialFailureError
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialFailureError, got %v", err)
	}
	if len(partial.Failed) != 2 {
		t.Fatalf("expected the nested tuples, got %+v", partial.Failed)
	}
	// The nested composite already recorded its own items; the parent
	// must not add an album tuple on top.
	if recorded, _ := ms.AllFailed(); len(recorded) != 0 {
		t.Errorf("parent double-recorded: %+v", recorded)
	}
}

func TestRipPendingsStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := &fakeMedia{}
	err := ripPendings(ctx, []Pending{&fakePending{id: "x", media: m}},
		memLedger(newMemStore()), quietLogger())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if m.ripCount() != 0 {
		t.Errorf("ripped %d times after cancel", m.ripCount())
	}
}

func TestSourceFolder(t *testing.T) {
	cfg := shared.DefaultConfig()
	cfg.Downloads.Folder = "/music"

	cfg.Downloads.SourceSubdirectories = false
	if got := sourceFolder(cfg, "qobuz"); got != "/music" {
		t.Errorf("flat layout: got %q", got)
	}
	cfg.Downloads.SourceSubdirectories = true
	if got := sourceFolder(cfg, "qobuz"); got != "/music/Qobuz" {
		t.Errorf("source layout: got %q", got)
	}
}
