package media

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/nathom/streamrip-sub000/internal/shared"
)

// The global download cap is process-wide: one semaphore gates actively
// transferring tracks no matter how many composites are mid-resolution.
// It is sized on first use and fixed for the life of the run.
var (
	downloadMu   sync.Mutex
	downloadSem  *semaphore.Weighted
	downloadCap  int64
	downloadInit bool
)

func downloadSemaphore(cfg *shared.DownloadsConfig) (*semaphore.Weighted, error) {
	cap := int64(cfg.MaxConnections)
	if !cfg.Concurrency {
		cap = 1
	}

	downloadMu.Lock()
	defer downloadMu.Unlock()
	if downloadInit {
		if cap != downloadCap {
			return nil, fmt.Errorf("download cap already fixed at %d, cannot change to %d",
				downloadCap, cap)
		}
		return downloadSem, nil
	}
	downloadInit = true
	downloadCap = cap
	if cap > 0 {
		downloadSem = semaphore.NewWeighted(cap)
	}
	// A non-positive cap with concurrency enabled means unlimited.
	return downloadSem, nil
}

// acquireDownload blocks until a transfer slot is free and returns the
// release function for it.
func acquireDownload(ctx context.Context, cfg *shared.DownloadsConfig) (func(), error) {
	sem, err := downloadSemaphore(cfg)
	if err != nil {
		return nil, err
	}
	if sem == nil {
		return func() {}, nil
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}
