package shared

import (
	"fmt"
	"strings"
)

var (
	// Credential errors. Recoverable above the pipeline by re-prompting;
	// they never abort a run that can still make progress elsewhere.
	ErrMissingCredentials = fmt.Errorf("no credentials configured")
	ErrAuthentication     = fmt.Errorf("authentication rejected")
	ErrIneligibleAccount  = fmt.Errorf("account not eligible to stream")

	// Per-item terminal error. Recorded to the failure ledger, siblings
	// continue.
	ErrNonStreamable = fmt.Errorf("item not streamable")

	// Bootstrap secret discovery errors.
	ErrInvalidAppID     = fmt.Errorf("invalid app id")
	ErrInvalidAppSecret = fmt.Errorf("no working app secret")

	ErrNotLoggedIn = fmt.Errorf("client not logged in")
)

// FailedItem identifies one media item that could not be acquired.
type FailedItem struct {
	Source    string
	MediaType string
	ID        string
}

// PartialFailureError is raised by a composite media item after some but
// not all of its children failed. The caller records the tuples and exits
// zero: a run that completed with per-item failures is still a completed
// run.
type PartialFailureError struct {
	Failed []FailedItem
}

func (e *PartialFailureError) Error() string {
	ids := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		ids[i] = fmt.Sprintf("%s/%s/%s", f.Source, f.MediaType, f.ID)
	}
	return fmt.Sprintf("%d items failed: %s", len(e.Failed), strings.Join(ids, ", "))
}
