package upload

import (
	"errors"
	"fmt"

	"github.com/lehigh-university-libraries/herbarium/internal/models"
)

// ErrIllegalStateTransition is returned when an operation is not allowed in the current state
var ErrIllegalStateTransition = errors.New("illegal state transition")

// State of one upload attempt.
//
// Saving is not terminal: the store writes are in flight and the workflow
// ends in Saved, or falls back to Resulted if a write fails. Cancel and
// Escape are rejected with ErrIllegalStateTransition while Saving, since
// the writes cannot be undone.
type State int

const (
	Selecting State = iota
	Confirming
	Identifying
	Resulted
	Saving // store writes in flight; cannot be cancelled
	Saved
	Cancelled
)

func (s State) String() string {
	switch s {
	case Selecting:
		return "selecting"
	case Confirming:
		return "confirming"
	case Identifying:
		return "identifying"
	case Resulted:
		return "resulted"
	case Saving:
		return "saving"
	case Saved:
		return "saved"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further operation is accepted. Saving is not
// terminal but does not accept Cancel.
func (s State) Terminal() bool {
	return s == Saved || s == Cancelled
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func illegal(op string, from State) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrIllegalStateTransition, op, from)
}

// EventKind names the terminal event of one operation
type EventKind int

const (
	EventIdentificationResolved EventKind = iota + 1
	EventSaveCompleted
	EventCancelled
)

func (k EventKind) String() string {
	switch k {
	case EventIdentificationResolved:
		return "identification_resolved"
	case EventSaveCompleted:
		return "save_completed"
	case EventCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Event is published once per operation.
// Err is a *providers.Failure for identification failures and a *storage.StoreError for save failures.
type Event struct {
	Kind   EventKind
	State  State
	Result *models.IdentificationResult
	Record *models.PlantRecord
	Err    error
}
