package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the failure taxonomy of the bracket lifecycle.
// Validation errors are raised before any venue interaction; timeout errors
// are terminal for the current bracket and never retried automatically.
var (
	// ErrInvalidIntent covers malformed signal payloads (bad side,
	// non-positive quantity or price).
	ErrInvalidIntent = errors.New("invalid order intent")

	// ErrUnsupportedOffsetUnit is returned for any offset unit other than
	// ticks, including the recognised-but-unimplemented percent unit.
	ErrUnsupportedOffsetUnit = errors.New("unsupported offset unit")

	// ErrNoExitLegsConfigured is returned when both exit legs are disabled
	// by configuration; a bracket with no exit is a configuration error.
	ErrNoExitLegsConfigured = errors.New("no exit legs configured")

	// ErrInstrumentNotFound is returned when the venue cannot qualify the
	// requested symbol.
	ErrInstrumentNotFound = errors.New("instrument not found")

	// ErrVenueUnavailable is returned when the venue connection is down.
	ErrVenueUnavailable = errors.New("venue unavailable")

	// ErrNoOrderID means the venue never assigned an order id to the parent
	// within its timeout. The caller must resubmit.
	ErrNoOrderID = errors.New("no order id assigned")

	// ErrParentTimeout means the parent order did not fill within the
	// fill-or-cancel timeout; a cancel has been issued for it.
	ErrParentTimeout = errors.New("parent order fill timeout")

	// ErrBracketTimeout means no exit leg filled within the bracket
	// timeout. Surviving legs are left at the venue unless the
	// cancel-legs-on-timeout policy is enabled.
	ErrBracketTimeout = errors.New("bracket fill timeout")
)

// Stage names the lifecycle step at which a bracket failed.
type Stage string

const (
	StageValidate       Stage = "validate"
	StageResolve        Stage = "resolve_instrument"
	StageSubmitParent   Stage = "submit_parent"
	StageAwaitParentID  Stage = "await_parent_id"
	StageAwaitParent    Stage = "await_parent_fill"
	StageSubmitChildren Stage = "submit_children"
	StageAwaitChild     Stage = "await_child_fill"
)

// BracketError wraps a lifecycle failure with the partial progress the
// bracket made before failing, so callers can see e.g. that the parent
// filled even though no child did.
type BracketError struct {
	Stage        Stage
	ParentID     string
	ParentFilled bool
	ParentFill   float64
	Err          error
}

func (e *BracketError) Error() string {
	if e.ParentFilled {
		return fmt.Sprintf("%s: %v (parent %s filled at %v)", e.Stage, e.Err, e.ParentID, e.ParentFill)
	}
	if e.ParentID != "" {
		return fmt.Sprintf("%s: %v (parent %s)", e.Stage, e.Err, e.ParentID)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *BracketError) Unwrap() error { return e.Err }
