package content

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition indicates a completion submission attempted a state
// change outside the transition table. It is surfaced to the caller as-is,
// never coerced to a nearby valid state.
var ErrInvalidTransition = errors.New("content: invalid state transition")

// CanTransition reports whether the transition table permits moving an item
// from one status to another. Same-state and backward transitions are not
// permitted; idempotent resubmission is handled before this check and never
// produces a transition.
func CanTransition(from, to ItemStatus) bool {
	switch from {
	case StatusNotStarted:
		return to == StatusOneSideComplete || to == StatusExpired
	case StatusOneSideComplete:
		return to == StatusBothComplete || to == StatusExpired
	default:
		return false
	}
}

// TransitionOutcome captures the decision from applyCompletion.
type TransitionOutcome struct {
	Updated             ItemState
	Changed             bool
	NoOp                bool
	ReachedBothComplete bool
}

// applyCompletion merges one member's completion into the item state. The
// merge is a union keyed by member id: each member writes only its own entry,
// so two racing submissions compose instead of overwriting each other. A
// resubmission by an already-completed member returns the state unchanged.
func applyCompletion(current ItemState, memberID string, now time.Time) (TransitionOutcome, error) {
	if current.Status == StatusExpired {
		return TransitionOutcome{}, fmt.Errorf("%w: item expired", ErrInvalidTransition)
	}

	completions, err := current.Completions()
	if err != nil {
		return TransitionOutcome{}, err
	}

	if _, alreadyComplete := completions[memberID]; alreadyComplete {
		return TransitionOutcome{Updated: current, NoOp: true}, nil
	}

	completions[memberID] = CompletionEntry{CompletedAtSeconds: now.Unix()}

	nextStatus := StatusOneSideComplete
	if len(completions) >= 2 {
		nextStatus = StatusBothComplete
	}
	if !CanTransition(current.Status, nextStatus) {
		return TransitionOutcome{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, nextStatus)
	}

	updated := current
	if err := updated.setCompletions(completions); err != nil {
		return TransitionOutcome{}, err
	}
	updated.Status = nextStatus
	updated.Version = current.Version + 1

	return TransitionOutcome{
		Updated:             updated,
		Changed:             true,
		ReachedBothComplete: nextStatus == StatusBothComplete,
	}, nil
}

// expireIfDue returns the item transitioned to Expired when its expiry has
// passed and the item is not already terminal. Expiry is checked lazily at
// read time; a timestamp exactly at the expiry instant counts as past it.
func expireIfDue(current ItemState, now time.Time) (ItemState, bool) {
	if current.Status == StatusBothComplete || current.Status == StatusExpired {
		return current, false
	}
	if now.Unix() < current.ExpiresAtSeconds {
		return current, false
	}
	expired := current
	expired.Status = StatusExpired
	expired.Version = current.Version + 1
	return expired, true
}
