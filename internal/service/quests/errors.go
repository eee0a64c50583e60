package quests

import "errors"

// Claim and tracking failures are defined outcomes, distinguished by sentinel
// errors so the API layer can map them to stable machine-readable codes.
var (
	// ErrNotOwner is returned when a subject claims an instance that belongs
	// to someone else.
	ErrNotOwner = errors.New("quest instance does not belong to subject")

	// ErrQuestLocked is returned by claim when the dependency lock is not
	// satisfied. Tracking treats a lock as a silent no-op instead.
	ErrQuestLocked = errors.New("quest is locked by an unsatisfied dependency")

	// ErrNotCompleted is returned by claim when the instance has not reached
	// its target.
	ErrNotCompleted = errors.New("quest instance is not completed")

	// ErrAlreadyClaimed is returned by claim when the instance was already
	// claimed. Claims are exactly-once, never silently replayed.
	ErrAlreadyClaimed = errors.New("quest instance already claimed")
)
