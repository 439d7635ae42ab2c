package story

import "errors"

var (
	// ErrValidation is the kind of every error caused by bad caller input or
	// an action that the story's current state does not allow.
	ErrValidation = errors.New("validation error")
	// ErrInvariantViolation marks a broken internal invariant.
	ErrInvariantViolation = errors.New("invariant violation")

	ErrStoryNotFound = errors.New("story not found")
)

var (
	ErrEmptyLine      = validationError("line is empty")
	ErrLineTooLong    = validationError("line too long")
	ErrStoryComplete  = validationError("story already complete")
	ErrInvalidAmount  = validationError("donation must be positive")
	ErrInvalidAddress = validationError("invalid address")
	ErrStoryOpen      = validationError("story is not complete yet")
	ErrAlreadySettled = validationError("story already settled")

	ErrAlreadyDistributed = invariantError("reward pool already distributed")
	ErrIndexCollision     = invariantError("line index collision")
	ErrNoContributors     = invariantError("no contributors to pay")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

func validationError(msg string) error {
	return &kindError{kind: ErrValidation, msg: msg}
}

func invariantError(msg string) error {
	return &kindError{kind: ErrInvariantViolation, msg: msg}
}
