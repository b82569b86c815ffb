package core

import "errors"

// Error kinds. Every specific error below wraps exactly one of them, so
// callers can match either the kind or the specific error with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
)

var (
	ErrProjectNotFound  = newError(ErrNotFound, "project not found")
	ErrSpendingNotFound = newError(ErrNotFound, "spending not found")
	ErrUserNotFound     = newError(ErrNotFound, "user not found")
	ErrLedgerNotFound   = newError(ErrNotFound, "ledger not found")

	ErrInvalidAmount      = newError(ErrInvalidInput, "amount must be positive")
	ErrInvalidCategory    = newError(ErrInvalidInput, "category must be Service or Product")
	ErrMissingProductName = newError(ErrInvalidInput, "product spending requires a product name")
	ErrMissingPayee       = newError(ErrInvalidInput, "service spending requires a payee person and place")
	ErrDescriptionTooLong = newError(ErrInvalidInput, "description too long")
	ErrInvalidLedger      = newError(ErrInvalidInput, "ledger does not exist in this project")
	ErrInvalidSubLedger   = newError(ErrInvalidInput, "sub-ledger is not part of the ledger catalog")
	ErrInvalidDecision    = newError(ErrInvalidInput, "decision must be approved or rejected")
	ErrInvalidStatus      = newError(ErrInvalidInput, "unknown status")
	ErrInvalidDate        = newError(ErrInvalidInput, "date must be YYYY-MM-DD")
	ErrInvalidID          = newError(ErrInvalidInput, "malformed id")
	ErrFunderNotMember    = newError(ErrInvalidInput, "funder must be a project member")

	ErrUnknownActor         = newError(ErrForbidden, "actor identity could not be resolved")
	ErrNoProjectAccess      = newError(ErrForbidden, "no access to this project")
	ErrObserverCannotAuthor = newError(ErrForbidden, "observers cannot create spendings")
	ErrObserverCannotVote   = newError(ErrForbidden, "observers cannot vote")
	ErrNotEligibleAuthor    = newError(ErrForbidden, "only eligible voters can create spendings")
	ErrNotEligibleVoter     = newError(ErrForbidden, "not your vote to cast")
	ErrVoterMismatch        = newError(ErrForbidden, "votes can only be cast by the voter")

	ErrAlreadyApproved  = newError(ErrConflict, "spending already approved")
	ErrAlreadyRejected  = newError(ErrConflict, "spending already rejected")
	ErrCapacityExceeded = newError(ErrConflict, "spending exceeds the project funding target")
	ErrConcurrentUpdate = newError(ErrConflict, "spending was modified concurrently")
)

// Error is a specific, user-renderable failure of a given kind.
type Error struct {
	kind error
	msg  string
}

func newError(kind error, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.kind }

// Kind returns the taxonomy sentinel err belongs to, or nil.
func Kind(err error) error {
	for _, k := range []error{ErrNotFound, ErrInvalidInput, ErrForbidden, ErrConflict} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
