package custody

import "errors"

type Class string

const (
	ClassAuthorization Class = "AUTHORIZATION"
	ClassState         Class = "STATE"
	ClassValidation    Class = "VALIDATION"
	ClassIntegrity     Class = "INTEGRITY"
	ClassResource      Class = "RESOURCE"
)

// Error is a custody rejection. Every rejection aborts the whole call.
type Error struct {
	Class Class
	Code  string
	msg   string
}

func (e *Error) Error() string { return e.msg }

func newError(class Class, code, msg string) *Error {
	return &Error{Class: class, Code: code, msg: msg}
}

var (
	ErrUnauthorized   = newError(ClassAuthorization, "UNAUTHORIZED", "caller is not allowed to perform this operation")
	ErrNotCreator     = newError(ClassAuthorization, "NOT_CREATOR", "caller is not the investigation creator")
	ErrNotParticipant = newError(ClassAuthorization, "NOT_PARTICIPANT", "caller is not an authorized participant")
	ErrNotSubmitter   = newError(ClassAuthorization, "NOT_SUBMITTER", "caller is not the evidence submitter")

	ErrNotActive          = newError(ClassState, "NOT_ACTIVE", "investigation is not active")
	ErrExpired            = newError(ClassState, "EXPIRED", "investigation has expired")
	ErrNotExpired         = newError(ClassState, "NOT_EXPIRED", "investigation has not expired yet")
	ErrNotTerminal        = newError(ClassState, "NOT_TERMINAL", "investigation is not completed or timed out")
	ErrAlreadyRequested   = newError(ClassState, "ALREADY_REQUESTED", "decryption already requested")
	ErrAlreadyCompleted   = newError(ClassState, "ALREADY_COMPLETED", "decryption request already settled")
	ErrAlreadyVoted       = newError(ClassState, "ALREADY_VOTED", "judge already submitted a verdict")
	ErrAlreadyRefunded    = newError(ClassState, "ALREADY_REFUNDED", "stake already refunded")
	ErrNotInitialized     = newError(ClassState, "NOT_INITIALIZED", "custody state is not initialized")
	ErrAlreadyInitialized = newError(ClassState, "ALREADY_INITIALIZED", "custody state is initialized with another admin")

	ErrInvalidIdentity    = newError(ClassValidation, "INVALID_IDENTITY", "identity must not be empty")
	ErrInvalidDuration    = newError(ClassValidation, "INVALID_DURATION", "duration is outside the allowed bounds")
	ErrInvalidType        = newError(ClassValidation, "INVALID_TYPE", "unknown evidence type")
	ErrInvalidLevel       = newError(ClassValidation, "INVALID_LEVEL", "confidentiality level must be positive")
	ErrInvalidScore       = newError(ClassValidation, "INVALID_SCORE", "credibility score must be at most 100")
	ErrInvalidVerdict     = newError(ClassValidation, "INVALID_VERDICT", "unknown verdict value")
	ErrInvalidConfidence  = newError(ClassValidation, "INVALID_CONFIDENCE", "confidence must be at most 100")
	ErrNoStake            = newError(ClassValidation, "NO_STAKE", "stake must be positive")
	ErrStakeOverflow      = newError(ClassValidation, "STAKE_OVERFLOW", "stake total would overflow")
	ErrInvalidCleartexts  = newError(ClassValidation, "INVALID_CLEARTEXTS", "decrypted values do not match the request")

	ErrInvalidProof   = newError(ClassIntegrity, "INVALID_PROOF", "proof verification failed")
	ErrNotFound       = newError(ClassIntegrity, "NOT_FOUND", "record not found")
	ErrStakeInvariant = newError(ClassIntegrity, "STAKE_INVARIANT", "stake total does not match attached stakes")

	ErrNotEligible    = newError(ClassResource, "NOT_ELIGIBLE", "refund conditions are not met")
	ErrTransferFailed = newError(ClassResource, "TRANSFER_FAILED", "stake transfer failed")
)

// AsError returns the custody rejection wrapped in err, if any.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
