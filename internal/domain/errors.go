package domain

import "errors"

// Error taxonomy shared by every component. Callers match with errors.Is.
var (
	ErrInvalidFormat     = errors.New("invalid handle format")
	ErrPolicyRejected    = errors.New("handle rejected by content policy")
	ErrHandleTaken       = errors.New("handle taken")
	ErrNoIdentity        = errors.New("no identity")
	ErrRemoteUnavailable = errors.New("remote store unavailable")
	ErrLocalPersistence  = errors.New("local persistence failure")
	ErrCancelled         = errors.New("cancelled")
	ErrInvalidScore      = errors.New("invalid score")
)

// User-facing rejection reasons
const (
	ReasonInvalidFormat = "must be 2–24 characters, letters/digits/space/underscore/hyphen only"
	ReasonDisallowed    = "disallowed content"
	ReasonTakenLocally  = "taken locally"
	ReasonTakenRemote   = "already exists on leaderboard"
)

// Rejection is a recoverable refusal of a candidate handle. Kind is one of the
// sentinels above, Reason is what gets shown to the player.
type Rejection struct {
	Kind   error
	Reason string
}

func (r *Rejection) Error() string { return r.Reason }

func (r *Rejection) Unwrap() error { return r.Kind }

// Reject builds a Rejection
func Reject(kind error, reason string) *Rejection {
	return &Rejection{Kind: kind, Reason: reason}
}
