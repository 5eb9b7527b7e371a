package voting

import "errors"

// Business errors. Handlers map these to specific status codes and user-facing
// copy; anything else coming out of this package is treated as a transport
// failure ("check your connection").
var (
	ErrNotLoggedIn      = errors.New("not logged in")
	ErrPollInactive     = errors.New("poll is not active")
	ErrAlreadyVoted     = errors.New("already voted on this poll")
	ErrIncompleteBallot = errors.New("every sub-poll must be answered exactly once")
	ErrUnknownSubPoll   = errors.New("sub-poll does not belong to this poll")
	ErrInvalidChoice    = errors.New("invalid vote choice")
)

// IsBusinessError reports whether err is a deliberate rejection rather than a
// transport failure, i.e. it must not be retried.
func IsBusinessError(err error) bool {
	return errors.Is(err, ErrNotLoggedIn) ||
		errors.Is(err, ErrPollInactive) ||
		errors.Is(err, ErrAlreadyVoted) ||
		errors.Is(err, ErrIncompleteBallot) ||
		errors.Is(err, ErrUnknownSubPoll) ||
		errors.Is(err, ErrInvalidChoice)
}
