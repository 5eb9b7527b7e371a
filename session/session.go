// Package session is the voting dialog lifecycle as an explicit state
// machine: Closed -> Loading -> {Voting, Ineligible, Failed} -> Submitting ->
// Closed. Selections live only inside an open session and are discarded on
// close; nothing is drafted or persisted client-side.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"portal-voting-backend/models"
	"portal-voting-backend/voting"
)

// Phase is the dialog's current state.
type Phase string

const (
	PhaseClosed     Phase = "closed"
	PhaseLoading    Phase = "loading"
	PhaseVoting     Phase = "voting"
	PhaseIneligible Phase = "ineligible"
	PhaseFailed     Phase = "failed"
	PhaseSubmitting Phase = "submitting"
)

var (
	ErrNotOpen           = errors.New("session is not open")
	ErrNotVoting         = errors.New("session is not accepting selections")
	ErrBallotIncomplete  = errors.New("not every question has an answer")
	ErrAlreadySubmitting = errors.New("submission already in progress")
)

// Session drives one member's voting dialog for one poll.
type Session struct {
	svc *voting.Service

	mu          sync.Mutex
	phase       Phase
	poll        *models.Poll
	voterID     string
	selections  map[uint]models.VoteChoice
	comment     string
	eligibility voting.Eligibility
	priorVotes  []models.Vote
	lastErr     error
	releaseRef  func()
}

// New returns a closed session over the voting service.
func New(svc *voting.Service) *Session {
	return &Session{svc: svc, phase: PhaseClosed}
}

// Open resets all local state, pauses the background refresher via the given
// pause func (may be nil) and runs the eligibility check. Already-voted
// members get their prior selections loaded for read-only display; a failed
// check that is retryable lands in PhaseFailed so the caller can Retry.
func (s *Session) Open(ctx context.Context, poll *models.Poll, voterID string, pause func() func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()
	s.phase = PhaseLoading
	s.poll = poll
	s.voterID = voterID
	if pause != nil {
		s.releaseRef = pause()
	}

	return s.loadLocked(ctx)
}

// Retry re-runs the eligibility check after a connection failure.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseFailed {
		return ErrNotOpen
	}
	s.phase = PhaseLoading
	return s.loadLocked(ctx)
}

func (s *Session) loadLocked(ctx context.Context) error {
	elig, err := s.svc.CheckEligibility(ctx, s.poll.ID, s.voterID)
	if err != nil {
		s.phase = PhaseFailed
		s.lastErr = err
		return err
	}
	s.eligibility = elig

	switch elig.State {
	case voting.StateEligible:
		s.phase = PhaseVoting
	case voting.StateAlreadyVoted:
		s.phase = PhaseIneligible
		votes, err := s.svc.UserVotes(ctx, s.poll.ID, s.voterID)
		if err == nil {
			s.priorVotes = votes
		}
	case voting.StateUnknown:
		s.phase = PhaseFailed
	default:
		s.phase = PhaseIneligible
	}
	return nil
}

// Select records the member's choice for one question. Only valid while
// eligible and not yet submitting.
func (s *Session) Select(subPollID uint, choice models.VoteChoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseVoting {
		return ErrNotVoting
	}
	if !choice.Valid() {
		return voting.ErrInvalidChoice
	}
	known := false
	for _, sp := range s.poll.SubPolls {
		if sp.ID == subPollID {
			known = true
			break
		}
	}
	if !known {
		return voting.ErrUnknownSubPoll
	}
	if s.selections == nil {
		s.selections = make(map[uint]models.VoteChoice)
	}
	s.selections[subPollID] = choice
	return nil
}

// SetComment attaches the free-text comment to the pending ballot.
func (s *Session) SetComment(comment string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comment = comment
}

// AllAnswered is true iff every sub-poll of the open poll has a selection.
// It gates Submit.
func (s *Session) AllAnswered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allAnsweredLocked()
}

func (s *Session) allAnsweredLocked() bool {
	if s.poll == nil || len(s.poll.SubPolls) == 0 {
		return false
	}
	for _, sp := range s.poll.SubPolls {
		if _, ok := s.selections[sp.ID]; !ok {
			return false
		}
	}
	return true
}

// Remaining is the countdown to the poll deadline for display only; it never
// affects eligibility and never goes negative.
func (s *Session) Remaining(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.poll == nil {
		return 0
	}
	d := s.poll.Deadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Submit sends the ballot. Guarded by AllAnswered and by not already being
// mid-submission. Success closes the session; failure returns to PhaseVoting
// with the error retained so the member can retry without losing selections.
func (s *Session) Submit(ctx context.Context) error {
	s.mu.Lock()
	switch s.phase {
	case PhaseSubmitting:
		s.mu.Unlock()
		return ErrAlreadySubmitting
	case PhaseVoting:
	default:
		s.mu.Unlock()
		return ErrNotVoting
	}
	if !s.allAnsweredLocked() {
		s.mu.Unlock()
		return ErrBallotIncomplete
	}

	s.phase = PhaseSubmitting
	sub := voting.Submission{
		PollID:  s.poll.ID,
		VoterID: s.voterID,
		Comment: s.comment,
		Votes:   make([]voting.VoteEntry, 0, len(s.poll.SubPolls)),
	}
	for _, sp := range s.poll.SubPolls {
		sub.Votes = append(sub.Votes, voting.VoteEntry{SubPollID: sp.ID, Choice: s.selections[sp.ID]})
	}
	s.mu.Unlock()

	err := s.svc.SubmitVotes(ctx, sub)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseSubmitting {
		// Closed while the submission was in flight; nothing to revert.
		return err
	}
	if err != nil {
		s.phase = PhaseVoting
		s.lastErr = err
		return err
	}
	s.closeLocked()
	return nil
}

// Close discards all local selections and releases the refresher pause token.
// Safe to call in any phase.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Session) closeLocked() {
	if s.releaseRef != nil {
		s.releaseRef()
	}
	s.reset()
}

func (s *Session) reset() {
	s.phase = PhaseClosed
	s.poll = nil
	s.voterID = ""
	s.selections = nil
	s.comment = ""
	s.eligibility = voting.Eligibility{}
	s.priorVotes = nil
	s.lastErr = nil
	s.releaseRef = nil
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Eligibility returns the result of the last eligibility check.
func (s *Session) Eligibility() voting.Eligibility {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eligibility
}

// PriorVotes returns the read-only selections loaded for an already-voted
// member.
func (s *Session) PriorVotes() []models.Vote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.priorVotes
}

// LastError returns the most recent submission or load error.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
