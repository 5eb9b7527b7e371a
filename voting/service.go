// Package voting decides whether a member may vote on a poll and records
// complete ballots. All reads go through the retry helper; duplicate ballots
// are blocked by a per-(poll,voter) distributed lock when Redis is up and by
// the votes table's unique index always.
package voting

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"portal-voting-backend/cache"
	"portal-voting-backend/models"
	"portal-voting-backend/repository"
	"portal-voting-backend/retry"

	"gorm.io/gorm"
)

// EligibilityState is the computed permission state for a (poll, member) pair.
type EligibilityState string

const (
	StateNotLoggedIn  EligibilityState = "not_logged_in"
	StatePollInactive EligibilityState = "poll_inactive"
	StateAlreadyVoted EligibilityState = "already_voted"
	StateEligible     EligibilityState = "eligible"
	// StateUnknown means the check itself failed (transport); the caller may
	// offer a retry instead of a terminal message.
	StateUnknown EligibilityState = "unknown"
)

// Reason strings shown to the user.
const (
	ReasonNotLoggedIn     = "You must be signed in to vote"
	ReasonPollInactive    = "Poll is not active"
	ReasonDeadlinePassed  = "The voting deadline has passed"
	ReasonAlreadyVoted    = "You have already voted on this poll"
	ReasonConnectionError = "Connection error - please check your network and try again"
)

// Eligibility is the result of a fresh check; it is never cached.
type Eligibility struct {
	State     EligibilityState `json:"state"`
	CanVote   bool             `json:"can_vote"`
	Reason    string           `json:"reason,omitempty"`
	Retryable bool             `json:"retryable"`
}

// VoteEntry is one answered sub-poll within a submission.
type VoteEntry struct {
	SubPollID uint              `json:"sub_poll_id"`
	Choice    models.VoteChoice `json:"choice"`
}

// Submission is a complete ballot: one entry per sub-poll, with an optional
// comment duplicated onto every stored row.
type Submission struct {
	PollID  uint        `json:"poll_id"`
	VoterID string      `json:"-"`
	Votes   []VoteEntry `json:"votes"`
	Comment string      `json:"comment,omitempty"`
}

// Service implements eligibility checks and vote submission.
type Service struct {
	db      *gorm.DB
	repo    *repository.PollRepo
	retrier retry.Retrier

	// EnforceDeadline makes eligibility reject polls past their deadline.
	// Historically the portal allowed voting on any active poll regardless of
	// deadline, so composition wires this from config and defaults it off.
	EnforceDeadline bool

	// OnVotesChanged is called after a successful submission, outside the
	// transaction. Used to broadcast updated stats.
	OnVotesChanged func(pollID uint)

	// now is swappable for tests.
	now func() time.Time
}

// NewService returns a voting service over db.
func NewService(db *gorm.DB, repo *repository.PollRepo) *Service {
	return &Service{
		db:      db,
		repo:    repo,
		retrier: retry.New(),
		now:     time.Now,
	}
}

// SetRetrier overrides the default 3-attempt/1s retrier. Tests use this to
// avoid real backoff sleeps.
func (s *Service) SetRetrier(r retry.Retrier) {
	s.retrier = r
}

// CheckEligibility computes whether voterID may vote on pollID right now.
// It fails closed: no voter means not logged in, and a failed check never
// reports eligible. Transport failures come back as a retryable result with a
// connection-error reason rather than an error.
func (s *Service) CheckEligibility(ctx context.Context, pollID uint, voterID string) (Eligibility, error) {
	if strings.TrimSpace(voterID) == "" {
		return Eligibility{State: StateNotLoggedIn, Reason: ReasonNotLoggedIn}, nil
	}

	poll, err := retry.Value(ctx, s.retrier, func(ctx context.Context) (*models.Poll, error) {
		return s.repo.Get(ctx, pollID)
	})
	if errors.Is(err, repository.ErrPollNotFound) {
		return Eligibility{}, err
	}
	if err != nil {
		log.Printf("Eligibility check for poll %d failed: %v", pollID, err)
		return Eligibility{State: StateUnknown, Reason: ReasonConnectionError, Retryable: true}, nil
	}

	if poll.Status != models.PollStatusActive {
		return Eligibility{State: StatePollInactive, Reason: ReasonPollInactive}, nil
	}
	if s.EnforceDeadline && s.now().After(poll.Deadline) {
		return Eligibility{State: StatePollInactive, Reason: ReasonDeadlinePassed}, nil
	}

	voted, err := retry.Value(ctx, s.retrier, func(ctx context.Context) (bool, error) {
		return s.repo.HasVoted(ctx, pollID, voterID)
	})
	if err != nil {
		log.Printf("Vote probe for poll %d failed: %v", pollID, err)
		return Eligibility{State: StateUnknown, Reason: ReasonConnectionError, Retryable: true}, nil
	}
	if voted {
		return Eligibility{State: StateAlreadyVoted, Reason: ReasonAlreadyVoted}, nil
	}

	return Eligibility{State: StateEligible, CanVote: true}, nil
}

// SubmitVotes records a complete ballot. The ballot must answer every
// sub-poll of the poll exactly once with a valid choice. The second
// submission by the same voter fails with ErrAlreadyVoted, from the pre-check
// in the common case and from the unique index when two clients race.
func (s *Service) SubmitVotes(ctx context.Context, sub Submission) error {
	if strings.TrimSpace(sub.VoterID) == "" {
		return ErrNotLoggedIn
	}
	if len(sub.Votes) == 0 {
		return ErrIncompleteBallot
	}

	poll, err := retry.Value(ctx, s.retrier, func(ctx context.Context) (*models.Poll, error) {
		return s.repo.Get(ctx, sub.PollID)
	})
	if err != nil {
		return err
	}
	if poll.Status != models.PollStatusActive {
		return ErrPollInactive
	}
	if s.EnforceDeadline && s.now().After(poll.Deadline) {
		return ErrPollInactive
	}
	if err := validateBallot(poll, sub.Votes); err != nil {
		return err
	}

	insert := func() error { return s.insertBallot(ctx, sub) }

	// Two sessions for the same member could both pass the pre-check; the
	// lock serializes them so the loser hits the pre-check, not the index.
	if locks := cache.GetLockService(); locks != nil {
		lockName := fmt.Sprintf("vote:poll:%d:user:%s", sub.PollID, sub.VoterID)
		err = locks.WithLock(lockName, 10*time.Second, insert)
	} else {
		err = insert()
	}
	if err != nil {
		return err
	}

	cache.InvalidatePoll(ctx, sub.PollID)
	if s.OnVotesChanged != nil {
		s.OnVotesChanged(sub.PollID)
	}
	return nil
}

func (s *Service) insertBallot(ctx context.Context, sub Submission) error {
	voted, err := retry.Value(ctx, s.retrier, func(ctx context.Context) (bool, error) {
		return s.repo.HasVoted(ctx, sub.PollID, sub.VoterID)
	})
	if err != nil {
		return err
	}
	if voted {
		return ErrAlreadyVoted
	}

	rows := make([]models.Vote, len(sub.Votes))
	for i, entry := range sub.Votes {
		rows[i] = models.Vote{
			PollID:    sub.PollID,
			SubPollID: entry.SubPollID,
			VoterID:   sub.VoterID,
			Choice:    entry.Choice,
			Comment:   sub.Comment,
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
	if err != nil {
		if isDuplicateKey(err) {
			return ErrAlreadyVoted
		}
		return fmt.Errorf("failed to record votes: %w", err)
	}
	return nil
}

// UserVotes returns the voter's existing rows on a poll, oldest question
// first, so a read-only view can pre-populate prior selections. Partial sets
// are returned as-is.
func (s *Service) UserVotes(ctx context.Context, pollID uint, voterID string) ([]models.Vote, error) {
	if strings.TrimSpace(voterID) == "" {
		return nil, ErrNotLoggedIn
	}
	return retry.Value(ctx, s.retrier, func(ctx context.Context) ([]models.Vote, error) {
		var votes []models.Vote
		err := s.db.WithContext(ctx).
			Where("poll_id = ? AND voter_id = ?", pollID, voterID).
			Order("sub_poll_id asc").
			Find(&votes).Error
		if err != nil {
			return nil, fmt.Errorf("failed to fetch votes: %w", err)
		}
		return votes, nil
	})
}

// validateBallot requires exactly one valid choice per sub-poll of the poll.
func validateBallot(poll *models.Poll, votes []VoteEntry) error {
	valid := make(map[uint]bool, len(poll.SubPolls))
	for _, sp := range poll.SubPolls {
		valid[sp.ID] = true
	}

	seen := make(map[uint]bool, len(votes))
	for _, entry := range votes {
		if !entry.Choice.Valid() {
			return ErrInvalidChoice
		}
		if !valid[entry.SubPollID] {
			return ErrUnknownSubPoll
		}
		if seen[entry.SubPollID] {
			return ErrIncompleteBallot
		}
		seen[entry.SubPollID] = true
	}
	if len(seen) != len(poll.SubPolls) {
		return ErrIncompleteBallot
	}
	return nil
}

// isDuplicateKey detects unique-index violations across the MySQL and SQLite
// drivers.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
