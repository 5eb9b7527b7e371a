package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"portal-voting-backend/cache"
	"portal-voting-backend/models"

	"gorm.io/gorm"
)

var (
	ErrPollNotFound      = errors.New("poll not found")
	ErrMemberNotFound    = errors.New("member not found")
	ErrNoSubPolls        = errors.New("a poll must have at least one sub-poll")
	ErrInvalidTransition = errors.New("invalid poll status transition")
)

// DefaultReopenMinutes is how long a reopened poll accepts votes when no
// explicit window is requested.
const DefaultReopenMinutes = 30

// PollRepo is the data access layer for polls, sub-polls, votes, attachments
// and members.
type PollRepo struct {
	db *gorm.DB
}

// New returns a PollRepo on top of db.
func New(db *gorm.DB) *PollRepo {
	return &PollRepo{db: db}
}

// SubPollInput is one question supplied at poll creation.
type SubPollInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// AttachmentInput describes an already-stored file to link to a new poll.
type AttachmentInput struct {
	FileName    string `json:"file_name"`
	StoragePath string `json:"storage_path"`
	FileSize    int64  `json:"file_size"`
	MimeType    string `json:"mime_type"`
	UploadedBy  string `json:"uploaded_by"`
}

// CreatePollInput is the full payload for creating a poll with its questions
// and optional attachment in one logical operation.
type CreatePollInput struct {
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	Deadline      time.Time        `json:"deadline"`
	IsSecret      bool             `json:"is_secret"`
	NotifyMembers bool             `json:"notify_members"`
	CreatedBy     string           `json:"created_by"`
	SubPolls      []SubPollInput   `json:"sub_polls"`
	Attachment    *AttachmentInput `json:"attachment,omitempty"`
}

// UpdateSubPollInput updates one existing question (ID set) or adds a new
// one (ID zero).
type UpdateSubPollInput struct {
	ID          uint   `json:"id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// UpdatePollInput carries partial updates; nil fields are left untouched.
type UpdatePollInput struct {
	Title       *string              `json:"title,omitempty"`
	Description *string              `json:"description,omitempty"`
	Deadline    *time.Time           `json:"deadline,omitempty"`
	IsSecret    *bool                `json:"is_secret,omitempty"`
	SubPolls    []UpdateSubPollInput `json:"sub_polls,omitempty"`
}

// List returns every poll, newest first, with sub-polls and attachments
// preloaded and stats computed per poll. The reopened-poll sweep runs first
// so stats and eligibility never see a poll the sweep should have closed.
// When viewerID is non-empty each view carries that viewer's has_voted flag.
func (r *PollRepo) List(ctx context.Context, viewerID string) ([]models.PollView, error) {
	if _, err := r.AutoCloseReopened(ctx); err != nil {
		log.Printf("Reopened-poll sweep failed: %v", err)
	}

	var polls []models.Poll
	err := r.db.WithContext(ctx).
		Preload("SubPolls", func(db *gorm.DB) *gorm.DB {
			return db.Order("sub_polls.order_index asc")
		}).
		Preload("Attachments").
		Order("created_at desc").
		Find(&polls).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list polls: %w", err)
	}

	views := make([]models.PollView, len(polls))
	for i, poll := range polls {
		stats, err := r.Stats(ctx, poll.ID)
		if err != nil {
			return nil, err
		}
		views[i] = models.PollView{Poll: poll, Stats: *stats}

		if viewerID != "" {
			voted, err := r.HasVoted(ctx, poll.ID, viewerID)
			if err != nil {
				return nil, err
			}
			views[i].HasVoted = &voted
		}
	}
	return views, nil
}

// Get returns one poll with its sub-polls and attachments.
func (r *PollRepo) Get(ctx context.Context, id uint) (*models.Poll, error) {
	var poll models.Poll
	err := r.db.WithContext(ctx).
		Preload("SubPolls", func(db *gorm.DB) *gorm.DB {
			return db.Order("sub_polls.order_index asc")
		}).
		Preload("Attachments").
		First(&poll, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPollNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch poll %d: %w", id, err)
	}
	return &poll, nil
}

// Create inserts the poll, its non-empty sub-polls (order indexes assigned in
// input order) and the optional attachment row in a single transaction.
func (r *PollRepo) Create(ctx context.Context, input CreatePollInput) (*models.Poll, error) {
	subPolls := make([]models.SubPoll, 0, len(input.SubPolls))
	for _, sp := range input.SubPolls {
		if strings.TrimSpace(sp.Title) == "" {
			continue
		}
		subPolls = append(subPolls, models.SubPoll{
			Title:       sp.Title,
			Description: sp.Description,
			OrderIndex:  len(subPolls),
		})
	}
	if len(subPolls) == 0 {
		return nil, ErrNoSubPolls
	}

	poll := models.Poll{
		Title:         input.Title,
		Description:   input.Description,
		Deadline:      input.Deadline,
		Status:        models.PollStatusActive,
		IsSecret:      input.IsSecret,
		NotifyMembers: input.NotifyMembers,
		CreatedBy:     input.CreatedBy,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&poll).Error; err != nil {
			return fmt.Errorf("failed to create poll: %w", err)
		}

		for i := range subPolls {
			subPolls[i].PollID = poll.ID
		}
		if err := tx.Create(&subPolls).Error; err != nil {
			return fmt.Errorf("failed to create sub-polls: %w", err)
		}

		if input.Attachment != nil {
			attachment := models.PollAttachment{
				PollID:      poll.ID,
				FileName:    input.Attachment.FileName,
				StoragePath: input.Attachment.StoragePath,
				FileSize:    input.Attachment.FileSize,
				MimeType:    input.Attachment.MimeType,
				UploadedBy:  input.Attachment.UploadedBy,
			}
			if err := tx.Create(&attachment).Error; err != nil {
				return fmt.Errorf("failed to create attachment: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return r.Get(ctx, poll.ID)
}

// Update applies partial top-level changes and merges the sub-poll list:
// entries with an ID update existing questions, entries without one are
// added, and existing questions omitted from the list are deleted unless
// they already carry votes.
func (r *PollRepo) Update(ctx context.Context, id uint, input UpdatePollInput) (*models.Poll, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var poll models.Poll
		if err := tx.First(&poll, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPollNotFound
			}
			return err
		}

		if input.Title != nil {
			poll.Title = *input.Title
		}
		if input.Description != nil {
			poll.Description = *input.Description
		}
		if input.Deadline != nil {
			poll.Deadline = *input.Deadline
		}
		if input.IsSecret != nil {
			poll.IsSecret = *input.IsSecret
		}
		if err := tx.Save(&poll).Error; err != nil {
			return fmt.Errorf("failed to update poll: %w", err)
		}

		if input.SubPolls == nil {
			return nil
		}

		var existing []models.SubPoll
		if err := tx.Where("poll_id = ?", poll.ID).Find(&existing).Error; err != nil {
			return fmt.Errorf("failed to load sub-polls: %w", err)
		}
		existingByID := make(map[uint]models.SubPoll, len(existing))
		maxOrder := -1
		for _, sp := range existing {
			existingByID[sp.ID] = sp
			if sp.OrderIndex > maxOrder {
				maxOrder = sp.OrderIndex
			}
		}

		submitted := make(map[uint]bool, len(input.SubPolls))
		for _, spInput := range input.SubPolls {
			if spInput.ID > 0 {
				submitted[spInput.ID] = true
				sp, ok := existingByID[spInput.ID]
				if !ok {
					log.Printf("Sub-poll %d not found on poll %d, skipping", spInput.ID, poll.ID)
					continue
				}
				sp.Title = spInput.Title
				sp.Description = spInput.Description
				if err := tx.Save(&sp).Error; err != nil {
					return fmt.Errorf("failed to update sub-poll %d: %w", sp.ID, err)
				}
			} else {
				maxOrder++
				newSub := models.SubPoll{
					PollID:      poll.ID,
					Title:       spInput.Title,
					Description: spInput.Description,
					OrderIndex:  maxOrder,
				}
				if err := tx.Create(&newSub).Error; err != nil {
					return fmt.Errorf("failed to add sub-poll: %w", err)
				}
			}
		}

		// Questions dropped from the submission are removed only when nobody
		// has voted on them yet.
		for spID := range existingByID {
			if submitted[spID] {
				continue
			}
			var voteCount int64
			if err := tx.Model(&models.Vote{}).Where("sub_poll_id = ?", spID).Count(&voteCount).Error; err != nil {
				return err
			}
			if voteCount > 0 {
				log.Printf("Sub-poll %d has %d votes, keeping it", spID, voteCount)
				continue
			}
			if err := tx.Delete(&models.SubPoll{}, spID).Error; err != nil {
				return fmt.Errorf("failed to delete sub-poll %d: %w", spID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return r.Get(ctx, id)
}

// Delete removes a poll and everything hanging off it.
func (r *PollRepo) Delete(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("poll_id = ?", id).Delete(&models.Vote{}).Error; err != nil {
			return fmt.Errorf("failed to delete votes: %w", err)
		}
		if err := tx.Where("poll_id = ?", id).Delete(&models.SubPoll{}).Error; err != nil {
			return fmt.Errorf("failed to delete sub-polls: %w", err)
		}
		if err := tx.Where("poll_id = ?", id).Delete(&models.PollAttachment{}).Error; err != nil {
			return fmt.Errorf("failed to delete attachments: %w", err)
		}
		result := tx.Delete(&models.Poll{}, id)
		if result.Error != nil {
			return fmt.Errorf("failed to delete poll: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrPollNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	cache.InvalidatePoll(ctx, id)
	return nil
}

// SetStatus transitions an active poll to completed or cancelled. Any other
// transition is rejected.
func (r *PollRepo) SetStatus(ctx context.Context, id uint, status models.PollStatus) error {
	if status != models.PollStatusCompleted && status != models.PollStatusCancelled {
		return ErrInvalidTransition
	}

	result := r.db.WithContext(ctx).
		Model(&models.Poll{}).
		Where("id = ? AND status = ?", id, models.PollStatusActive).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("failed to update poll status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		r.db.WithContext(ctx).Model(&models.Poll{}).Where("id = ?", id).Count(&count)
		if count == 0 {
			return ErrPollNotFound
		}
		return ErrInvalidTransition
	}
	return nil
}

// Reopen puts a completed poll back to active with a reopen deadline of
// minutes from now (DefaultReopenMinutes when minutes <= 0). The sweep closes
// it again once that deadline elapses.
func (r *PollRepo) Reopen(ctx context.Context, id uint, minutes int) (*models.Poll, error) {
	if minutes <= 0 {
		minutes = DefaultReopenMinutes
	}
	reopenUntil := time.Now().Add(time.Duration(minutes) * time.Minute)

	result := r.db.WithContext(ctx).
		Model(&models.Poll{}).
		Where("id = ? AND status = ?", id, models.PollStatusCompleted).
		Updates(map[string]interface{}{
			"status":          models.PollStatusActive,
			"reopen_deadline": reopenUntil,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to reopen poll: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		r.db.WithContext(ctx).Model(&models.Poll{}).Where("id = ?", id).Count(&count)
		if count == 0 {
			return nil, ErrPollNotFound
		}
		return nil, ErrInvalidTransition
	}

	return r.Get(ctx, id)
}

// AutoCloseReopened completes every active poll whose reopen deadline has
// elapsed and returns how many were closed.
func (r *PollRepo) AutoCloseReopened(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Poll{}).
		Where("status = ? AND reopen_deadline IS NOT NULL AND reopen_deadline < ?",
			models.PollStatusActive, time.Now()).
		Update("status", models.PollStatusCompleted)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to close reopened polls: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		log.Printf("Closed %d reopened polls past their deadline", result.RowsAffected)
	}
	return result.RowsAffected, nil
}

// CloseExpired completes active polls past their primary deadline. Only the
// background sweep calls this, and only when deadline enforcement is on.
func (r *PollRepo) CloseExpired(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Poll{}).
		Where("status = ? AND deadline < ?", models.PollStatusActive, time.Now()).
		Update("status", models.PollStatusCompleted)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to close expired polls: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Stats computes the derived counters for one poll, consulting the Redis
// cache first when available.
func (r *PollRepo) Stats(ctx context.Context, pollID uint) (*models.PollStats, error) {
	if cached, err := cache.GetPollStats(ctx, pollID); err == nil {
		return cached, nil
	}

	var stats models.PollStats
	if err := r.db.WithContext(ctx).Model(&models.Member{}).Count(&stats.TotalVoters).Error; err != nil {
		return nil, fmt.Errorf("failed to count members: %w", err)
	}
	if err := r.db.WithContext(ctx).Model(&models.SubPoll{}).
		Where("poll_id = ?", pollID).Count(&stats.SubPollCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count sub-polls: %w", err)
	}
	if err := r.db.WithContext(ctx).Model(&models.Vote{}).
		Where("poll_id = ?", pollID).
		Distinct("voter_id").Count(&stats.VotedCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count voters: %w", err)
	}
	stats.PendingCount = stats.TotalVoters - stats.VotedCount
	if stats.PendingCount < 0 {
		stats.PendingCount = 0
	}

	if err := cache.SetPollStats(ctx, pollID, &stats); err != nil && !errors.Is(err, cache.ErrRedisNotAvailable) {
		log.Printf("Failed to cache stats for poll %d: %v", pollID, err)
	}
	return &stats, nil
}

// HasVoted reports whether the voter has any vote row on the poll.
func (r *PollRepo) HasVoted(ctx context.Context, pollID uint, voterID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Vote{}).
		Where("poll_id = ? AND voter_id = ?", pollID, voterID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check votes: %w", err)
	}
	return count > 0, nil
}

// ResetUserVotes deletes one member's votes on a poll so they can revote.
func (r *PollRepo) ResetUserVotes(ctx context.Context, pollID uint, voterID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("poll_id = ? AND voter_id = ?", pollID, voterID).
		Delete(&models.Vote{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reset votes: %w", result.Error)
	}
	cache.InvalidatePoll(ctx, pollID)
	return result.RowsAffected, nil
}

// ResetAllVotes deletes every vote on a poll.
func (r *PollRepo) ResetAllVotes(ctx context.Context, pollID uint) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("poll_id = ?", pollID).
		Delete(&models.Vote{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reset votes: %w", result.Error)
	}
	cache.InvalidatePoll(ctx, pollID)
	return result.RowsAffected, nil
}

// GetMember looks up a member by id.
func (r *PollRepo) GetMember(ctx context.Context, id string) (*models.Member, error) {
	var member models.Member
	err := r.db.WithContext(ctx).First(&member, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch member %s: %w", id, err)
	}
	return &member, nil
}

// GetAttachment looks up one attachment row.
func (r *PollRepo) GetAttachment(ctx context.Context, id uint) (*models.PollAttachment, error) {
	var attachment models.PollAttachment
	err := r.db.WithContext(ctx).First(&attachment, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPollNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch attachment %d: %w", id, err)
	}
	return &attachment, nil
}

// BumpAttachmentCounter increments the view or download counter. Best effort:
// failures are logged, never surfaced.
func (r *PollRepo) BumpAttachmentCounter(ctx context.Context, id uint, column string) {
	if column != "view_count" && column != "download_count" {
		return
	}
	err := r.db.WithContext(ctx).Model(&models.PollAttachment{}).
		Where("id = ?", id).
		UpdateColumn(column, gorm.Expr(column+" + ?", 1)).Error
	if err != nil {
		log.Printf("Failed to bump %s on attachment %d: %v", column, id, err)
	}
}
