package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"portal-voting-backend/models"
	"portal-voting-backend/notify"
	"portal-voting-backend/repository"

	"github.com/gin-gonic/gin"
)

// CreatePollInput defines the expected input structure for creating a poll.
type CreatePollInput struct {
	Title         string                      `json:"title" binding:"required"`
	Description   string                      `json:"description"`
	Deadline      time.Time                   `json:"deadline" binding:"required"`
	IsSecret      bool                        `json:"is_secret"`
	NotifyMembers bool                        `json:"notify_members"`
	SubPolls      []CreateSubPollInput        `json:"sub_polls" binding:"required,min=1,dive"`
	Attachment    *repository.AttachmentInput `json:"attachment,omitempty"`
}

// CreateSubPollInput is one question in a creation request.
type CreateSubPollInput struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

// CreatePoll handles the creation of a new poll with its sub-polls and
// optional attachment.
func CreatePoll(c *gin.Context) {
	var input CreatePollInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if input.Deadline.Before(time.Now()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Deadline must be in the future"})
		return
	}

	subPolls := make([]repository.SubPollInput, len(input.SubPolls))
	for i, sp := range input.SubPolls {
		subPolls[i] = repository.SubPollInput{Title: sp.Title, Description: sp.Description}
	}

	poll, err := repo.Create(c.Request.Context(), repository.CreatePollInput{
		Title:         input.Title,
		Description:   input.Description,
		Deadline:      input.Deadline,
		IsSecret:      input.IsSecret,
		NotifyMembers: input.NotifyMembers,
		CreatedBy:     c.GetHeader(memberIDHeader),
		SubPolls:      subPolls,
		Attachment:    input.Attachment,
	})
	if errors.Is(err, repository.ErrNoSubPolls) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create poll"})
		return
	}

	if poll.NotifyMembers {
		notifier.Publish(notify.NewEvent(notify.EventPollCreated, poll.ID, poll.Title, ""))
	}

	c.JSON(http.StatusCreated, poll)
}

// GetPolls returns every poll with stats and, for a signed-in viewer, the
// has_voted flag. The reopened-poll sweep runs inside List before anything
// is computed.
func GetPolls(c *gin.Context) {
	views, err := repo.List(c.Request.Context(), c.GetHeader(memberIDHeader))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve polls"})
		return
	}
	c.JSON(http.StatusOK, views)
}

// GetPoll returns a single poll with stats.
func GetPoll(c *gin.Context) {
	pollID, ok := parsePollID(c)
	if !ok {
		return
	}

	poll, err := repo.Get(c.Request.Context(), pollID)
	if errors.Is(err, repository.ErrPollNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Poll not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve poll"})
		return
	}

	stats, err := repo.Stats(c.Request.Context(), pollID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute poll stats"})
		return
	}

	view := models.PollView{Poll: *poll, Stats: *stats}
	if viewer := c.GetHeader(memberIDHeader); viewer != "" {
		voted, err := repo.HasVoted(c.Request.Context(), pollID, viewer)
		if err == nil {
			view.HasVoted = &voted
		}
	}
	c.JSON(http.StatusOK, view)
}

// UpdatePoll applies partial updates to a poll and merges its sub-poll list.
func UpdatePoll(c *gin.Context) {
	pollID, ok := parsePollID(c)
	if !ok {
		return
	}

	var input repository.UpdatePollInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	poll, err := repo.Update(c.Request.Context(), pollID, input)
	if errors.Is(err, repository.ErrPollNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Poll not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update poll"})
		return
	}
	c.JSON(http.StatusOK, poll)
}

// DeletePoll removes a poll and its sub-polls, votes and attachments.
func DeletePoll(c *gin.Context) {
	pollID, ok := parsePollID(c)
	if !ok {
		return
	}

	err := repo.Delete(c.Request.Context(), pollID)
	if errors.Is(err, repository.ErrPollNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Poll not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete poll"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Poll deleted successfully"})
}

// CompletePoll marks an active poll completed. Completing and cancelling are
// separate actions in the portal UI, hence separate endpoints.
func CompletePoll(c *gin.Context) {
	setPollStatus(c, models.PollStatusCompleted)
}

// CancelPoll marks an active poll cancelled.
func CancelPoll(c *gin.Context) {
	setPollStatus(c, models.PollStatusCancelled)
}

func setPollStatus(c *gin.Context, status models.PollStatus) {
	pollID, ok := parsePollID(c)
	if !ok {
		return
	}

	err := repo.SetStatus(c.Request.Context(), pollID, status)
	switch {
	case errors.Is(err, repository.ErrPollNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Poll not found"})
		return
	case errors.Is(err, repository.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "Poll is not active"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update poll status"})
		return
	}

	notifier.Publish(notify.NewEvent(notify.EventPollStatus, pollID, "", string(status)))
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Poll %s", status)})
}

// ReopenPollInput carries the optional reopen window in minutes.
type ReopenPollInput struct {
	Minutes int `json:"minutes"`
}

// ReopenPoll puts a completed poll back to active until its reopen deadline,
// after which the background sweep closes it again.
func ReopenPoll(c *gin.Context) {
	pollID, ok := parsePollID(c)
	if !ok {
		return
	}

	// The window is optional; a bodiless request uses the default.
	var input ReopenPollInput
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	poll, err := repo.Reopen(c.Request.Context(), pollID, input.Minutes)
	switch {
	case errors.Is(err, repository.ErrPollNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Poll not found"})
		return
	case errors.Is(err, repository.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "Only completed polls can be reopened"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reopen poll"})
		return
	}

	notifier.Publish(notify.NewEvent(notify.EventPollStatus, pollID, poll.Title, "reopened"))
	c.JSON(http.StatusOK, poll)
}

// ResetVotesInput selects whose votes to clear; empty voter_id means all.
type ResetVotesInput struct {
	VoterID string `json:"voter_id"`
}

// ResetPollVotes clears vote rows so members can revote. Restricted to
// members holding the admin role; there is no shared-key fallback.
func ResetPollVotes(c *gin.Context) {
	pollID, ok := parsePollID(c)
	if !ok {
		return
	}

	actor := c.GetHeader(memberIDHeader)
	if actor == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}
	member, err := repo.GetMember(c.Request.Context(), actor)
	if err != nil || member.Role != models.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "Admin role required"})
		return
	}

	// A bodiless request clears the whole poll.
	var input ResetVotesInput
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	var removed int64
	if input.VoterID != "" {
		removed, err = repo.ResetUserVotes(c.Request.Context(), pollID, input.VoterID)
	} else {
		removed, err = repo.ResetAllVotes(c.Request.Context(), pollID)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reset votes"})
		return
	}

	notifier.Publish(notify.NewEvent(notify.EventVotesReset, pollID, "", input.VoterID))
	broadcastPollStats(pollID)

	c.JSON(http.StatusOK, gin.H{
		"message":       "Votes reset successfully",
		"votes_removed": removed,
	})
}

func parsePollID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid poll ID format"})
		return 0, false
	}
	return uint(id), true
}
