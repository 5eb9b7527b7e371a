package handlers

import (
	"errors"
	"net/http"

	"portal-voting-backend/models"
	"portal-voting-backend/repository"
	"portal-voting-backend/voting"

	"github.com/gin-gonic/gin"
)

// CheckEligibility returns the fresh eligibility state for the acting member
// on one poll. Never cached; callers re-check on every dialog open.
func CheckEligibility(c *gin.Context) {
	pollID, ok := parsePollID(c)
	if !ok {
		return
	}

	elig, err := votingSvc.CheckEligibility(c.Request.Context(), pollID, c.GetHeader(memberIDHeader))
	if errors.Is(err, repository.ErrPollNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Poll not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check eligibility"})
		return
	}
	c.JSON(http.StatusOK, elig)
}

// VoteEntryInput is one answer in a ballot submission.
type VoteEntryInput struct {
	SubPollID uint              `json:"sub_poll_id" binding:"required"`
	Choice    models.VoteChoice `json:"choice" binding:"required,oneof=favor against abstain"`
}

// SubmitVotesInput is a full ballot; the comment is duplicated onto every
// stored vote row.
type SubmitVotesInput struct {
	Votes   []VoteEntryInput `json:"votes" binding:"required,min=1,dive"`
	Comment string           `json:"comment"`
}

// SubmitVotes records a complete ballot for the acting member.
func SubmitVotes(c *gin.Context) {
	pollID, ok := parsePollID(c)
	if !ok {
		return
	}

	var input SubmitVotesInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub := voting.Submission{
		PollID:  pollID,
		VoterID: c.GetHeader(memberIDHeader),
		Comment: input.Comment,
		Votes:   make([]voting.VoteEntry, len(input.Votes)),
	}
	for i, entry := range input.Votes {
		sub.Votes[i] = voting.VoteEntry{SubPollID: entry.SubPollID, Choice: entry.Choice}
	}

	err := votingSvc.SubmitVotes(c.Request.Context(), sub)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "Votes submitted successfully"})
	case errors.Is(err, voting.ErrNotLoggedIn):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "You must be signed in to vote"})
	case errors.Is(err, repository.ErrPollNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Poll not found"})
	case errors.Is(err, voting.ErrPollInactive):
		c.JSON(http.StatusForbidden, gin.H{"error": voting.ReasonPollInactive})
	case errors.Is(err, voting.ErrAlreadyVoted):
		c.JSON(http.StatusConflict, gin.H{"error": voting.ReasonAlreadyVoted})
	case voting.IsBusinessError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		// Transport failure after retries; the client may offer to retry.
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": voting.ReasonConnectionError})
	}
}

// GetMyVotes returns the acting member's prior votes on a poll so a read-only
// view can show what was chosen. The batch comment rides on every row.
func GetMyVotes(c *gin.Context) {
	pollID, ok := parsePollID(c)
	if !ok {
		return
	}

	votes, err := votingSvc.UserVotes(c.Request.Context(), pollID, c.GetHeader(memberIDHeader))
	if errors.Is(err, voting.ErrNotLoggedIn) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": voting.ReasonConnectionError})
		return
	}

	comment := ""
	if len(votes) > 0 {
		comment = votes[0].Comment
	}
	c.JSON(http.StatusOK, gin.H{"votes": votes, "comment": comment})
}
