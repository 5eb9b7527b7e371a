package repository

import (
	"context"
	"testing"
	"time"

	"portal-voting-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupRepo(t *testing.T) (*PollRepo, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.Member{},
		&models.Poll{},
		&models.SubPoll{},
		&models.Vote{},
		&models.PollAttachment{},
	))

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	})

	return New(db), db
}

func TestCreate_TransactionAndOrdering(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	poll, err := repo.Create(ctx, CreatePollInput{
		Title:    "General meeting",
		Deadline: time.Now().Add(time.Hour),
		SubPolls: []SubPollInput{
			{Title: "Approve agenda"},
			{Title: "   "}, // blank titles are dropped
			{Title: "Approve minutes"},
		},
		Attachment: &AttachmentInput{
			FileName:    "agenda.pdf",
			StoragePath: "poll-attachments/abc.pdf",
			MimeType:    "application/pdf",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, models.PollStatusActive, poll.Status)
	require.Len(t, poll.SubPolls, 2)
	assert.Equal(t, "Approve agenda", poll.SubPolls[0].Title)
	assert.Equal(t, 0, poll.SubPolls[0].OrderIndex)
	assert.Equal(t, "Approve minutes", poll.SubPolls[1].Title)
	assert.Equal(t, 1, poll.SubPolls[1].OrderIndex)
	require.Len(t, poll.Attachments, 1)
	assert.Equal(t, "agenda.pdf", poll.Attachments[0].FileName)
}

func TestCreate_RejectsEmptySubPolls(t *testing.T) {
	repo, _ := setupRepo(t)

	_, err := repo.Create(context.Background(), CreatePollInput{
		Title:    "No questions",
		Deadline: time.Now().Add(time.Hour),
		SubPolls: []SubPollInput{{Title: "  "}},
	})
	assert.ErrorIs(t, err, ErrNoSubPolls)
}

func TestUpdate_MergesSubPolls(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()

	poll, err := repo.Create(ctx, CreatePollInput{
		Title:    "Update me",
		Deadline: time.Now().Add(time.Hour),
		SubPolls: []SubPollInput{
			{Title: "Keep and rename"},
			{Title: "Drop me"},
			{Title: "Drop me but voted"},
		},
	})
	require.NoError(t, err)
	require.Len(t, poll.SubPolls, 3)

	// A vote protects the third question from deletion.
	require.NoError(t, db.Create(&models.Vote{
		PollID:    poll.ID,
		SubPollID: poll.SubPolls[2].ID,
		VoterID:   "bob",
		Choice:    models.VoteFavor,
	}).Error)

	newTitle := "Updated title"
	updated, err := repo.Update(ctx, poll.ID, UpdatePollInput{
		Title: &newTitle,
		SubPolls: []UpdateSubPollInput{
			{ID: poll.SubPolls[0].ID, Title: "Renamed"},
			{Title: "Brand new"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Updated title", updated.Title)
	require.Len(t, updated.SubPolls, 3)

	titles := make([]string, len(updated.SubPolls))
	for i, sp := range updated.SubPolls {
		titles[i] = sp.Title
	}
	assert.Contains(t, titles, "Renamed")
	assert.Contains(t, titles, "Brand new")
	assert.Contains(t, titles, "Drop me but voted")
	assert.NotContains(t, titles, "Drop me")
}

func TestUpdate_NilSubPollsLeavesQuestionsAlone(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	poll, err := repo.Create(ctx, CreatePollInput{
		Title:    "Partial update",
		Deadline: time.Now().Add(time.Hour),
		SubPolls: []SubPollInput{{Title: "Q1"}, {Title: "Q2"}},
	})
	require.NoError(t, err)

	desc := "now with a description"
	updated, err := repo.Update(ctx, poll.ID, UpdatePollInput{Description: &desc})
	require.NoError(t, err)

	assert.Equal(t, "now with a description", updated.Description)
	assert.Len(t, updated.SubPolls, 2)
}

func TestSetStatus_Transitions(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	poll, err := repo.Create(ctx, CreatePollInput{
		Title:    "Lifecycle",
		Deadline: time.Now().Add(time.Hour),
		SubPolls: []SubPollInput{{Title: "Q1"}},
	})
	require.NoError(t, err)

	require.NoError(t, repo.SetStatus(ctx, poll.ID, models.PollStatusCompleted))

	// completed -> cancelled is not allowed
	assert.ErrorIs(t, repo.SetStatus(ctx, poll.ID, models.PollStatusCancelled), ErrInvalidTransition)

	// unknown poll
	assert.ErrorIs(t, repo.SetStatus(ctx, 9999, models.PollStatusCompleted), ErrPollNotFound)

	// active is never a transition target
	assert.ErrorIs(t, repo.SetStatus(ctx, poll.ID, models.PollStatusActive), ErrInvalidTransition)
}

func TestReopenAndSweep(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()

	poll, err := repo.Create(ctx, CreatePollInput{
		Title:    "Reopen target",
		Deadline: time.Now().Add(time.Hour),
		SubPolls: []SubPollInput{{Title: "Q1"}},
	})
	require.NoError(t, err)
	require.NoError(t, repo.SetStatus(ctx, poll.ID, models.PollStatusCompleted))

	reopened, err := repo.Reopen(ctx, poll.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, models.PollStatusActive, reopened.Status)
	require.NotNil(t, reopened.ReopenDeadline)
	assert.WithinDuration(t, time.Now().Add(DefaultReopenMinutes*time.Minute),
		*reopened.ReopenDeadline, time.Minute)

	// Push the reopen deadline into the past; the sweep must close the poll.
	past := time.Now().Add(-time.Minute)
	require.NoError(t, db.Model(&models.Poll{}).Where("id = ?", poll.ID).
		Update("reopen_deadline", past).Error)

	closed, err := repo.AutoCloseReopened(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), closed)

	stored, err := repo.Get(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PollStatusCompleted, stored.Status)
}

func TestList_RunsSweepFirst(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()

	poll, err := repo.Create(ctx, CreatePollInput{
		Title:    "Expired reopen",
		Deadline: time.Now().Add(time.Hour),
		SubPolls: []SubPollInput{{Title: "Q1"}},
	})
	require.NoError(t, err)

	past := time.Now().Add(-time.Minute)
	require.NoError(t, db.Model(&models.Poll{}).Where("id = ?", poll.ID).
		Update("reopen_deadline", past).Error)

	views, err := repo.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, models.PollStatusCompleted, views[0].Status)
}

func TestStats(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, db.Create(&models.Member{
			ID: id, Name: id, Email: id + "@example.com", Role: models.RoleMember,
		}).Error)
	}

	poll, err := repo.Create(ctx, CreatePollInput{
		Title:    "Stats poll",
		Deadline: time.Now().Add(time.Hour),
		SubPolls: []SubPollInput{{Title: "Q1"}, {Title: "Q2"}},
	})
	require.NoError(t, err)

	// One member answers both questions; counted once.
	for _, sp := range poll.SubPolls {
		require.NoError(t, db.Create(&models.Vote{
			PollID:    poll.ID,
			SubPollID: sp.ID,
			VoterID:   "a",
			Choice:    models.VoteFavor,
		}).Error)
	}
	require.NoError(t, db.Create(&models.Vote{
		PollID:    poll.ID,
		SubPollID: poll.SubPolls[0].ID,
		VoterID:   "b",
		Choice:    models.VoteAgainst,
	}).Error)

	stats, err := repo.Stats(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalVoters)
	assert.Equal(t, int64(2), stats.VotedCount)
	assert.Equal(t, int64(2), stats.PendingCount)
	assert.Equal(t, int64(2), stats.SubPollCount)
}

func TestStats_PendingNeverNegative(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()

	// Votes exist from members no longer on the roll.
	poll, err := repo.Create(ctx, CreatePollInput{
		Title:    "Shrunken roll",
		Deadline: time.Now().Add(time.Hour),
		SubPolls: []SubPollInput{{Title: "Q1"}},
	})
	require.NoError(t, err)

	for _, voter := range []string{"ghost1", "ghost2"} {
		require.NoError(t, db.Create(&models.Vote{
			PollID:    poll.ID,
			SubPollID: poll.SubPolls[0].ID,
			VoterID:   voter,
			Choice:    models.VoteFavor,
		}).Error)
	}

	stats, err := repo.Stats(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalVoters)
	assert.Equal(t, int64(2), stats.VotedCount)
	assert.Equal(t, int64(0), stats.PendingCount)
}

func TestResetVotes(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()

	poll, err := repo.Create(ctx, CreatePollInput{
		Title:    "Reset target",
		Deadline: time.Now().Add(time.Hour),
		SubPolls: []SubPollInput{{Title: "Q1"}},
	})
	require.NoError(t, err)

	for _, voter := range []string{"a", "b", "c"} {
		require.NoError(t, db.Create(&models.Vote{
			PollID:    poll.ID,
			SubPollID: poll.SubPolls[0].ID,
			VoterID:   voter,
			Choice:    models.VoteFavor,
		}).Error)
	}

	removed, err := repo.ResetUserVotes(ctx, poll.ID, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	voted, err := repo.HasVoted(ctx, poll.ID, "b")
	require.NoError(t, err)
	assert.False(t, voted)

	removed, err = repo.ResetAllVotes(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
}

func TestVoteUniqueIndex(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()

	poll, err := repo.Create(ctx, CreatePollInput{
		Title:    "Unique guard",
		Deadline: time.Now().Add(time.Hour),
		SubPolls: []SubPollInput{{Title: "Q1"}},
	})
	require.NoError(t, err)

	vote := models.Vote{
		PollID:    poll.ID,
		SubPollID: poll.SubPolls[0].ID,
		VoterID:   "bob",
		Choice:    models.VoteFavor,
	}
	require.NoError(t, db.Create(&vote).Error)

	dup := models.Vote{
		PollID:    poll.ID,
		SubPollID: poll.SubPolls[0].ID,
		VoterID:   "bob",
		Choice:    models.VoteAgainst,
	}
	assert.Error(t, db.Create(&dup).Error)
}

func TestBumpAttachmentCounter(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()

	att := models.PollAttachment{
		PollID:      1,
		FileName:    "report.pdf",
		StoragePath: "poll-attachments/x.pdf",
	}
	require.NoError(t, db.Create(&att).Error)

	repo.BumpAttachmentCounter(ctx, att.ID, "view_count")
	repo.BumpAttachmentCounter(ctx, att.ID, "view_count")
	repo.BumpAttachmentCounter(ctx, att.ID, "download_count")
	// Unknown columns are ignored.
	repo.BumpAttachmentCounter(ctx, att.ID, "title")

	stored, err := repo.GetAttachment(ctx, att.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.ViewCount)
	assert.Equal(t, int64(1), stored.DownloadCount)
}
