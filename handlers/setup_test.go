package handlers

import (
	"log"
	"testing"
	"time"

	"portal-voting-backend/database"
	"portal-voting-backend/models"
	"portal-voting-backend/notify"
	"portal-voting-backend/repository"
	"portal-voting-backend/retry"
	"portal-voting-backend/storage"
	"portal-voting-backend/voting"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestEnvironment wires the router against an in-memory SQLite database.
func SetupTestEnvironment(t *testing.T) (*gin.Engine, *gorm.DB) {
	testing.Init()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("Failed to connect to in-memory database: %v", err)
	}

	database.DB = db
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	pollRepo := repository.New(db)
	svc := voting.NewService(db, pollRepo)
	// No backoff sleeps in tests.
	svc.SetRetrier(retry.Retrier{MaxAttempts: 1})

	store := storage.NewStore(t.TempDir(), "")
	Init(pollRepo, svc, notify.NewAdapter(), store)

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	})

	router := gin.New()
	api := router.Group("/api")
	{
		api.POST("/polls", CreatePoll)
		api.GET("/polls", GetPolls)
		api.GET("/polls/:id", GetPoll)
		api.PUT("/polls/:id", UpdatePoll)
		api.DELETE("/polls/:id", DeletePoll)
		api.POST("/polls/:id/complete", CompletePoll)
		api.POST("/polls/:id/cancel", CancelPoll)
		api.POST("/polls/:id/reopen", ReopenPoll)
		api.POST("/polls/:id/reset", ResetPollVotes)
		api.GET("/polls/:id/eligibility", CheckEligibility)
		api.POST("/polls/:id/votes", SubmitVotes)
		api.GET("/polls/:id/votes/mine", GetMyVotes)
		api.GET("/attachments/:id/url", GetAttachmentURL)
		api.GET("/attachments/:id/download", DownloadAttachment)
	}

	return router, db
}

// ClearTables wipes all rows between tests. Order matters because of
// foreign keys.
func ClearTables(db *gorm.DB) {
	session := db.Session(&gorm.Session{AllowGlobalUpdate: true})
	session.Delete(&models.Vote{})
	session.Delete(&models.SubPoll{})
	session.Delete(&models.PollAttachment{})
	session.Delete(&models.Poll{})
	session.Delete(&models.Member{})
}

// SeedMembers inserts a voter roll; the first entry is an admin.
func SeedMembers(db *gorm.DB, ids ...string) {
	for i, id := range ids {
		role := models.RoleMember
		if i == 0 {
			role = models.RoleAdmin
		}
		db.Create(&models.Member{
			ID:    id,
			Name:  "Member " + id,
			Email: id + "@example.com",
			Role:  role,
		})
	}
}

// SeedPoll inserts an active poll with the given sub-poll titles and returns it.
func SeedPoll(db *gorm.DB, title string, subTitles ...string) *models.Poll {
	poll := &models.Poll{
		Title:    title,
		Deadline: time.Now().Add(24 * time.Hour),
		Status:   models.PollStatusActive,
	}
	db.Create(poll)
	for i, st := range subTitles {
		db.Create(&models.SubPoll{PollID: poll.ID, Title: st, OrderIndex: i})
	}
	db.Preload("SubPolls").First(poll, poll.ID)
	return poll
}
