package routes

import (
	"log"
	"net/http"
	"os"
	"time"

	"portal-voting-backend/handlers"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Server wraps the HTTP server so main can shut it down gracefully.
type Server struct {
	*http.Server
}

// SetupRouter configures the Gin engine with middleware and all API routes.
func SetupRouter() *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"}, // restrict to the portal origin in production
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Member-ID"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	go startPollSweeper()

	api := router.Group("/api")
	{
		api.Use(handlers.RateLimitMiddleware())

		api.GET("/health", handlers.HealthCheck)
		api.GET("/status", handlers.SystemStatus)

		polls := api.Group("/polls")
		{
			polls.POST("", handlers.CreatePoll)
			polls.GET("", handlers.GetPolls)
			polls.GET("/:id", handlers.GetPoll)
			polls.PUT("/:id", handlers.UpdatePoll)
			polls.DELETE("/:id", handlers.DeletePoll)

			polls.POST("/:id/complete", handlers.CompletePoll)
			polls.POST("/:id/cancel", handlers.CancelPoll)
			polls.POST("/:id/reopen", handlers.ReopenPoll)
			polls.POST("/:id/reset", handlers.ResetPollVotes)

			polls.GET("/:id/eligibility", handlers.CheckEligibility)
			polls.POST("/:id/votes", handlers.SubmitVotes)
			polls.GET("/:id/votes/mine", handlers.GetMyVotes)

			// live stats stream
			polls.GET("/:id/ws", handlers.HandleWebSocket)
		}

		attachments := api.Group("/attachments")
		{
			attachments.GET("/:id/url", handlers.GetAttachmentURL)
			attachments.GET("/:id/download", handlers.DownloadAttachment)
		}
	}

	return router
}

// StartServer starts the HTTP server on SERVER_PORT (default 8090).
func StartServer(router *gin.Engine) *Server {
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8090"
	}

	addr := ":" + port

	srv := &Server{
		&http.Server{
			Addr:    addr,
			Handler: router,
		},
	}

	go func() {
		log.Printf("Server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	return srv
}

// startPollSweeper periodically closes polls whose reopen window or deadline
// has passed.
func startPollSweeper() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		handlers.SweepPolls()
	}
}
