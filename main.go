package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"portal-voting-backend/cache"
	"portal-voting-backend/config"
	"portal-voting-backend/database"
	"portal-voting-backend/handlers"
	"portal-voting-backend/notify"
	"portal-voting-backend/refresh"
	"portal-voting-backend/repository"
	"portal-voting-backend/routes"
	"portal-voting-backend/storage"
	"portal-voting-backend/voting"
)

func main() {
	config.LoadEnv()

	if err := database.InitDB(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	log.Println("Database connection established")

	if err := cache.InitRedis(); err != nil {
		log.Printf("Warning: Redis unavailable, running without cache: %v", err)
	} else {
		log.Println("Redis connection established")
		cache.InitDistLock()
	}

	notifier := notify.NewAdapter()
	if notifier.Enabled() {
		if err := notifier.StartConsumer(deliverNotification); err != nil {
			log.Printf("Warning: notification consumer failed to start: %v", err)
		}
	} else {
		log.Println("Notification queue disabled, member notifications are off")
	}

	repo := repository.New(database.DB)
	svc := voting.NewService(database.DB, repo)
	svc.EnforceDeadline = config.DeadlineEnforced()

	store := storage.NewStore(
		config.GetEnv("STORAGE_DIR", "./data/attachments"),
		config.GetEnv("STORAGE_PUBLIC_URL", ""),
	)
	if err := store.EnsureBucket(); err != nil {
		log.Fatalf("Failed to prepare attachment storage: %v", err)
	}

	handlers.Init(repo, svc, notifier, store)

	// Warm poll stats in the background so list requests stay cheap.
	refreshCtx, stopRefresh := context.WithCancel(context.Background())
	refresher := refresh.New(refresh.DefaultInterval, func(ctx context.Context) {
		if _, err := repo.List(ctx, ""); err != nil {
			log.Printf("Background poll refresh failed: %v", err)
		}
	})
	go refresher.Run(refreshCtx)

	router := routes.SetupRouter()
	srv := routes.StartServer(router)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	stopRefresh()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shut down: %v", err)
	}

	notifier.Stop()
	database.CloseDB()

	log.Println("Server exited cleanly")
}

// deliverNotification is the consumer side of the member notification queue.
// Delivery channels (mail, push) hang off this hook; for now events are
// logged so operators can audit the stream.
func deliverNotification(event notify.Event) error {
	log.Printf("Notification %s: poll=%d type=%s title=%q detail=%q",
		event.MessageID, event.PollID, event.Type, event.Title, event.Detail)
	return nil
}
