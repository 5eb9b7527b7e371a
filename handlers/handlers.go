package handlers

import (
	"context"
	"log"

	"portal-voting-backend/config"
	"portal-voting-backend/notify"
	"portal-voting-backend/repository"
	"portal-voting-backend/storage"
	"portal-voting-backend/voting"
)

// Shared handler dependencies, wired once at startup.
var (
	repo      *repository.PollRepo
	votingSvc *voting.Service
	notifier  *notify.Adapter
	fileStore *storage.Store
	pollHub   *Hub
)

// Init wires the handler package. The voting service broadcasts fresh stats
// to websocket subscribers after every successful submission.
func Init(r *repository.PollRepo, svc *voting.Service, n *notify.Adapter, store *storage.Store) {
	repo = r
	votingSvc = svc
	notifier = n
	fileStore = store
	pollHub = NewHub()
	go pollHub.Run()

	votingSvc.OnVotesChanged = broadcastPollStats
	log.Println("Handlers initialized")
}

// SweepPolls closes polls whose reopen window has expired and, when deadline
// enforcement is on, polls whose voting deadline has passed. Called
// periodically from the router's background ticker.
func SweepPolls() {
	ctx := context.Background()

	if n, err := repo.AutoCloseReopened(ctx); err != nil {
		log.Printf("Reopened-poll sweep failed: %v", err)
	} else if n > 0 {
		log.Printf("Closed %d reopened polls past their window", n)
	}

	if config.DeadlineEnforced() {
		if n, err := repo.CloseExpired(ctx); err != nil {
			log.Printf("Expired-poll sweep failed: %v", err)
		} else if n > 0 {
			log.Printf("Closed %d polls past their deadline", n)
		}
	}
}

// The actor is identified by a header set by the authenticating proxy;
// session management itself is outside this service.
const memberIDHeader = "X-Member-ID"
