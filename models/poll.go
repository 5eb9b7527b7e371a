package models

import (
	"time"
)

// PollStatus is the lifecycle state of a poll.
type PollStatus string

const (
	PollStatusActive    PollStatus = "active"
	PollStatusCompleted PollStatus = "completed"
	PollStatusCancelled PollStatus = "cancelled"
)

// VoteChoice is the answer to a single sub-poll question.
type VoteChoice string

const (
	VoteFavor   VoteChoice = "favor"
	VoteAgainst VoteChoice = "against"
	VoteAbstain VoteChoice = "abstain"
)

// Valid reports whether c is one of the three accepted choices.
func (c VoteChoice) Valid() bool {
	switch c {
	case VoteFavor, VoteAgainst, VoteAbstain:
		return true
	}
	return false
}

// Poll represents a votable item with one or more sub-questions.
type Poll struct {
	ID             uint             `gorm:"primarykey" json:"id"`
	Title          string           `gorm:"not null" json:"title"`
	Description    string           `gorm:"type:text" json:"description"`
	Deadline       time.Time        `gorm:"not null" json:"deadline"`
	Status         PollStatus       `gorm:"not null;default:active;index" json:"status"`
	IsSecret       bool             `gorm:"default:false" json:"is_secret"`
	NotifyMembers  bool             `gorm:"default:false" json:"notify_members"`
	CreatedBy      string           `gorm:"index" json:"created_by"`
	ReopenDeadline *time.Time       `json:"reopen_deadline,omitempty"`
	SubPolls       []SubPoll        `gorm:"foreignKey:PollID" json:"sub_polls"`
	Attachments    []PollAttachment `gorm:"foreignKey:PollID" json:"attachments"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// SubPoll is one yes/no/abstain question within a poll. OrderIndex defines
// render and tally order.
type SubPoll struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	PollID      uint      `gorm:"not null;index" json:"poll_id"`
	Title       string    `gorm:"not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	OrderIndex  int       `gorm:"not null;default:0" json:"order_index"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Vote is one member's answer to one sub-poll. The composite unique index on
// (sub_poll_id, voter_id) is the authoritative one-vote-per-question guard;
// any pre-check above it is a convenience only.
type Vote struct {
	ID        uint       `gorm:"primarykey" json:"id"`
	PollID    uint       `gorm:"not null;index" json:"poll_id"`
	SubPollID uint       `gorm:"not null;uniqueIndex:idx_subpoll_voter" json:"sub_poll_id"`
	VoterID   string     `gorm:"not null;uniqueIndex:idx_subpoll_voter" json:"voter_id"`
	Choice    VoteChoice `gorm:"not null" json:"choice"`
	Comment   string     `gorm:"type:text" json:"comment,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// PollAttachment is a reference file uploaded alongside a poll. The view and
// download counters are best effort.
type PollAttachment struct {
	ID            uint      `gorm:"primarykey" json:"id"`
	PollID        uint      `gorm:"not null;index" json:"poll_id"`
	FileName      string    `gorm:"not null" json:"file_name"`
	StoragePath   string    `gorm:"not null" json:"storage_path"`
	FileSize      int64     `json:"file_size"`
	MimeType      string    `json:"mime_type"`
	UploadedBy    string    `json:"uploaded_by"`
	ViewCount     int64     `gorm:"default:0" json:"view_count"`
	DownloadCount int64     `gorm:"default:0" json:"download_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// MemberRole controls access to administrative operations.
type MemberRole string

const (
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

// Member is a registered portal member. The members table doubles as the
// eligible-voter roll for poll statistics.
type Member struct {
	ID        string     `gorm:"primarykey" json:"id"`
	Name      string     `gorm:"not null" json:"name"`
	Email     string     `gorm:"uniqueIndex" json:"email"`
	Role      MemberRole `gorm:"not null;default:member" json:"role"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// PollStats are derived per poll on read, never stored.
type PollStats struct {
	TotalVoters  int64 `json:"total_voters"`
	VotedCount   int64 `json:"voted_count"`
	PendingCount int64 `json:"pending_count"`
	SubPollCount int64 `json:"sub_poll_count"`
}

// PollView is the read payload returned by the list endpoint: the poll plus
// derived stats and, when a viewer is known, whether that viewer already voted.
type PollView struct {
	Poll
	Stats    PollStats `json:"stats"`
	HasVoted *bool     `json:"has_voted,omitempty"`
}
