// Package notify stores per-user notifications: newest first, capped, and
// evicted after a retention period.
package notify

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultCap       = 100
	DefaultRetention = 30 * 24 * time.Hour
)

// Notification kinds.
const (
	KindInvitation    = "invitation"
	KindCommentReply  = "comment_reply"
	KindDiscussion    = "discussion_reply"
	KindReplyReply    = "reply_reply"
	KindMemberJoined  = "member_joined"
	KindPaperUploaded = "paper_uploaded"
)

var ErrNotFound = errors.New("notification not found")

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Kind      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Link      string    `json:"link,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the notification backend. List returns at most limit entries,
// newest first, together with the number of unread entries.
type Store interface {
	Add(ctx context.Context, n Notification) (Notification, error)
	List(ctx context.Context, userID string, limit int) ([]Notification, int, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) error
}

// Options bounds how many notifications are kept per user and for how long.
type Options struct {
	Cap       int
	Retention time.Duration
}

func (o Options) normalized() Options {
	if o.Cap <= 0 {
		o.Cap = DefaultCap
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	return o
}

func countUnread(items []Notification) int {
	unread := 0
	for _, n := range items {
		if !n.Read {
			unread++
		}
	}
	return unread
}
