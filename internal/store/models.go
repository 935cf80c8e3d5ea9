package store

import "time"

type User struct {
	ID                    string
	Name                  string
	Email                 string
	PasswordHash          string
	Institution           string
	Bio                   string
	ResearchInterests     []string
	Role                  string
	IsEmailVerified       bool
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type UserFilter struct {
	Search string
	Limit  int
	Offset int
}

type Group struct {
	ID          string
	Name        string
	Description string
	Category    string
	Tags        []string
	IsPrivate   bool
	OwnerID     string
	OwnerName   string
	MemberCount int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// GroupFilter selects groups visible to ViewerID: public groups plus the
// private groups the viewer belongs to. MemberOnly restricts the result to
// the viewer's own groups.
type GroupFilter struct {
	ViewerID   string
	Search     string
	Category   string
	MemberOnly bool
	Limit      int
	Offset     int
}

type Member struct {
	GroupID     string
	UserID      string
	Role        string
	Name        string
	Email       string
	Institution string
	JoinedAt    time.Time
}

type Invitation struct {
	ID           string
	GroupID      string
	GroupName    string
	InviterID    string
	InviterName  string
	InviteeEmail string
	InviteeID    *string
	Status       string
	Message      string
	ExpiresAt    time.Time
	RespondedAt  *time.Time
	CreatedAt    time.Time
}

type Paper struct {
	ID           string
	GroupID      string
	Title        string
	Abstract     string
	Authors      []string
	Keywords     []string
	FileKey      string
	FileName     string
	ContentType  string
	FileSize     int64
	UploadedBy   string
	UploaderName string
	Downloads    int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type PaperFilter struct {
	GroupID string
	Search  string
	Limit   int
	Offset  int
}

// ThreadItem is a comment on a paper or a reply in a discussion. ContainerID
// is the paper or discussion id. ParentID may reference an item that no
// longer exists.
type ThreadItem struct {
	ID          string
	ContainerID string
	ParentID    *string
	AuthorID    string
	AuthorName  string
	Content     string
	Likes       []string
	CreatedAt   time.Time
	EditedAt    *time.Time
}

type Discussion struct {
	ID             string
	GroupID        string
	Title          string
	Content        string
	Tags           []string
	AuthorID       string
	AuthorName     string
	IsPinned       bool
	IsClosed       bool
	ReplyCount     int
	LastActivityAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}
