package app

import (
	"time"

	"github.com/blessing-molokwu/chatademy-sub000/internal/gitrepo"
	"github.com/blessing-molokwu/chatademy-sub000/internal/rbac"
	"github.com/blessing-molokwu/chatademy-sub000/internal/store"
	"github.com/blessing-molokwu/chatademy-sub000/internal/threadtree"
)

// JSON shapes returned by the API. Store models carry no encoding concerns;
// everything leaving the service is mapped here.

type authorView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type userView struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Email             string    `json:"email,omitempty"`
	Institution       string    `json:"institution"`
	Bio               string    `json:"bio"`
	ResearchInterests []string  `json:"researchInterests"`
	Role              string    `json:"role,omitempty"`
	IsEmailVerified   *bool     `json:"isEmailVerified,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// toUserView is the caller's own account.
func toUserView(u store.User) userView {
	verified := u.IsEmailVerified
	view := toPublicUserView(u)
	view.Email = u.Email
	view.Role = u.Role
	view.IsEmailVerified = &verified
	return view
}

// toPublicUserView omits contact and account details.
func toPublicUserView(u store.User) userView {
	return userView{
		ID:                u.ID,
		Name:              u.Name,
		Institution:       u.Institution,
		Bio:               u.Bio,
		ResearchInterests: nonNilStrings(u.ResearchInterests),
		CreatedAt:         u.CreatedAt,
	}
}

type groupView struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Tags        []string   `json:"tags"`
	IsPrivate   bool       `json:"isPrivate"`
	Owner       authorView `json:"owner"`
	MemberCount int        `json:"memberCount"`
	MyRole      string     `json:"myRole,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func toGroupView(g store.Group, role rbac.Role) groupView {
	return groupView{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		Category:    g.Category,
		Tags:        nonNilStrings(g.Tags),
		IsPrivate:   g.IsPrivate,
		Owner:       authorView{ID: g.OwnerID, Name: g.OwnerName},
		MemberCount: g.MemberCount,
		MyRole:      string(role),
		CreatedAt:   g.CreatedAt,
		UpdatedAt:   g.UpdatedAt,
	}
}

type memberView struct {
	UserID      string    `json:"userId"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Institution string    `json:"institution"`
	Role        string    `json:"role"`
	JoinedAt    time.Time `json:"joinedAt"`
}

func toMemberViews(members []store.Member) []memberView {
	out := make([]memberView, 0, len(members))
	for _, m := range members {
		out = append(out, memberView{
			UserID:      m.UserID,
			Name:        m.Name,
			Email:       m.Email,
			Institution: m.Institution,
			Role:        m.Role,
			JoinedAt:    m.JoinedAt,
		})
	}
	return out
}

type invitationView struct {
	ID           string     `json:"id"`
	Group        authorView `json:"group"`
	Inviter      authorView `json:"inviter"`
	InviteeEmail string     `json:"inviteeEmail"`
	InviteeID    *string    `json:"inviteeId,omitempty"`
	Status       string     `json:"status"`
	Message      string     `json:"message,omitempty"`
	ExpiresAt    time.Time  `json:"expiresAt"`
	RespondedAt  *time.Time `json:"respondedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

func toInvitationView(inv store.Invitation) invitationView {
	return invitationView{
		ID:           inv.ID,
		Group:        authorView{ID: inv.GroupID, Name: inv.GroupName},
		Inviter:      authorView{ID: inv.InviterID, Name: inv.InviterName},
		InviteeEmail: inv.InviteeEmail,
		InviteeID:    inv.InviteeID,
		Status:       inv.Status,
		Message:      inv.Message,
		ExpiresAt:    inv.ExpiresAt,
		RespondedAt:  inv.RespondedAt,
		CreatedAt:    inv.CreatedAt,
	}
}

func toInvitationViews(invs []store.Invitation) []invitationView {
	out := make([]invitationView, 0, len(invs))
	for _, inv := range invs {
		out = append(out, toInvitationView(inv))
	}
	return out
}

type paperView struct {
	ID          string     `json:"id"`
	GroupID     string     `json:"groupId"`
	Title       string     `json:"title"`
	Abstract    string     `json:"abstract"`
	Authors     []string   `json:"authors"`
	Keywords    []string   `json:"keywords"`
	FileName    string     `json:"fileName"`
	ContentType string     `json:"contentType"`
	FileSize    int64      `json:"fileSize"`
	UploadedBy  authorView `json:"uploadedBy"`
	Downloads   int        `json:"downloads"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func toPaperView(p store.Paper) paperView {
	return paperView{
		ID:          p.ID,
		GroupID:     p.GroupID,
		Title:       p.Title,
		Abstract:    p.Abstract,
		Authors:     nonNilStrings(p.Authors),
		Keywords:    nonNilStrings(p.Keywords),
		FileName:    p.FileName,
		ContentType: p.ContentType,
		FileSize:    p.FileSize,
		UploadedBy:  authorView{ID: p.UploadedBy, Name: p.UploaderName},
		Downloads:   p.Downloads,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func toPaperViews(papers []store.Paper) []paperView {
	out := make([]paperView, 0, len(papers))
	for _, p := range papers {
		out = append(out, toPaperView(p))
	}
	return out
}

// itemView is a comment or reply.
type itemView struct {
	ID        string     `json:"id"`
	ParentID  *string    `json:"parentId"`
	Author    authorView `json:"author"`
	Content   string     `json:"content"`
	Likes     []string   `json:"likes"`
	LikeCount int        `json:"likeCount"`
	IsEdited  bool       `json:"isEdited"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

func toItemView(item store.ThreadItem) itemView {
	likes := nonNilStrings(item.Likes)
	return itemView{
		ID:        item.ID,
		ParentID:  item.ParentID,
		Author:    authorView{ID: item.AuthorID, Name: item.AuthorName},
		Content:   item.Content,
		Likes:     likes,
		LikeCount: len(likes),
		IsEdited:  item.EditedAt != nil,
		EditedAt:  item.EditedAt,
		CreatedAt: item.CreatedAt,
	}
}

func itemKey(v itemView) (string, string) {
	if v.ParentID == nil {
		return v.ID, ""
	}
	return v.ID, *v.ParentID
}

// threadView is one node of a comment or reply forest.
type threadView struct {
	itemView
	Replies []threadView `json:"replies"`
}

func toThreadViews(nodes []*threadtree.Node[itemView]) []threadView {
	out := make([]threadView, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, threadView{itemView: n.Item, Replies: toThreadViews(n.Children)})
	}
	return out
}

type likesView struct {
	Liked     bool     `json:"liked"`
	Likes     []string `json:"likes"`
	LikeCount int      `json:"likeCount"`
}

func toLikesView(likes []string, userID string) likesView {
	likes = nonNilStrings(likes)
	liked := false
	for _, id := range likes {
		if id == userID {
			liked = true
			break
		}
	}
	return likesView{Liked: liked, Likes: likes, LikeCount: len(likes)}
}

type discussionView struct {
	ID             string     `json:"id"`
	GroupID        string     `json:"groupId"`
	Title          string     `json:"title"`
	Content        string     `json:"content"`
	Tags           []string   `json:"tags"`
	Author         authorView `json:"author"`
	IsPinned       bool       `json:"isPinned"`
	IsClosed       bool       `json:"isClosed"`
	ReplyCount     int        `json:"replyCount"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func toDiscussionView(d store.Discussion) discussionView {
	return discussionView{
		ID:             d.ID,
		GroupID:        d.GroupID,
		Title:          d.Title,
		Content:        d.Content,
		Tags:           nonNilStrings(d.Tags),
		Author:         authorView{ID: d.AuthorID, Name: d.AuthorName},
		IsPinned:       d.IsPinned,
		IsClosed:       d.IsClosed,
		ReplyCount:     d.ReplyCount,
		LastActivityAt: d.LastActivityAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func toDiscussionViews(discussions []store.Discussion) []discussionView {
	out := make([]discussionView, 0, len(discussions))
	for _, d := range discussions {
		out = append(out, toDiscussionView(d))
	}
	return out
}

type revisionView struct {
	Hash      string                `json:"hash"`
	Message   string                `json:"message"`
	Author    string                `json:"author"`
	CreatedAt time.Time             `json:"createdAt"`
	Changes   []gitrepo.FieldChange `json:"changes"`
}

func toRevisionViews(revs []gitrepo.Revision) []revisionView {
	out := make([]revisionView, 0, len(revs))
	for _, rev := range revs {
		changes := rev.Changes
		if changes == nil {
			changes = []gitrepo.FieldChange{}
		}
		out = append(out, revisionView{
			Hash:      rev.Commit.Hash,
			Message:   rev.Commit.Message,
			Author:    rev.Commit.Author,
			CreatedAt: rev.Commit.CreatedAt,
			Changes:   changes,
		})
	}
	return out
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
