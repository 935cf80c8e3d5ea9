package app

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blessing-molokwu/chatademy-sub000/internal/store"
)

// memStore is an in-memory DataStore with the same not-found and ordering
// behavior as the Postgres store.
type memStore struct {
	mu sync.Mutex

	users         map[string]store.User
	verifications map[string]string
	resets        map[string]string
	refresh       map[string]string
	revoked       map[string]bool

	groups      map[string]store.Group
	members     map[string]map[string]string
	invitations map[string]store.Invitation

	papers      map[string]store.Paper
	discussions map[string]store.Discussion
	comments    []store.ThreadItem
	replies     []store.ThreadItem

	pingErr error
}

func newMemStore() *memStore {
	return &memStore{
		users:         make(map[string]store.User),
		verifications: make(map[string]string),
		resets:        make(map[string]string),
		refresh:       make(map[string]string),
		revoked:       make(map[string]bool),
		groups:        make(map[string]store.Group),
		members:       make(map[string]map[string]string),
		invitations:   make(map[string]store.Invitation),
		papers:        make(map[string]store.Paper),
		discussions:   make(map[string]store.Discussion),
	}
}

func (m *memStore) Ping(context.Context) error { return m.pingErr }

// users

func (m *memStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == strings.ToLower(email) {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memStore) CreateUser(_ context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.Email = strings.ToLower(user.Email)
	user.CreatedAt = time.Now()
	m.users[user.ID] = user
	return nil
}

func (m *memStore) SetVerificationToken(_ context.Context, userID, tokenHash string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications[tokenHash] = userID
	return nil
}

func (m *memStore) VerifyUserEmail(_ context.Context, tokenHash string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.verifications[tokenHash]
	if !ok {
		return "", sql.ErrNoRows
	}
	u := m.users[userID]
	u.IsEmailVerified = true
	m.users[userID] = u
	delete(m.verifications, tokenHash)
	return userID, nil
}

func (m *memStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = passwordHash
	m.users[userID] = u
	return nil
}

func (m *memStore) CreatePasswordReset(_ context.Context, userID, tokenHash string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets[tokenHash] = userID
	return nil
}

func (m *memStore) GetPasswordReset(_ context.Context, tokenHash string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.resets[tokenHash]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (m *memStore) MarkPasswordResetUsed(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resets, tokenHash)
	return nil
}

func (m *memStore) ListUsers(_ context.Context, filter store.UserFilter) ([]store.User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.User
	for _, u := range m.users {
		needle := strings.ToLower(filter.Search)
		if needle == "" || strings.Contains(strings.ToLower(u.Name), needle) || strings.Contains(u.Email, needle) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return window(out, filter.Limit, filter.Offset), len(out), nil
}

func (m *memStore) UpdateUserProfile(_ context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return sql.ErrNoRows
	}
	m.users[user.ID] = user
	return nil
}

// sessions

func (m *memStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[tokenHash] = userID
	return nil
}

func (m *memStore) LookupRefreshSession(_ context.Context, tokenHash string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.refresh[tokenHash]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (m *memStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refresh, tokenHash)
	return nil
}

func (m *memStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = true
	return nil
}

func (m *memStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revoked[jti], nil
}

// groups

func (m *memStore) groupLocked(id string) (store.Group, bool) {
	g, ok := m.groups[id]
	if !ok {
		return store.Group{}, false
	}
	g.OwnerName = m.users[g.OwnerID].Name
	g.MemberCount = len(m.members[id])
	return g, true
}

func (m *memStore) CreateGroup(_ context.Context, g store.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g.CreatedAt = time.Now()
	g.UpdatedAt = g.CreatedAt
	m.groups[g.ID] = g
	m.members[g.ID] = map[string]string{g.OwnerID: "owner"}
	return nil
}

func (m *memStore) GetGroup(_ context.Context, id string) (store.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groupLocked(id)
	if !ok {
		return store.Group{}, sql.ErrNoRows
	}
	return g, nil
}

func (m *memStore) ListGroups(_ context.Context, filter store.GroupFilter) ([]store.Group, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Group
	for id := range m.groups {
		g, _ := m.groupLocked(id)
		_, member := m.members[id][filter.ViewerID]
		if (g.IsPrivate || filter.MemberOnly) && !member {
			continue
		}
		if filter.Category != "" && g.Category != filter.Category {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(g.Name), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return window(out, filter.Limit, filter.Offset), len(out), nil
}

func (m *memStore) UpdateGroup(_ context.Context, g store.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[g.ID]; !ok {
		return sql.ErrNoRows
	}
	m.groups[g.ID] = g
	return nil
}

func (m *memStore) DeleteGroup(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.groups, id)
	delete(m.members, id)
	for pid, p := range m.papers {
		if p.GroupID == id {
			delete(m.papers, pid)
		}
	}
	for did, d := range m.discussions {
		if d.GroupID == id {
			delete(m.discussions, did)
		}
	}
	return nil
}

func (m *memStore) GetMemberRole(_ context.Context, groupID, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.members[groupID][userID], nil
}

func (m *memStore) AddMember(_ context.Context, groupID, userID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.members[groupID] == nil {
		m.members[groupID] = make(map[string]string)
	}
	if _, ok := m.members[groupID][userID]; !ok {
		m.members[groupID][userID] = role
	}
	return nil
}

func (m *memStore) UpdateMemberRole(_ context.Context, groupID, userID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[groupID][userID]; !ok {
		return sql.ErrNoRows
	}
	m.members[groupID][userID] = role
	return nil
}

func (m *memStore) RemoveMember(_ context.Context, groupID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[groupID][userID]; !ok {
		return sql.ErrNoRows
	}
	delete(m.members[groupID], userID)
	return nil
}

func (m *memStore) ListMembers(_ context.Context, groupID string) ([]store.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Member, 0)
	for userID, role := range m.members[groupID] {
		u := m.users[userID]
		out = append(out, store.Member{GroupID: groupID, UserID: userID, Role: role, Name: u.Name, Email: u.Email})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *memStore) MemberGroupIDs(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0)
	for groupID, members := range m.members {
		if _, ok := members[userID]; ok {
			ids = append(ids, groupID)
		}
	}
	return ids, nil
}

// invitations

func (m *memStore) CreateInvitation(_ context.Context, inv store.Invitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv.GroupName = m.groups[inv.GroupID].Name
	inv.InviterName = m.users[inv.InviterID].Name
	inv.CreatedAt = time.Now()
	m.invitations[inv.ID] = inv
	return nil
}

func (m *memStore) GetInvitation(_ context.Context, id string) (store.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invitations[id]
	if !ok {
		return store.Invitation{}, sql.ErrNoRows
	}
	return inv, nil
}

func (m *memStore) ListUserInvitations(_ context.Context, userID, email string) ([]store.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Invitation, 0)
	for _, inv := range m.invitations {
		mine := strings.EqualFold(inv.InviteeEmail, email) || (inv.InviteeID != nil && *inv.InviteeID == userID)
		if mine && inv.Status == invitationPending && inv.ExpiresAt.After(time.Now()) {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (m *memStore) ListGroupInvitations(_ context.Context, groupID string) ([]store.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Invitation, 0)
	for _, inv := range m.invitations {
		if inv.GroupID == groupID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (m *memStore) SetInvitationStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invitations[id]
	if !ok || inv.Status != invitationPending {
		return sql.ErrNoRows
	}
	now := time.Now()
	inv.Status = status
	inv.RespondedAt = &now
	m.invitations[id] = inv
	return nil
}

func (m *memStore) AcceptInvitation(_ context.Context, id, groupID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invitations[id]
	if !ok || inv.Status != invitationPending {
		return sql.ErrNoRows
	}
	inv.Status = "accepted"
	inv.InviteeID = &userID
	m.invitations[id] = inv
	if _, ok := m.members[groupID][userID]; !ok {
		m.members[groupID][userID] = "member"
	}
	return nil
}

// papers

func (m *memStore) CreatePaper(_ context.Context, p store.Paper) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.UploaderName = m.users[p.UploadedBy].Name
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.papers[p.ID] = p
	return nil
}

func (m *memStore) GetPaper(_ context.Context, id string) (store.Paper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.papers[id]
	if !ok {
		return store.Paper{}, sql.ErrNoRows
	}
	return p, nil
}

func (m *memStore) ListPapers(_ context.Context, filter store.PaperFilter) ([]store.Paper, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Paper
	for _, p := range m.papers {
		if p.GroupID == filter.GroupID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return window(out, filter.Limit, filter.Offset), len(out), nil
}

func (m *memStore) ListGroupFileKeys(_ context.Context, groupID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0)
	for _, p := range m.papers {
		if p.GroupID == groupID {
			keys = append(keys, p.FileKey)
		}
	}
	return keys, nil
}

func (m *memStore) UpdatePaper(_ context.Context, p store.Paper) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.papers[p.ID]; !ok {
		return sql.ErrNoRows
	}
	m.papers[p.ID] = p
	return nil
}

func (m *memStore) DeletePaper(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.papers[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.papers, id)
	return nil
}

func (m *memStore) IncrementDownloads(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.papers[id]
	if !ok {
		return sql.ErrNoRows
	}
	p.Downloads++
	m.papers[id] = p
	return nil
}

// threads

func (m *memStore) insertItem(items *[]store.ThreadItem, item store.ThreadItem) {
	item.AuthorName = m.users[item.AuthorID].Name
	*items = append(*items, item)
}

func findItem(items []store.ThreadItem, containerID, id string) (int, bool) {
	for i, item := range items {
		if item.ID == id && item.ContainerID == containerID {
			return i, true
		}
	}
	return -1, false
}

func listItems(items []store.ThreadItem, containerID string) []store.ThreadItem {
	out := make([]store.ThreadItem, 0)
	for _, item := range items {
		if item.ContainerID == containerID {
			out = append(out, item)
		}
	}
	return out
}

func toggle(items []store.ThreadItem, id, userID string) ([]string, error) {
	for i, item := range items {
		if item.ID != id {
			continue
		}
		likes := make([]string, 0, len(item.Likes)+1)
		removed := false
		for _, l := range item.Likes {
			if l == userID {
				removed = true
				continue
			}
			likes = append(likes, l)
		}
		if !removed {
			likes = append(likes, userID)
		}
		items[i].Likes = likes
		return likes, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memStore) CreateComment(_ context.Context, item store.ThreadItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertItem(&m.comments, item)
	return nil
}

func (m *memStore) GetComment(_ context.Context, paperID, id string) (store.ThreadItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := findItem(m.comments, paperID, id)
	if !ok {
		return store.ThreadItem{}, sql.ErrNoRows
	}
	return m.comments[i], nil
}

func (m *memStore) ListComments(_ context.Context, paperID string) ([]store.ThreadItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return listItems(m.comments, paperID), nil
}

func (m *memStore) UpdateComment(_ context.Context, paperID, id, content string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := findItem(m.comments, paperID, id)
	if !ok {
		return time.Time{}, sql.ErrNoRows
	}
	now := time.Now()
	m.comments[i].Content = content
	m.comments[i].EditedAt = &now
	return now, nil
}

func (m *memStore) DeleteComment(_ context.Context, paperID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := findItem(m.comments, paperID, id)
	if !ok {
		return sql.ErrNoRows
	}
	m.comments = append(m.comments[:i], m.comments[i+1:]...)
	return nil
}

func (m *memStore) ToggleCommentLike(_ context.Context, commentID, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return toggle(m.comments, commentID, userID)
}

// discussions

func (m *memStore) CreateDiscussion(_ context.Context, d store.Discussion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	d.LastActivityAt = d.CreatedAt
	m.discussions[d.ID] = d
	return nil
}

func (m *memStore) GetDiscussion(_ context.Context, id string) (store.Discussion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.discussions[id]
	if !ok {
		return store.Discussion{}, sql.ErrNoRows
	}
	d.AuthorName = m.users[d.AuthorID].Name
	d.ReplyCount = len(listItems(m.replies, id))
	return d, nil
}

func (m *memStore) ListDiscussions(_ context.Context, groupID string, limit, offset int) ([]store.Discussion, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Discussion
	for _, d := range m.discussions {
		if d.GroupID == groupID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsPinned != out[j].IsPinned {
			return out[i].IsPinned
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return window(out, limit, offset), len(out), nil
}

func (m *memStore) UpdateDiscussion(_ context.Context, d store.Discussion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.discussions[d.ID]; !ok {
		return sql.ErrNoRows
	}
	m.discussions[d.ID] = d
	return nil
}

func (m *memStore) DeleteDiscussion(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.discussions[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.discussions, id)
	kept := m.replies[:0]
	for _, r := range m.replies {
		if r.ContainerID != id {
			kept = append(kept, r)
		}
	}
	m.replies = kept
	return nil
}

func (m *memStore) TouchDiscussion(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.discussions[id]
	if !ok {
		return sql.ErrNoRows
	}
	d.LastActivityAt = time.Now()
	m.discussions[id] = d
	return nil
}

func (m *memStore) CreateReply(_ context.Context, item store.ThreadItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertItem(&m.replies, item)
	return nil
}

func (m *memStore) GetReply(_ context.Context, discussionID, id string) (store.ThreadItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := findItem(m.replies, discussionID, id)
	if !ok {
		return store.ThreadItem{}, sql.ErrNoRows
	}
	return m.replies[i], nil
}

func (m *memStore) ListReplies(_ context.Context, discussionID string, limit, offset int) ([]store.ThreadItem, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := listItems(m.replies, discussionID)
	return window(items, limit, offset), len(items), nil
}

func (m *memStore) UpdateReply(_ context.Context, discussionID, id, content string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := findItem(m.replies, discussionID, id)
	if !ok {
		return time.Time{}, sql.ErrNoRows
	}
	now := time.Now()
	m.replies[i].Content = content
	m.replies[i].EditedAt = &now
	return now, nil
}

func (m *memStore) DeleteReply(_ context.Context, discussionID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := findItem(m.replies, discussionID, id)
	if !ok {
		return sql.ErrNoRows
	}
	m.replies = append(m.replies[:i], m.replies[i+1:]...)
	return nil
}

func (m *memStore) ToggleReplyLike(_ context.Context, replyID, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return toggle(m.replies, replyID, userID)
}

// window applies limit and offset; a limit <= 0 returns everything.
func window[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
