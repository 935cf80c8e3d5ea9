package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/blessing-molokwu/chatademy-sub000/internal/authpw"
	"github.com/blessing-molokwu/chatademy-sub000/internal/notify"
	"github.com/blessing-molokwu/chatademy-sub000/internal/pagination"
	"github.com/blessing-molokwu/chatademy-sub000/internal/rbac"
	"github.com/blessing-molokwu/chatademy-sub000/internal/search"
	"github.com/blessing-molokwu/chatademy-sub000/internal/store"
	"github.com/blessing-molokwu/chatademy-sub000/internal/util"
	"github.com/sirupsen/logrus"
)

const invitationTTL = 7 * 24 * time.Hour

const (
	invitationPending   = "pending"
	invitationDeclined  = "declined"
	invitationCancelled = "cancelled"
)

var groupResource = rbac.Resource{Kind: rbac.KindGroup}

type GroupListRequest struct {
	Search     string
	Category   string
	MemberOnly bool
	Page       pagination.Params
}

func (s *Service) ListGroups(ctx context.Context, sess Session, req GroupListRequest) ([]store.Group, int, error) {
	return s.store.ListGroups(ctx, store.GroupFilter{
		ViewerID:   sess.UserID,
		Search:     strings.TrimSpace(req.Search),
		Category:   strings.TrimSpace(req.Category),
		MemberOnly: req.MemberOnly,
		Limit:      req.Page.Limit,
		Offset:     req.Page.Offset(),
	})
}

func (s *Service) CreateGroup(ctx context.Context, sess Session, req CreateGroupRequest) (store.Group, error) {
	group := store.Group{
		ID:          util.NewID("grp"),
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		Category:    strings.TrimSpace(req.Category),
		Tags:        cleanList(req.Tags),
		IsPrivate:   req.IsPrivate,
		OwnerID:     sess.UserID,
	}
	if err := s.store.CreateGroup(ctx, group); err != nil {
		return store.Group{}, err
	}
	created, err := s.store.GetGroup(ctx, group.ID)
	if err != nil {
		return store.Group{}, err
	}
	s.indexGroup(created)
	return created, nil
}

// GetGroup returns a group the caller may read together with the caller's
// role in it.
func (s *Service) GetGroup(ctx context.Context, sess Session, groupID string) (store.Group, rbac.Role, error) {
	acc, err := s.authorize(ctx, sess, groupID, groupResource, rbac.ActionRead)
	if err != nil {
		return store.Group{}, "", err
	}
	return acc.group, acc.role, nil
}

func (s *Service) UpdateGroup(ctx context.Context, sess Session, groupID string, req UpdateGroupRequest) (store.Group, error) {
	acc, err := s.authorize(ctx, sess, groupID, groupResource, rbac.ActionEdit)
	if err != nil {
		return store.Group{}, err
	}
	group := acc.group
	if req.Name != nil {
		group.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		group.Description = strings.TrimSpace(*req.Description)
	}
	if req.Category != nil {
		group.Category = strings.TrimSpace(*req.Category)
	}
	if req.Tags != nil {
		group.Tags = cleanList(*req.Tags)
	}
	if req.IsPrivate != nil {
		group.IsPrivate = *req.IsPrivate
	}
	if err := s.store.UpdateGroup(ctx, group); err != nil {
		return store.Group{}, err
	}
	updated, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return store.Group{}, err
	}
	s.indexGroup(updated)
	if updated.IsPrivate != acc.group.IsPrivate {
		// Papers and discussions carry the group's visibility in the index.
		go s.search.ReindexAllFromPG(context.WithoutCancel(ctx))
	}
	return updated, nil
}

// DeleteGroup removes the group with its memberships, papers and
// discussions. Blobs, revision histories and search entries are cleaned up
// afterwards on a best-effort basis.
func (s *Service) DeleteGroup(ctx context.Context, sess Session, groupID string) error {
	if _, err := s.authorize(ctx, sess, groupID, groupResource, rbac.ActionDelete); err != nil {
		return err
	}
	keys, err := s.store.ListGroupFileKeys(ctx, groupID)
	if err != nil {
		return err
	}
	paperIDs, err := s.groupPaperIDs(ctx, groupID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteGroup(ctx, groupID); err != nil {
		return err
	}

	log := s.log.WithField("group_id", groupID)
	for _, key := range keys {
		if s.files == nil {
			break
		}
		if err := s.files.Delete(ctx, key); err != nil {
			log.WithError(err).WithField("file_key", key).Warn("delete paper blob")
		}
	}
	for _, id := range paperIDs {
		s.search.Delete(search.ResultPaper, id)
		if s.history != nil {
			if err := s.history.Remove(id); err != nil {
				log.WithError(err).WithField("paper_id", id).Warn("remove paper history")
			}
		}
	}
	s.search.Delete(search.ResultGroup, groupID)
	log.WithField("papers", len(paperIDs)).Info("group deleted")
	return nil
}

func (s *Service) groupPaperIDs(ctx context.Context, groupID string) ([]string, error) {
	ids := make([]string, 0)
	for offset := 0; ; offset += pagination.MaxLimit {
		papers, total, err := s.store.ListPapers(ctx, store.PaperFilter{GroupID: groupID, Limit: pagination.MaxLimit, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, p := range papers {
			ids = append(ids, p.ID)
		}
		if len(papers) == 0 || offset+len(papers) >= total {
			return ids, nil
		}
	}
}

func (s *Service) JoinGroup(ctx context.Context, sess Session, groupID string) (store.Group, error) {
	acc, err := s.authorize(ctx, sess, groupID, groupResource, rbac.ActionJoin)
	if err != nil {
		return store.Group{}, err
	}
	if err := s.store.AddMember(ctx, groupID, sess.UserID, string(rbac.RoleMember)); err != nil {
		return store.Group{}, err
	}
	s.notifyUser(ctx, notify.Notification{
		UserID:  acc.group.OwnerID,
		Kind:    notify.KindMemberJoined,
		Title:   "New group member",
		Message: sess.UserName + " joined " + acc.group.Name,
		Link:    "/groups/" + groupID,
	})
	return s.store.GetGroup(ctx, groupID)
}

func (s *Service) LeaveGroup(ctx context.Context, sess Session, groupID string) error {
	if _, err := s.authorize(ctx, sess, groupID, groupResource, rbac.ActionLeave); err != nil {
		return err
	}
	return s.store.RemoveMember(ctx, groupID, sess.UserID)
}

func (s *Service) ListMembers(ctx context.Context, sess Session, groupID string) ([]store.Member, error) {
	if _, err := s.authorize(ctx, sess, groupID, groupResource, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, groupID)
}

func (s *Service) memberRole(ctx context.Context, groupID, userID string) (rbac.Role, error) {
	raw, err := s.store.GetMemberRole(ctx, groupID, userID)
	if err != nil {
		return rbac.RoleNone, err
	}
	role := rbac.Normalize(raw)
	if role == rbac.RoleNone {
		return rbac.RoleNone, notFound("Member")
	}
	return role, nil
}

func (s *Service) UpdateMemberRole(ctx context.Context, sess Session, groupID, userID string, req MemberRoleRequest) error {
	if _, err := s.authorize(ctx, sess, groupID, groupResource, rbac.ActionAdmin); err != nil {
		return err
	}
	current, err := s.memberRole(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if current == rbac.RoleOwner {
		return badRequest("The group owner's role cannot be changed")
	}
	return s.store.UpdateMemberRole(ctx, groupID, userID, req.Role)
}

// RemoveMember expels a member. Admins may remove members; only the owner
// may remove admins; nobody removes the owner.
func (s *Service) RemoveMember(ctx context.Context, sess Session, groupID, userID string) error {
	acc, err := s.authorize(ctx, sess, groupID, groupResource, rbac.ActionModerate)
	if err != nil {
		return err
	}
	if userID == sess.UserID {
		return badRequest("Use leave to exit the group")
	}
	target, err := s.memberRole(ctx, groupID, userID)
	if err != nil {
		return err
	}
	switch target {
	case rbac.RoleOwner:
		return forbidden("The group owner cannot be removed")
	case rbac.RoleAdmin:
		if err := s.check(sess, acc, groupResource, rbac.ActionAdmin); err != nil {
			return forbidden("Only the group owner can remove an admin")
		}
	}
	return s.store.RemoveMember(ctx, groupID, userID)
}

// CreateInvitation invites a user, by id or email, to a group. The invitee
// is emailed and, when they have an account, notified.
func (s *Service) CreateInvitation(ctx context.Context, sess Session, groupID string, req InvitationRequest) (store.Invitation, error) {
	acc, err := s.authorize(ctx, sess, groupID, groupResource, rbac.ActionModerate)
	if err != nil {
		return store.Invitation{}, err
	}

	var invitee *store.User
	email := authpw.NormalizeEmail(req.Email)
	if id := strings.TrimSpace(req.UserID); id != "" {
		user, err := s.GetUser(ctx, id)
		if err != nil {
			return store.Invitation{}, err
		}
		invitee = &user
		email = user.Email
	} else if user, err := s.store.GetUserByEmail(ctx, email); err == nil {
		invitee = &user
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.Invitation{}, err
	}

	if invitee != nil {
		role, err := s.store.GetMemberRole(ctx, groupID, invitee.ID)
		if err != nil {
			return store.Invitation{}, err
		}
		if rbac.Normalize(role) != rbac.RoleNone {
			return store.Invitation{}, badRequest("User is already a member of this group")
		}
	}
	if err := s.expireStaleInvitation(ctx, groupID, email); err != nil {
		return store.Invitation{}, err
	}

	inv := store.Invitation{
		ID:           util.NewID("inv"),
		GroupID:      groupID,
		InviterID:    sess.UserID,
		InviteeEmail: email,
		Status:       invitationPending,
		Message:      strings.TrimSpace(req.Message),
		ExpiresAt:    s.now().Add(invitationTTL),
	}
	if invitee != nil {
		inv.InviteeID = &invitee.ID
	}
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		if store.IsUniqueViolation(err) {
			return store.Invitation{}, badRequest("A pending invitation already exists for this email")
		}
		return store.Invitation{}, err
	}

	if s.SMTPConfigured() {
		link := s.link("/invitations", "", "")
		if err := s.mailer.SendInvitationEmail(email, sess.UserName, acc.group.Name, inv.Message, link); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{"invitation_id": inv.ID, "group_id": groupID}).Warn("send invitation email")
		}
	}
	if invitee != nil {
		s.notifyUser(ctx, notify.Notification{
			UserID:  invitee.ID,
			Kind:    notify.KindInvitation,
			Title:   "Group invitation",
			Message: sess.UserName + " invited you to join " + acc.group.Name,
			Link:    "/invitations",
		})
	}
	return s.store.GetInvitation(ctx, inv.ID)
}

// expireStaleInvitation cancels a pending invitation for email whose expiry
// has passed, so a fresh one can be issued.
func (s *Service) expireStaleInvitation(ctx context.Context, groupID, email string) error {
	invs, err := s.store.ListGroupInvitations(ctx, groupID)
	if err != nil {
		return err
	}
	now := s.now()
	for _, inv := range invs {
		if inv.Status == invitationPending && strings.EqualFold(inv.InviteeEmail, email) && now.After(inv.ExpiresAt) {
			if err := s.store.SetInvitationStatus(ctx, inv.ID, invitationCancelled); err != nil && !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}
	}
	return nil
}

func (s *Service) MyInvitations(ctx context.Context, sess Session) ([]store.Invitation, error) {
	user, err := s.Me(ctx, sess)
	if err != nil {
		return nil, err
	}
	return s.store.ListUserInvitations(ctx, sess.UserID, user.Email)
}

func (s *Service) GroupInvitations(ctx context.Context, sess Session, groupID string) ([]store.Invitation, error) {
	if _, err := s.authorize(ctx, sess, groupID, groupResource, rbac.ActionModerate); err != nil {
		return nil, err
	}
	return s.store.ListGroupInvitations(ctx, groupID)
}

// pendingInvitationFor loads an invitation addressed to the caller that can
// still be answered.
func (s *Service) pendingInvitationFor(ctx context.Context, sess Session, id string) (store.Invitation, error) {
	inv, err := s.store.GetInvitation(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Invitation{}, notFound("Invitation")
		}
		return store.Invitation{}, err
	}
	user, err := s.Me(ctx, sess)
	if err != nil {
		return store.Invitation{}, err
	}
	addressed := (inv.InviteeID != nil && *inv.InviteeID == sess.UserID) || strings.EqualFold(inv.InviteeEmail, user.Email)
	if !addressed {
		return store.Invitation{}, forbidden("This invitation is not addressed to you")
	}
	if inv.Status != invitationPending {
		return store.Invitation{}, badRequest("This invitation has already been " + inv.Status)
	}
	if s.now().After(inv.ExpiresAt) {
		return store.Invitation{}, badRequest("This invitation has expired")
	}
	return inv, nil
}

func (s *Service) AcceptInvitation(ctx context.Context, sess Session, id string) (store.Group, error) {
	inv, err := s.pendingInvitationFor(ctx, sess, id)
	if err != nil {
		return store.Group{}, err
	}
	if err := s.store.AcceptInvitation(ctx, inv.ID, inv.GroupID, sess.UserID); err != nil {
		return store.Group{}, err
	}
	s.notifyUser(ctx, notify.Notification{
		UserID:  inv.InviterID,
		Kind:    notify.KindMemberJoined,
		Title:   "Invitation accepted",
		Message: sess.UserName + " joined " + inv.GroupName,
		Link:    "/groups/" + inv.GroupID,
	})
	return s.store.GetGroup(ctx, inv.GroupID)
}

func (s *Service) DeclineInvitation(ctx context.Context, sess Session, id string) error {
	inv, err := s.pendingInvitationFor(ctx, sess, id)
	if err != nil {
		return err
	}
	return s.store.SetInvitationStatus(ctx, inv.ID, invitationDeclined)
}

// CancelInvitation withdraws a pending invitation; the inviter or a group
// admin may do so.
func (s *Service) CancelInvitation(ctx context.Context, sess Session, id string) error {
	inv, err := s.store.GetInvitation(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Invitation")
		}
		return err
	}
	res := rbac.Resource{Kind: rbac.KindInvitation, OwnerID: inv.InviterID}
	if _, err := s.authorize(ctx, sess, inv.GroupID, res, rbac.ActionDelete); err != nil {
		return err
	}
	if inv.Status != invitationPending {
		return badRequest("Only pending invitations can be cancelled")
	}
	return s.store.SetInvitationStatus(ctx, inv.ID, invitationCancelled)
}

func (s *Service) indexGroup(g store.Group) {
	s.search.IndexGroup(search.GroupRecord{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		Category:    g.Category,
		Tags:        nonNilStrings(g.Tags),
		Private:     g.IsPrivate,
	})
}
