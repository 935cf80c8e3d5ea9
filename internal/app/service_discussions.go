package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/blessing-molokwu/chatademy-sub000/internal/export"
	"github.com/blessing-molokwu/chatademy-sub000/internal/notify"
	"github.com/blessing-molokwu/chatademy-sub000/internal/pagination"
	"github.com/blessing-molokwu/chatademy-sub000/internal/rbac"
	"github.com/blessing-molokwu/chatademy-sub000/internal/search"
	"github.com/blessing-molokwu/chatademy-sub000/internal/store"
	"github.com/blessing-molokwu/chatademy-sub000/internal/threadtree"
	"github.com/blessing-molokwu/chatademy-sub000/internal/util"
)

func discussionResource(d store.Discussion) rbac.Resource {
	return rbac.Resource{Kind: rbac.KindDiscussion, OwnerID: d.AuthorID}
}

func (s *Service) loadDiscussion(ctx context.Context, id string) (store.Discussion, error) {
	d, err := s.store.GetDiscussion(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Discussion{}, notFound("Discussion")
		}
		return store.Discussion{}, err
	}
	return d, nil
}

func (s *Service) discussionAccess(ctx context.Context, sess Session, id string, action rbac.Action) (store.Discussion, groupAccess, error) {
	d, err := s.loadDiscussion(ctx, id)
	if err != nil {
		return store.Discussion{}, groupAccess{}, err
	}
	acc, err := s.authorize(ctx, sess, d.GroupID, discussionResource(d), action)
	if err != nil {
		return store.Discussion{}, groupAccess{}, err
	}
	return d, acc, nil
}

// ListDiscussions pages through a group's discussions, pinned first, then
// newest.
func (s *Service) ListDiscussions(ctx context.Context, sess Session, groupID string, page pagination.Params) ([]store.Discussion, int, error) {
	if _, err := s.authorize(ctx, sess, groupID, rbac.Resource{Kind: rbac.KindDiscussion}, rbac.ActionRead); err != nil {
		return nil, 0, err
	}
	return s.store.ListDiscussions(ctx, groupID, page.Limit, page.Offset())
}

func (s *Service) CreateDiscussion(ctx context.Context, sess Session, groupID string, req CreateDiscussionRequest) (store.Discussion, error) {
	acc, err := s.authorize(ctx, sess, groupID, rbac.Resource{Kind: rbac.KindDiscussion}, rbac.ActionContribute)
	if err != nil {
		return store.Discussion{}, err
	}
	d := store.Discussion{
		ID:       util.NewID("dsc"),
		GroupID:  groupID,
		Title:    strings.TrimSpace(req.Title),
		Content:  strings.TrimSpace(req.Content),
		Tags:     cleanList(req.Tags),
		AuthorID: sess.UserID,
	}
	if err := s.store.CreateDiscussion(ctx, d); err != nil {
		return store.Discussion{}, err
	}
	created, err := s.loadDiscussion(ctx, d.ID)
	if err != nil {
		return store.Discussion{}, err
	}
	s.indexDiscussion(created, acc.group)
	return created, nil
}

// DiscussionPage is a discussion with one page of its replies. Replies whose
// parent sits on another page are shown top-level on this one.
type DiscussionPage struct {
	Discussion store.Discussion
	Replies    []*threadtree.Node[itemView]
	Total      int
}

func (s *Service) GetDiscussion(ctx context.Context, sess Session, id string, page pagination.Params) (DiscussionPage, error) {
	d, _, err := s.discussionAccess(ctx, sess, id, rbac.ActionRead)
	if err != nil {
		return DiscussionPage{}, err
	}
	replies, total, err := s.store.ListReplies(ctx, id, page.Limit, page.Offset())
	if err != nil {
		return DiscussionPage{}, err
	}
	return DiscussionPage{Discussion: d, Replies: buildThread(replies), Total: total}, nil
}

// UpdateDiscussion applies author edits and moderation flags. Each part is
// authorized on its own: the author edits, admins pin and close.
func (s *Service) UpdateDiscussion(ctx context.Context, sess Session, id string, req UpdateDiscussionRequest) (store.Discussion, error) {
	d, err := s.loadDiscussion(ctx, id)
	if err != nil {
		return store.Discussion{}, err
	}
	acc, err := s.loadAccess(ctx, sess, d.GroupID)
	if err != nil {
		return store.Discussion{}, err
	}
	if req.edits() {
		if err := s.check(sess, acc, discussionResource(d), rbac.ActionEdit); err != nil {
			return store.Discussion{}, err
		}
	}
	if req.moderates() {
		if err := s.check(sess, acc, discussionResource(d), rbac.ActionModerate); err != nil {
			return store.Discussion{}, err
		}
	}

	if req.Title != nil {
		d.Title = strings.TrimSpace(*req.Title)
	}
	if req.Content != nil {
		d.Content = strings.TrimSpace(*req.Content)
	}
	if req.Tags != nil {
		d.Tags = cleanList(*req.Tags)
	}
	if req.IsPinned != nil {
		d.IsPinned = *req.IsPinned
	}
	if req.IsClosed != nil {
		d.IsClosed = *req.IsClosed
	}
	if err := s.store.UpdateDiscussion(ctx, d); err != nil {
		return store.Discussion{}, err
	}
	updated, err := s.loadDiscussion(ctx, id)
	if err != nil {
		return store.Discussion{}, err
	}
	s.indexDiscussion(updated, acc.group)
	return updated, nil
}

func (s *Service) DeleteDiscussion(ctx context.Context, sess Session, id string) error {
	if _, _, err := s.discussionAccess(ctx, sess, id, rbac.ActionDelete); err != nil {
		return err
	}
	if err := s.store.DeleteDiscussion(ctx, id); err != nil {
		return err
	}
	s.search.Delete(search.ResultDiscussion, id)
	return nil
}

func (s *Service) loadReply(ctx context.Context, discussionID, replyID string) (store.ThreadItem, error) {
	item, err := s.store.GetReply(ctx, discussionID, replyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ThreadItem{}, notFound("Reply")
		}
		return store.ThreadItem{}, err
	}
	return item, nil
}

// AddReply appends a reply to an open discussion. The discussion author is
// notified, and so is the author of the parent reply.
func (s *Service) AddReply(ctx context.Context, sess Session, discussionID string, req ReplyRequest) (store.ThreadItem, error) {
	d, err := s.loadDiscussion(ctx, discussionID)
	if err != nil {
		return store.ThreadItem{}, err
	}
	if _, err := s.authorize(ctx, sess, d.GroupID, rbac.Resource{Kind: rbac.KindReply}, rbac.ActionContribute); err != nil {
		return store.ThreadItem{}, err
	}
	if d.IsClosed {
		return store.ThreadItem{}, badRequest("This discussion is closed")
	}
	var parent *store.ThreadItem
	if req.ParentReply != nil {
		p, err := s.store.GetReply(ctx, discussionID, *req.ParentReply)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ThreadItem{}, validationError([]string{"parentReply does not reference a reply in this discussion"})
			}
			return store.ThreadItem{}, err
		}
		depth, err := threadDepth(ctx, p, func(ctx context.Context, id string) (store.ThreadItem, error) {
			return s.store.GetReply(ctx, discussionID, id)
		})
		if err != nil {
			return store.ThreadItem{}, err
		}
		if depth >= maxThreadDepth {
			return store.ThreadItem{}, validationError([]string{fmt.Sprintf("replies cannot be nested more than %d levels deep", maxThreadDepth)})
		}
		parent = &p
	}

	item := store.ThreadItem{
		ID:          util.NewID("rpl"),
		ContainerID: discussionID,
		ParentID:    req.ParentReply,
		AuthorID:    sess.UserID,
		Content:     strings.TrimSpace(req.Content),
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateReply(ctx, item); err != nil {
		return store.ThreadItem{}, err
	}
	if err := s.store.TouchDiscussion(ctx, discussionID); err != nil {
		s.log.WithError(err).WithField("discussion_id", discussionID).Warn("touch discussion")
	}

	link := "/discussions/" + discussionID
	if d.AuthorID != sess.UserID {
		s.notifyUser(ctx, notify.Notification{
			UserID:  d.AuthorID,
			Kind:    notify.KindDiscussion,
			Title:   "New reply in your discussion",
			Message: sess.UserName + " replied to \"" + d.Title + "\"",
			Link:    link,
		})
	}
	if parent != nil && parent.AuthorID != sess.UserID && parent.AuthorID != d.AuthorID {
		s.notifyUser(ctx, notify.Notification{
			UserID:  parent.AuthorID,
			Kind:    notify.KindReplyReply,
			Title:   "New reply to your post",
			Message: sess.UserName + " replied to you in \"" + d.Title + "\"",
			Link:    link,
		})
	}
	return s.loadReply(ctx, discussionID, item.ID)
}

func (s *Service) replyAccess(ctx context.Context, sess Session, discussionID, replyID string, action rbac.Action) (store.ThreadItem, error) {
	d, err := s.loadDiscussion(ctx, discussionID)
	if err != nil {
		return store.ThreadItem{}, err
	}
	reply, err := s.loadReply(ctx, discussionID, replyID)
	if err != nil {
		return store.ThreadItem{}, err
	}
	res := rbac.Resource{Kind: rbac.KindReply, OwnerID: reply.AuthorID}
	if _, err := s.authorize(ctx, sess, d.GroupID, res, action); err != nil {
		return store.ThreadItem{}, err
	}
	return reply, nil
}

func (s *Service) EditReply(ctx context.Context, sess Session, discussionID, replyID string, req EditContentRequest) (store.ThreadItem, error) {
	if _, err := s.replyAccess(ctx, sess, discussionID, replyID, rbac.ActionEdit); err != nil {
		return store.ThreadItem{}, err
	}
	if _, err := s.store.UpdateReply(ctx, discussionID, replyID, strings.TrimSpace(req.Content)); err != nil {
		return store.ThreadItem{}, err
	}
	return s.loadReply(ctx, discussionID, replyID)
}

func (s *Service) DeleteReply(ctx context.Context, sess Session, discussionID, replyID string) error {
	if _, err := s.replyAccess(ctx, sess, discussionID, replyID, rbac.ActionDelete); err != nil {
		return err
	}
	return s.store.DeleteReply(ctx, discussionID, replyID)
}

func (s *Service) LikeReply(ctx context.Context, sess Session, discussionID, replyID string) ([]string, error) {
	if _, err := s.replyAccess(ctx, sess, discussionID, replyID, rbac.ActionContribute); err != nil {
		return nil, err
	}
	return s.store.ToggleReplyLike(ctx, replyID, sess.UserID)
}

// ExportDiscussion renders the discussion with its full reply forest.
func (s *Service) ExportDiscussion(ctx context.Context, sess Session, id string, format export.Format) (*export.Result, error) {
	if _, _, err := s.discussionAccess(ctx, sess, id, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.export.Export(ctx, export.Request{DiscussionID: id, Format: format})
}

func (s *Service) indexDiscussion(d store.Discussion, group store.Group) {
	s.search.IndexDiscussion(search.DiscussionRecord{
		ID:      d.ID,
		Title:   d.Title,
		Content: d.Content,
		Tags:    nonNilStrings(d.Tags),
		GroupID: d.GroupID,
		Private: group.IsPrivate,
	})
}
