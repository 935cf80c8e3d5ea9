package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/blessing-molokwu/chatademy-sub000/internal/gitrepo"
	"github.com/blessing-molokwu/chatademy-sub000/internal/notify"
	"github.com/blessing-molokwu/chatademy-sub000/internal/pagination"
	"github.com/blessing-molokwu/chatademy-sub000/internal/rbac"
	"github.com/blessing-molokwu/chatademy-sub000/internal/search"
	"github.com/blessing-molokwu/chatademy-sub000/internal/store"
	"github.com/blessing-molokwu/chatademy-sub000/internal/threadtree"
	"github.com/blessing-molokwu/chatademy-sub000/internal/util"
	"github.com/sirupsen/logrus"
)

const historyLimit = 50

// Upload is the file part of a paper upload.
type Upload struct {
	Name string
	Body io.Reader
}

// MaxUploadBytes is the largest accepted paper file.
func (s *Service) MaxUploadBytes() int64 {
	if s.files != nil {
		return s.files.MaxBytes()
	}
	return s.cfg.MaxUploadBytes
}

func paperResource(p store.Paper) rbac.Resource {
	return rbac.Resource{Kind: rbac.KindPaper, OwnerID: p.UploadedBy}
}

func snapshotOf(p store.Paper) gitrepo.Snapshot {
	return gitrepo.Snapshot{
		Title:       p.Title,
		Abstract:    p.Abstract,
		Authors:     p.Authors,
		Keywords:    p.Keywords,
		FileName:    p.FileName,
		ContentType: p.ContentType,
	}
}

func (s *Service) loadPaper(ctx context.Context, paperID string) (store.Paper, error) {
	paper, err := s.store.GetPaper(ctx, paperID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Paper{}, notFound("Paper")
		}
		return store.Paper{}, err
	}
	return paper, nil
}

// paperAccess loads a paper and checks action against it.
func (s *Service) paperAccess(ctx context.Context, sess Session, paperID string, action rbac.Action) (store.Paper, groupAccess, error) {
	paper, err := s.loadPaper(ctx, paperID)
	if err != nil {
		return store.Paper{}, groupAccess{}, err
	}
	acc, err := s.authorize(ctx, sess, paper.GroupID, paperResource(paper), action)
	if err != nil {
		return store.Paper{}, groupAccess{}, err
	}
	return paper, acc, nil
}

// UploadPaper stores a paper in two phases: the blob is staged, the record
// persisted, and only then is the blob committed. Any failure after staging
// rolls the blob back.
func (s *Service) UploadPaper(ctx context.Context, sess Session, groupID string, req PaperRequest, upload Upload) (store.Paper, error) {
	acc, err := s.authorize(ctx, sess, groupID, rbac.Resource{Kind: rbac.KindPaper}, rbac.ActionContribute)
	if err != nil {
		return store.Paper{}, err
	}
	if s.files == nil {
		return store.Paper{}, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "File storage is not configured")
	}

	staged, err := s.files.Stage(ctx, "papers/"+groupID, upload.Name, upload.Body)
	if err != nil {
		return store.Paper{}, err
	}
	log := s.log.WithFields(logrus.Fields{"group_id": groupID, "stage_key": staged.StageKey})
	rollback := func() {
		if err := s.files.Rollback(ctx, staged); err != nil {
			log.WithError(err).Warn("rollback staged upload")
		}
	}

	paper := store.Paper{
		ID:          util.NewID("ppr"),
		GroupID:     groupID,
		Title:       strings.TrimSpace(req.Title),
		Abstract:    strings.TrimSpace(req.Abstract),
		Authors:     cleanList(req.Authors),
		Keywords:    cleanList(req.Keywords),
		FileKey:     staged.Key,
		FileName:    staged.Name,
		ContentType: staged.ContentType,
		FileSize:    staged.Size,
		UploadedBy:  sess.UserID,
	}
	if err := s.store.CreatePaper(ctx, paper); err != nil {
		rollback()
		return store.Paper{}, err
	}
	if err := s.files.Commit(ctx, staged); err != nil {
		if delErr := s.store.DeletePaper(ctx, paper.ID); delErr != nil {
			log.WithError(delErr).WithField("paper_id", paper.ID).Error("remove paper record after failed commit")
		}
		rollback()
		return store.Paper{}, err
	}

	created, err := s.loadPaper(ctx, paper.ID)
	if err != nil {
		return store.Paper{}, err
	}
	if s.history != nil {
		if err := s.history.EnsurePaperRepo(created.ID, snapshotOf(created), sess.UserName); err != nil {
			log.WithError(err).WithField("paper_id", created.ID).Warn("create paper history")
		}
	}
	s.indexPaper(created, acc.group)
	if acc.group.OwnerID != sess.UserID {
		s.notifyUser(ctx, notify.Notification{
			UserID:  acc.group.OwnerID,
			Kind:    notify.KindPaperUploaded,
			Title:   "New paper",
			Message: sess.UserName + " uploaded \"" + created.Title + "\" to " + acc.group.Name,
			Link:    "/papers/" + created.ID,
		})
	}
	return created, nil
}

func (s *Service) ListPapers(ctx context.Context, sess Session, groupID, searchText string, page pagination.Params) ([]store.Paper, int, error) {
	if _, err := s.authorize(ctx, sess, groupID, rbac.Resource{Kind: rbac.KindPaper}, rbac.ActionRead); err != nil {
		return nil, 0, err
	}
	return s.store.ListPapers(ctx, store.PaperFilter{
		GroupID: groupID,
		Search:  strings.TrimSpace(searchText),
		Limit:   page.Limit,
		Offset:  page.Offset(),
	})
}

func (s *Service) GetPaper(ctx context.Context, sess Session, paperID string) (store.Paper, error) {
	paper, _, err := s.paperAccess(ctx, sess, paperID, rbac.ActionRead)
	return paper, err
}

// UpdatePaper edits metadata and records the result as a new revision.
func (s *Service) UpdatePaper(ctx context.Context, sess Session, paperID string, req UpdatePaperRequest) (store.Paper, error) {
	paper, acc, err := s.paperAccess(ctx, sess, paperID, rbac.ActionEdit)
	if err != nil {
		return store.Paper{}, err
	}
	if req.Title != nil {
		paper.Title = strings.TrimSpace(*req.Title)
	}
	if req.Abstract != nil {
		paper.Abstract = strings.TrimSpace(*req.Abstract)
	}
	if req.Authors != nil {
		paper.Authors = cleanList(*req.Authors)
	}
	if req.Keywords != nil {
		paper.Keywords = cleanList(*req.Keywords)
	}
	if err := s.store.UpdatePaper(ctx, paper); err != nil {
		return store.Paper{}, err
	}
	updated, err := s.loadPaper(ctx, paperID)
	if err != nil {
		return store.Paper{}, err
	}
	s.recordRevision(updated, sess.UserName)
	s.indexPaper(updated, acc.group)
	return updated, nil
}

func (s *Service) recordRevision(p store.Paper, author string) {
	if s.history == nil {
		return
	}
	log := s.log.WithField("paper_id", p.ID)
	_, _, err := s.history.CommitSnapshot(p.ID, snapshotOf(p), author, "Update metadata")
	if errors.Is(err, gitrepo.ErrNotFound) {
		err = s.history.EnsurePaperRepo(p.ID, snapshotOf(p), author)
	}
	if err != nil {
		log.WithError(err).Warn("record paper revision")
	}
}

// DeletePaper removes the record first and the blob second; a blob that
// cannot be removed is logged and left behind.
func (s *Service) DeletePaper(ctx context.Context, sess Session, paperID string) error {
	paper, _, err := s.paperAccess(ctx, sess, paperID, rbac.ActionDelete)
	if err != nil {
		return err
	}
	if err := s.store.DeletePaper(ctx, paperID); err != nil {
		return err
	}
	log := s.log.WithField("paper_id", paperID)
	if s.files != nil {
		if err := s.files.Delete(ctx, paper.FileKey); err != nil {
			log.WithError(err).WithField("file_key", paper.FileKey).Warn("delete paper blob")
		}
	}
	if s.history != nil {
		if err := s.history.Remove(paperID); err != nil {
			log.WithError(err).Warn("remove paper history")
		}
	}
	s.search.Delete(search.ResultPaper, paperID)
	return nil
}

// DownloadPaper opens the paper's file. The caller closes the reader.
func (s *Service) DownloadPaper(ctx context.Context, sess Session, paperID string) (store.Paper, io.ReadCloser, int64, error) {
	paper, _, err := s.paperAccess(ctx, sess, paperID, rbac.ActionRead)
	if err != nil {
		return store.Paper{}, nil, 0, err
	}
	if s.files == nil {
		return store.Paper{}, nil, 0, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "File storage is not configured")
	}
	body, size, err := s.files.Open(ctx, paper.FileKey)
	if err != nil {
		return store.Paper{}, nil, 0, err
	}
	if err := s.store.IncrementDownloads(ctx, paperID); err != nil {
		s.log.WithError(err).WithField("paper_id", paperID).Warn("count download")
	}
	return paper, body, size, nil
}

func (s *Service) PaperHistory(ctx context.Context, sess Session, paperID string) ([]gitrepo.Revision, error) {
	if _, _, err := s.paperAccess(ctx, sess, paperID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []gitrepo.Revision{}, nil
	}
	revs, err := s.history.History(paperID, historyLimit)
	if errors.Is(err, gitrepo.ErrNotFound) {
		return []gitrepo.Revision{}, nil
	}
	return revs, err
}

func (s *Service) PaperRevision(ctx context.Context, sess Session, paperID, hash string) (gitrepo.Snapshot, store.CommitInfo, error) {
	if _, _, err := s.paperAccess(ctx, sess, paperID, rbac.ActionRead); err != nil {
		return gitrepo.Snapshot{}, store.CommitInfo{}, err
	}
	if s.history == nil {
		return gitrepo.Snapshot{}, store.CommitInfo{}, notFound("Revision")
	}
	return s.history.SnapshotAt(paperID, hash)
}

// ListComments returns the paper's comments as a forest. Comments whose
// parent was deleted are shown top-level.
func (s *Service) ListComments(ctx context.Context, sess Session, paperID string) ([]*threadtree.Node[itemView], int, error) {
	if _, _, err := s.paperAccess(ctx, sess, paperID, rbac.ActionRead); err != nil {
		return nil, 0, err
	}
	items, err := s.store.ListComments(ctx, paperID)
	if err != nil {
		return nil, 0, err
	}
	return buildThread(items), len(items), nil
}

func buildThread(items []store.ThreadItem) []*threadtree.Node[itemView] {
	views := make([]itemView, 0, len(items))
	for _, item := range items {
		views = append(views, toItemView(item))
	}
	return threadtree.Build(views, itemKey)
}

func (s *Service) loadComment(ctx context.Context, paperID, commentID string) (store.ThreadItem, error) {
	item, err := s.store.GetComment(ctx, paperID, commentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ThreadItem{}, notFound("Comment")
		}
		return store.ThreadItem{}, err
	}
	return item, nil
}

// AddComment appends a comment. A parent must already exist on the same
// paper, so self-references and cycles cannot be created.
func (s *Service) AddComment(ctx context.Context, sess Session, paperID string, req CommentRequest) (store.ThreadItem, error) {
	paper, _, err := s.paperAccess(ctx, sess, paperID, rbac.ActionContribute)
	if err != nil {
		return store.ThreadItem{}, err
	}
	var parent *store.ThreadItem
	if req.ParentCommentID != nil {
		p, err := s.store.GetComment(ctx, paperID, *req.ParentCommentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ThreadItem{}, validationError([]string{"parentCommentId does not reference a comment on this paper"})
			}
			return store.ThreadItem{}, err
		}
		depth, err := threadDepth(ctx, p, func(ctx context.Context, id string) (store.ThreadItem, error) {
			return s.store.GetComment(ctx, paperID, id)
		})
		if err != nil {
			return store.ThreadItem{}, err
		}
		if depth >= maxThreadDepth {
			return store.ThreadItem{}, validationError([]string{fmt.Sprintf("comments cannot be nested more than %d levels deep", maxThreadDepth)})
		}
		parent = &p
	}

	item := store.ThreadItem{
		ID:          util.NewID("cmt"),
		ContainerID: paperID,
		ParentID:    req.ParentCommentID,
		AuthorID:    sess.UserID,
		Content:     strings.TrimSpace(req.Content),
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateComment(ctx, item); err != nil {
		return store.ThreadItem{}, err
	}
	if parent != nil && parent.AuthorID != sess.UserID {
		s.notifyUser(ctx, notify.Notification{
			UserID:  parent.AuthorID,
			Kind:    notify.KindCommentReply,
			Title:   "New reply to your comment",
			Message: sess.UserName + " replied to your comment on \"" + paper.Title + "\"",
			Link:    "/papers/" + paperID,
		})
	}
	return s.loadComment(ctx, paperID, item.ID)
}

func (s *Service) commentAccess(ctx context.Context, sess Session, paperID, commentID string, action rbac.Action) (store.ThreadItem, error) {
	paper, err := s.loadPaper(ctx, paperID)
	if err != nil {
		return store.ThreadItem{}, err
	}
	comment, err := s.loadComment(ctx, paperID, commentID)
	if err != nil {
		return store.ThreadItem{}, err
	}
	res := rbac.Resource{Kind: rbac.KindComment, OwnerID: comment.AuthorID}
	if _, err := s.authorize(ctx, sess, paper.GroupID, res, action); err != nil {
		return store.ThreadItem{}, err
	}
	return comment, nil
}

func (s *Service) EditComment(ctx context.Context, sess Session, paperID, commentID string, req EditContentRequest) (store.ThreadItem, error) {
	if _, err := s.commentAccess(ctx, sess, paperID, commentID, rbac.ActionEdit); err != nil {
		return store.ThreadItem{}, err
	}
	if _, err := s.store.UpdateComment(ctx, paperID, commentID, strings.TrimSpace(req.Content)); err != nil {
		return store.ThreadItem{}, err
	}
	return s.loadComment(ctx, paperID, commentID)
}

// DeleteComment removes exactly one comment; its replies stay and surface
// top-level.
func (s *Service) DeleteComment(ctx context.Context, sess Session, paperID, commentID string) error {
	if _, err := s.commentAccess(ctx, sess, paperID, commentID, rbac.ActionDelete); err != nil {
		return err
	}
	return s.store.DeleteComment(ctx, paperID, commentID)
}

func (s *Service) LikeComment(ctx context.Context, sess Session, paperID, commentID string) ([]string, error) {
	if _, err := s.commentAccess(ctx, sess, paperID, commentID, rbac.ActionContribute); err != nil {
		return nil, err
	}
	return s.store.ToggleCommentLike(ctx, commentID, sess.UserID)
}

func (s *Service) indexPaper(p store.Paper, group store.Group) {
	s.search.IndexPaper(search.PaperRecord{
		ID:       p.ID,
		Title:    p.Title,
		Abstract: p.Abstract,
		Keywords: nonNilStrings(p.Keywords),
		Authors:  nonNilStrings(p.Authors),
		GroupID:  p.GroupID,
		Private:  group.IsPrivate,
	})
}
