package export

import (
	"context"
	"fmt"
	"time"

	"github.com/blessing-molokwu/chatademy-sub000/internal/store"
	"github.com/blessing-molokwu/chatademy-sub000/internal/threadtree"
)

// DataStore is the read side the exporter needs.
type DataStore interface {
	GetDiscussion(ctx context.Context, id string) (store.Discussion, error)
	GetGroup(ctx context.Context, id string) (store.Group, error)
	ListReplies(ctx context.Context, discussionID string, limit, offset int) ([]store.ThreadItem, int, error)
}

type pdfRenderer func(ctx context.Context, html string) ([]byte, error)

// Service provides discussion export functionality
type Service struct {
	store     DataStore
	renderPDF pdfRenderer
	now       func() time.Time
}

func NewService(store DataStore) *Service {
	return &Service{store: store, renderPDF: chromePDF, now: time.Now}
}

func replyKey(item store.ThreadItem) (string, string) {
	if item.ParentID == nil {
		return item.ID, ""
	}
	return item.ID, *item.ParentID
}

// Export renders every reply of the discussion, not just one page.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if req.Format != FormatHTML && req.Format != FormatPDF {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}

	discussion, err := s.store.GetDiscussion(ctx, req.DiscussionID)
	if err != nil {
		return nil, fmt.Errorf("get discussion: %w", err)
	}
	group, err := s.store.GetGroup(ctx, discussion.GroupID)
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	replies, _, err := s.store.ListReplies(ctx, discussion.ID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}

	data := TemplateData{
		Title:      discussion.Title,
		Content:    discussion.Content,
		Tags:       discussion.Tags,
		Author:     discussion.AuthorName,
		GroupName:  group.Name,
		CreatedAt:  discussion.CreatedAt,
		IsClosed:   discussion.IsClosed,
		ReplyCount: len(replies),
		Replies:    make([]TemplateReply, 0, len(replies)),
		ExportedAt: s.now(),
	}
	forest := threadtree.Build(replies, replyKey)
	threadtree.Walk(forest, func(node *threadtree.Node[store.ThreadItem], depth int) {
		data.Replies = append(data.Replies, TemplateReply{
			Author:    node.Item.AuthorName,
			Content:   node.Item.Content,
			CreatedAt: node.Item.CreatedAt,
			Edited:    node.Item.EditedAt != nil,
			Likes:     len(node.Item.Likes),
			Depth:     depth,
		})
	})

	html, err := RenderDiscussionHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	name := sanitizeFilename(discussion.Title)
	if req.Format == FormatHTML {
		return &Result{Data: []byte(html), Filename: name + ".html", MimeType: "text/html; charset=utf-8"}, nil
	}
	pdf, err := s.renderPDF(ctx, html)
	if err != nil {
		return nil, err
	}
	return &Result{Data: pdf, Filename: name + ".pdf", MimeType: "application/pdf"}, nil
}
