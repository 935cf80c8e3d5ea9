package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blessing-molokwu/chatademy-sub000/internal/auth"
	"github.com/blessing-molokwu/chatademy-sub000/internal/authpw"
	"github.com/blessing-molokwu/chatademy-sub000/internal/config"
	"github.com/blessing-molokwu/chatademy-sub000/internal/export"
	"github.com/blessing-molokwu/chatademy-sub000/internal/files"
	"github.com/blessing-molokwu/chatademy-sub000/internal/gitrepo"
	"github.com/blessing-molokwu/chatademy-sub000/internal/notify"
	"github.com/blessing-molokwu/chatademy-sub000/internal/ratelimit"
	"github.com/blessing-molokwu/chatademy-sub000/internal/rbac"
	"github.com/blessing-molokwu/chatademy-sub000/internal/search"
	"github.com/blessing-molokwu/chatademy-sub000/internal/session"
	"github.com/blessing-molokwu/chatademy-sub000/internal/store"
	"github.com/blessing-molokwu/chatademy-sub000/internal/util"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Session is the authenticated caller of a request.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	SiteAdmin    bool
	JTI          string
	ExpiresAt    time.Time
}

// DataStore is everything the service needs from persistence.
// *store.PostgresStore satisfies it.
type DataStore interface {
	authpw.UserStore
	SessionStore

	ListUsers(context.Context, store.UserFilter) ([]store.User, int, error)
	UpdateUserProfile(context.Context, store.User) error

	CreateGroup(context.Context, store.Group) error
	GetGroup(context.Context, string) (store.Group, error)
	ListGroups(context.Context, store.GroupFilter) ([]store.Group, int, error)
	UpdateGroup(context.Context, store.Group) error
	DeleteGroup(context.Context, string) error
	GetMemberRole(context.Context, string, string) (string, error)
	AddMember(context.Context, string, string, string) error
	UpdateMemberRole(context.Context, string, string, string) error
	RemoveMember(context.Context, string, string) error
	ListMembers(context.Context, string) ([]store.Member, error)
	MemberGroupIDs(context.Context, string) ([]string, error)

	CreateInvitation(context.Context, store.Invitation) error
	GetInvitation(context.Context, string) (store.Invitation, error)
	ListUserInvitations(context.Context, string, string) ([]store.Invitation, error)
	ListGroupInvitations(context.Context, string) ([]store.Invitation, error)
	SetInvitationStatus(context.Context, string, string) error
	AcceptInvitation(context.Context, string, string, string) error

	CreatePaper(context.Context, store.Paper) error
	GetPaper(context.Context, string) (store.Paper, error)
	ListPapers(context.Context, store.PaperFilter) ([]store.Paper, int, error)
	ListGroupFileKeys(context.Context, string) ([]string, error)
	UpdatePaper(context.Context, store.Paper) error
	DeletePaper(context.Context, string) error
	IncrementDownloads(context.Context, string) error

	CreateComment(context.Context, store.ThreadItem) error
	GetComment(context.Context, string, string) (store.ThreadItem, error)
	ListComments(context.Context, string) ([]store.ThreadItem, error)
	UpdateComment(context.Context, string, string, string) (time.Time, error)
	DeleteComment(context.Context, string, string) error
	ToggleCommentLike(context.Context, string, string) ([]string, error)

	CreateDiscussion(context.Context, store.Discussion) error
	GetDiscussion(context.Context, string) (store.Discussion, error)
	ListDiscussions(context.Context, string, int, int) ([]store.Discussion, int, error)
	UpdateDiscussion(context.Context, store.Discussion) error
	DeleteDiscussion(context.Context, string) error
	TouchDiscussion(context.Context, string) error

	CreateReply(context.Context, store.ThreadItem) error
	GetReply(context.Context, string, string) (store.ThreadItem, error)
	ListReplies(context.Context, string, int, int) ([]store.ThreadItem, int, error)
	UpdateReply(context.Context, string, string, string) (time.Time, error)
	DeleteReply(context.Context, string, string) error
	ToggleReplyLike(context.Context, string, string) ([]string, error)

	Ping(context.Context) error
}

// SessionStore keeps refresh sessions and the access token blacklist.
// Both *store.PostgresStore and *session.RedisStore satisfy it.
type SessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (string, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

// Mailer sends account and invitation emails. *email.Service satisfies it.
type Mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendInvitationEmail(to, inviterName, groupName, message, inviteURL string) error
}

// Check is a named readiness probe.
type Check func(ctx context.Context) error

// Deps are the collaborators of a Service. Store is required; Sessions
// defaults to Store, and the remaining fields fall back to in-process or
// disabled implementations when nil.
type Deps struct {
	Store    DataStore
	Sessions SessionStore
	Limiter  ratelimit.Limiter
	Notify   notify.Store
	Files    *files.Store
	History  *gitrepo.Service
	Search   *search.Service
	Export   *export.Service
	Mailer   Mailer
	Checks   map[string]Check
	Log      logrus.FieldLogger
}

type Service struct {
	cfg      config.Config
	store    DataStore
	sessions SessionStore
	accounts *authpw.Service
	limiter  ratelimit.Limiter
	notify   notify.Store
	files    *files.Store
	history  *gitrepo.Service
	search   *search.Service
	export   *export.Service
	mailer   Mailer
	checks   map[string]Check
	log      logrus.FieldLogger
	now      func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Service{
		cfg:      cfg,
		store:    deps.Store,
		sessions: deps.Sessions,
		accounts: authpw.NewService(deps.Store, log),
		limiter:  deps.Limiter,
		notify:   deps.Notify,
		files:    deps.Files,
		history:  deps.History,
		search:   deps.Search,
		export:   deps.Export,
		mailer:   deps.Mailer,
		checks:   map[string]Check{"database": deps.Store.Ping},
		log:      log,
		now:      time.Now,
	}
	if s.sessions == nil {
		s.sessions = deps.Store
	}
	if s.limiter == nil {
		s.limiter = ratelimit.NewMemoryLimiter(ratelimit.Window{Limit: cfg.AuthRateLimit, Period: cfg.AuthRateWindow})
	}
	if s.notify == nil {
		s.notify = notify.NewMemoryStore(notify.Options{})
	}
	if s.search == nil {
		s.search = search.NewService(nil, nil, log)
	}
	if s.export == nil {
		s.export = export.NewService(deps.Store)
	}
	for name, check := range deps.Checks {
		s.checks[name] = check
	}
	return s
}

func (s *Service) SMTPConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

// Ready runs every readiness probe concurrently and reports each failure by
// name. An empty map means ready.
func (s *Service) Ready(ctx context.Context) map[string]error {
	var mu sync.Mutex
	failures := make(map[string]error)
	g, gctx := errgroup.WithContext(ctx)
	for name, check := range s.checks {
		g.Go(func() error {
			if err := check(gctx); err != nil {
				mu.Lock()
				failures[name] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failures
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Name,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
		Iat:  now.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken()
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		SiteAdmin:    user.Role == "admin",
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		SiteAdmin: user.Role == "admin",
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Refresh rotates a refresh token: the old one is revoked and a new session
// issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if refreshToken == "" {
		return Session{}, unauthenticated("Refresh token is required")
	}
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
			return Session{}, unauthenticated("Invalid or expired refresh token")
		}
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, unauthenticated("Invalid or expired refresh token")
		}
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt); err != nil {
			s.log.WithError(err).WithField("user_id", sess.UserID).Warn("revoke access token")
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.log.WithError(err).WithField("user_id", sess.UserID).Warn("revoke refresh session")
		}
	}
	return nil
}

// groupAccess is the caller's standing in one group.
type groupAccess struct {
	group store.Group
	role  rbac.Role
}

func (s *Service) loadAccess(ctx context.Context, sess Session, groupID string) (groupAccess, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return groupAccess{}, notFound("Group")
		}
		return groupAccess{}, err
	}
	acc := groupAccess{group: group}
	if sess.UserID == "" {
		return acc, nil
	}
	role, err := s.store.GetMemberRole(ctx, groupID, sess.UserID)
	if err != nil {
		return groupAccess{}, err
	}
	acc.role = rbac.Normalize(role)
	return acc, nil
}

// authorize loads the caller's role in groupID and applies rbac.Check. Every
// permission decision goes through here.
func (s *Service) authorize(ctx context.Context, sess Session, groupID string, res rbac.Resource, action rbac.Action) (groupAccess, error) {
	acc, err := s.loadAccess(ctx, sess, groupID)
	if err != nil {
		return groupAccess{}, err
	}
	return acc, s.check(sess, acc, res, action)
}

func (s *Service) check(sess Session, acc groupAccess, res rbac.Resource, action rbac.Action) error {
	res.Private = acc.group.IsPrivate
	decision := rbac.Check(rbac.Subject{UserID: sess.UserID, Role: acc.role, SiteAdmin: sess.SiteAdmin}, res, action)
	if !decision.Allowed {
		return forbidden(decision.Reason)
	}
	return nil
}

// notifyUser stores a notification. Failures are logged, never returned.
func (s *Service) notifyUser(ctx context.Context, n notify.Notification) {
	if n.UserID == "" {
		return
	}
	if _, err := s.notify.Add(ctx, n); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"user_id": n.UserID, "kind": n.Kind}).Warn("store notification")
	}
}

func (s *Service) ListNotifications(ctx context.Context, sess Session, limit int) ([]notify.Notification, int, error) {
	return s.notify.List(ctx, sess.UserID, limit)
}

func (s *Service) MarkNotificationRead(ctx context.Context, sess Session, id string) error {
	if err := s.notify.MarkRead(ctx, sess.UserID, id); err != nil {
		if errors.Is(err, notify.ErrNotFound) {
			return notFound("Notification")
		}
		return err
	}
	return nil
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, sess Session) error {
	return s.notify.MarkAllRead(ctx, sess.UserID)
}

// Search runs a full-text query restricted to public content and the
// caller's own groups.
func (s *Service) Search(ctx context.Context, sess Session, req SearchRequest) (search.Response, error) {
	var memberOf []string
	if sess.UserID != "" {
		ids, err := s.store.MemberGroupIDs(ctx, sess.UserID)
		if err != nil {
			return search.Response{}, err
		}
		memberOf = ids
	}
	return s.search.Search(ctx, search.Query{
		Text:     req.Query,
		Type:     req.Type,
		MemberOf: memberOf,
		Limit:    req.Page.Limit,
		Offset:   req.Page.Offset(),
	}), nil
}

func (s *Service) SearchEngine() string {
	return s.search.Engine()
}

// maxThreadDepth bounds how deeply comments and replies nest; rendering and
// encoding a forest recurse once per level.
const maxThreadDepth = 32

// threadDepth counts the levels from parent up to its root. A missing
// ancestor ends the walk, since that subtree renders top-level. The walk
// stops early once the limit is passed.
func threadDepth(ctx context.Context, parent store.ThreadItem, get func(context.Context, string) (store.ThreadItem, error)) (int, error) {
	depth := 1
	for cur := parent; cur.ParentID != nil && depth <= maxThreadDepth; depth++ {
		next, err := get(ctx, *cur.ParentID)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return 0, err
		}
		cur = next
	}
	return depth, nil
}
