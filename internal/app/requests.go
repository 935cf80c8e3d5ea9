package app

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/blessing-molokwu/chatademy-sub000/internal/authpw"
	"github.com/blessing-molokwu/chatademy-sub000/internal/pagination"
	"github.com/blessing-molokwu/chatademy-sub000/internal/rbac"
	"github.com/blessing-molokwu/chatademy-sub000/internal/search"
)

// Request bodies. Each type validates itself before the service sees it and
// reports one message per offending field.

type validator interface {
	Validate() []string
}

const (
	maxBioLength       = 500
	maxTagCount        = 10
	maxTagLength       = 30
	maxInterestCount   = 20
	maxCommentLength   = 5000
	maxReplyLength     = 5000
	maxDiscussionBody  = 10000
	maxInvitationNote  = 500
	maxAbstractLength  = 5000
	maxPaperListLength = 50
)

type problems []string

func (p *problems) add(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p *problems) length(field, value string, min, max int) {
	n := utf8.RuneCountInString(strings.TrimSpace(value))
	switch {
	case min > 0 && n == 0:
		p.add("%s is required", field)
	case n < min || n > max:
		p.add("%s must be between %d and %d characters", field, min, max)
	}
}

func (p *problems) maxLength(field, value string, max int) {
	if utf8.RuneCountInString(value) > max {
		p.add("%s must be at most %d characters", field, max)
	}
}

func (p *problems) email(field, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		p.add("%s is required", field)
		return
	}
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		p.add("%s must be a valid email address", field)
	}
}

func (p *problems) list(field string, values []string, maxCount, maxEach int) {
	if len(values) > maxCount {
		p.add("%s may contain at most %d entries", field, maxCount)
		return
	}
	for _, value := range values {
		if utf8.RuneCountInString(value) > maxEach {
			p.add("each of %s must be at most %d characters", field, maxEach)
			return
		}
	}
}

func (p problems) result() []string {
	if len(p) == 0 {
		return nil
	}
	return p
}

// cleanList trims entries and drops blanks and duplicates, keeping order.
func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, dup := seen[strings.ToLower(value)]; dup {
			continue
		}
		seen[strings.ToLower(value)] = struct{}{}
		out = append(out, value)
	}
	return out
}

// splitList parses a comma separated form value.
func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	return cleanList(strings.Split(raw, ","))
}

type RegisterRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	Institution string `json:"institution"`
}

func (r RegisterRequest) Validate() []string {
	var p problems
	p.length("name", r.Name, 2, 100)
	p.email("email", r.Email)
	if len(r.Password) < authpw.MinPasswordLength {
		p.add("password must be at least %d characters", authpw.MinPasswordLength)
	}
	p.maxLength("institution", r.Institution, 200)
	return p.result()
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r LoginRequest) Validate() []string {
	var p problems
	if strings.TrimSpace(r.Email) == "" {
		p.add("email is required")
	}
	if r.Password == "" {
		p.add("password is required")
	}
	return p.result()
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (r RefreshRequest) Validate() []string {
	if strings.TrimSpace(r.RefreshToken) == "" {
		return []string{"refreshToken is required"}
	}
	return nil
}

// ProfileRequest is a partial update: nil fields are left unchanged.
type ProfileRequest struct {
	Name              *string   `json:"name"`
	Institution       *string   `json:"institution"`
	Bio               *string   `json:"bio"`
	ResearchInterests *[]string `json:"researchInterests"`
}

func (r ProfileRequest) Validate() []string {
	var p problems
	if r.Name != nil {
		p.length("name", *r.Name, 2, 100)
	}
	if r.Institution != nil {
		p.maxLength("institution", *r.Institution, 200)
	}
	if r.Bio != nil {
		p.maxLength("bio", *r.Bio, maxBioLength)
	}
	if r.ResearchInterests != nil {
		p.list("researchInterests", *r.ResearchInterests, maxInterestCount, 50)
	}
	return p.result()
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (r ChangePasswordRequest) Validate() []string {
	var p problems
	if r.CurrentPassword == "" {
		p.add("currentPassword is required")
	}
	if len(r.NewPassword) < authpw.MinPasswordLength {
		p.add("newPassword must be at least %d characters", authpw.MinPasswordLength)
	}
	return p.result()
}

type TokenRequest struct {
	Token string `json:"token"`
}

func (r TokenRequest) Validate() []string {
	if strings.TrimSpace(r.Token) == "" {
		return []string{"token is required"}
	}
	return nil
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

func (r ForgotPasswordRequest) Validate() []string {
	var p problems
	p.email("email", r.Email)
	return p.result()
}

type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (r ResetPasswordRequest) Validate() []string {
	var p problems
	if strings.TrimSpace(r.Token) == "" {
		p.add("token is required")
	}
	if len(r.Password) < authpw.MinPasswordLength {
		p.add("password must be at least %d characters", authpw.MinPasswordLength)
	}
	return p.result()
}

type CreateGroupRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	IsPrivate   bool     `json:"isPrivate"`
}

func (r CreateGroupRequest) Validate() []string {
	var p problems
	p.length("name", r.Name, 3, 100)
	p.maxLength("description", r.Description, 1000)
	p.maxLength("category", r.Category, 50)
	p.list("tags", r.Tags, maxTagCount, maxTagLength)
	return p.result()
}

type UpdateGroupRequest struct {
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	Category    *string   `json:"category"`
	Tags        *[]string `json:"tags"`
	IsPrivate   *bool     `json:"isPrivate"`
}

func (r UpdateGroupRequest) Validate() []string {
	var p problems
	if r.Name != nil {
		p.length("name", *r.Name, 3, 100)
	}
	if r.Description != nil {
		p.maxLength("description", *r.Description, 1000)
	}
	if r.Category != nil {
		p.maxLength("category", *r.Category, 50)
	}
	if r.Tags != nil {
		p.list("tags", *r.Tags, maxTagCount, maxTagLength)
	}
	return p.result()
}

type MemberRoleRequest struct {
	Role string `json:"role"`
}

func (r MemberRoleRequest) Validate() []string {
	switch rbac.Role(r.Role) {
	case rbac.RoleMember, rbac.RoleAdmin:
		return nil
	default:
		return []string{"role must be one of member, admin"}
	}
}

// InvitationRequest addresses an invitation by email or by user id.
type InvitationRequest struct {
	Email   string `json:"email"`
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

func (r InvitationRequest) Validate() []string {
	var p problems
	switch {
	case strings.TrimSpace(r.Email) == "" && strings.TrimSpace(r.UserID) == "":
		p.add("email or userId is required")
	case strings.TrimSpace(r.Email) != "":
		p.email("email", r.Email)
	}
	p.maxLength("message", r.Message, maxInvitationNote)
	return p.result()
}

// PaperRequest is the metadata part of a paper upload.
type PaperRequest struct {
	Title    string
	Abstract string
	Authors  []string
	Keywords []string
}

func (r PaperRequest) Validate() []string {
	var p problems
	p.length("title", r.Title, 3, 300)
	p.maxLength("abstract", r.Abstract, maxAbstractLength)
	p.list("authors", r.Authors, maxPaperListLength, 100)
	p.list("keywords", r.Keywords, maxPaperListLength, 50)
	return p.result()
}

type UpdatePaperRequest struct {
	Title    *string   `json:"title"`
	Abstract *string   `json:"abstract"`
	Authors  *[]string `json:"authors"`
	Keywords *[]string `json:"keywords"`
}

func (r UpdatePaperRequest) Validate() []string {
	var p problems
	if r.Title != nil {
		p.length("title", *r.Title, 3, 300)
	}
	if r.Abstract != nil {
		p.maxLength("abstract", *r.Abstract, maxAbstractLength)
	}
	if r.Authors != nil {
		p.list("authors", *r.Authors, maxPaperListLength, 100)
	}
	if r.Keywords != nil {
		p.list("keywords", *r.Keywords, maxPaperListLength, 50)
	}
	return p.result()
}

type CommentRequest struct {
	Content         string  `json:"content"`
	ParentCommentID *string `json:"parentCommentId"`
}

func (r CommentRequest) Validate() []string {
	var p problems
	p.length("content", r.Content, 1, maxCommentLength)
	if r.ParentCommentID != nil && strings.TrimSpace(*r.ParentCommentID) == "" {
		p.add("parentCommentId must not be empty")
	}
	return p.result()
}

type ReplyRequest struct {
	Content     string  `json:"content"`
	ParentReply *string `json:"parentReply"`
}

func (r ReplyRequest) Validate() []string {
	var p problems
	p.length("content", r.Content, 1, maxReplyLength)
	if r.ParentReply != nil && strings.TrimSpace(*r.ParentReply) == "" {
		p.add("parentReply must not be empty")
	}
	return p.result()
}

// EditContentRequest edits a comment or reply in place.
type EditContentRequest struct {
	Content string `json:"content"`
}

func (r EditContentRequest) Validate() []string {
	var p problems
	p.length("content", r.Content, 1, maxCommentLength)
	return p.result()
}

type CreateDiscussionRequest struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

func (r CreateDiscussionRequest) Validate() []string {
	var p problems
	p.length("title", r.Title, 3, 200)
	p.length("content", r.Content, 1, maxDiscussionBody)
	p.list("tags", r.Tags, maxTagCount, maxTagLength)
	return p.result()
}

// UpdateDiscussionRequest mixes author edits (title, content, tags) with
// moderation flags (isPinned, isClosed).
type UpdateDiscussionRequest struct {
	Title    *string   `json:"title"`
	Content  *string   `json:"content"`
	Tags     *[]string `json:"tags"`
	IsPinned *bool     `json:"isPinned"`
	IsClosed *bool     `json:"isClosed"`
}

func (r UpdateDiscussionRequest) Validate() []string {
	var p problems
	if r.Title != nil {
		p.length("title", *r.Title, 3, 200)
	}
	if r.Content != nil {
		p.length("content", *r.Content, 1, maxDiscussionBody)
	}
	if r.Tags != nil {
		p.list("tags", *r.Tags, maxTagCount, maxTagLength)
	}
	if r.Title == nil && r.Content == nil && r.Tags == nil && r.IsPinned == nil && r.IsClosed == nil {
		p.add("at least one field is required")
	}
	return p.result()
}

func (r UpdateDiscussionRequest) edits() bool {
	return r.Title != nil || r.Content != nil || r.Tags != nil
}

func (r UpdateDiscussionRequest) moderates() bool {
	return r.IsPinned != nil || r.IsClosed != nil
}

// SearchRequest is built from query parameters rather than a body.
type SearchRequest struct {
	Query string
	Type  search.ResultType
	Page  pagination.Params
}

func (r SearchRequest) Validate() []string {
	var p problems
	p.length("q", r.Query, 2, 200)
	return p.result()
}
