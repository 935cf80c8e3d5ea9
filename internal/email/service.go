// Package email sends account and invitation mail over SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net/smtp"
	"strings"

	"github.com/google/uuid"
)

const AppName = "Research Hub"

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) fromHeader() string {
	if s.config.FromName == "" {
		return s.config.From
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", s.config.FromName), s.config.From)
}

// SendHTMLEmail sends a multipart/alternative message with a plain text
// fallback.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	msg := buildMessage(s.fromHeader(), to, subject, textBody, htmlBody)
	if err := s.send(s.server, s.auth, s.config.From, to, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func buildMessage(from string, to []string, subject, textBody, htmlBody string) []byte {
	boundary := "rh-" + strings.ReplaceAll(uuid.NewString(), "-", "")

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", textBody)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

type VerificationData struct {
	AppName         string
	UserName        string
	VerificationURL string
}

type PasswordResetData struct {
	AppName  string
	UserName string
	ResetURL string
}

type InvitationData struct {
	AppName     string
	InviterName string
	GroupName   string
	Message     string
	InviteURL   string
}

func (s *Service) SendVerificationEmail(to, userName, verificationURL string) error {
	data := VerificationData{AppName: AppName, UserName: userName, VerificationURL: verificationURL}
	html, err := render("verification", data)
	if err != nil {
		return fmt.Errorf("render verification template: %w", err)
	}
	text := fmt.Sprintf("Welcome to %s, %s.\n\nVerify your email address: %s\n\nThe link expires in 24 hours.", AppName, userName, verificationURL)
	return s.SendHTMLEmail([]string{to}, "Verify your "+AppName+" account", text, html)
}

func (s *Service) SendPasswordResetEmail(to, userName, resetURL string) error {
	data := PasswordResetData{AppName: AppName, UserName: userName, ResetURL: resetURL}
	html, err := render("reset", data)
	if err != nil {
		return fmt.Errorf("render password reset template: %w", err)
	}
	text := fmt.Sprintf("Hi %s,\n\nReset your password: %s\n\nThe link expires in 1 hour.", userName, resetURL)
	return s.SendHTMLEmail([]string{to}, "Reset your "+AppName+" password", text, html)
}

func (s *Service) SendInvitationEmail(to, inviterName, groupName, message, inviteURL string) error {
	data := InvitationData{
		AppName:     AppName,
		InviterName: inviterName,
		GroupName:   groupName,
		Message:     message,
		InviteURL:   inviteURL,
	}
	html, err := render("invitation", data)
	if err != nil {
		return fmt.Errorf("render invitation template: %w", err)
	}
	text := fmt.Sprintf("%s invited you to join %s on %s.\n\n%s\n\nRespond here: %s", inviterName, groupName, AppName, message, inviteURL)
	return s.SendHTMLEmail([]string{to}, fmt.Sprintf("%s invited you to %s", inviterName, groupName), text, html)
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var templates = template.Must(template.New("layout").Parse(layoutTemplate + verificationTemplate + resetTemplate + invitationTemplate))

const layoutTemplate = `{{define "head"}}<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #2d5f8b; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #2d5f8b; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #2d5f8b; }
        .note { background: #f3f6fa; padding: 12px; border-radius: 4px; margin: 20px 0; }
    </style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
{{end}}
{{define "foot"}}</body>
</html>{{end}}`

const verificationTemplate = `{{define "verification"}}{{template "head" .}}
    <h2>Welcome, {{.UserName}}!</h2>
    <p>Please verify your email address to finish setting up your account.</p>
    <p><a href="{{.VerificationURL}}" class="button">Verify Email Address</a></p>
    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.VerificationURL}}</p>
    <p>This verification link will expire in 24 hours.</p>
    <div class="footer"><p>If you didn't create an account with {{.AppName}}, you can ignore this email.</p></div>
{{template "foot" .}}{{end}}`

const resetTemplate = `{{define "reset"}}{{template "head" .}}
    <h2>Password Reset Request</h2>
    <p>Hi {{.UserName}},</p>
    <p>We received a request to reset your password.</p>
    <p><a href="{{.ResetURL}}" class="button">Reset Password</a></p>
    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.ResetURL}}</p>
    <div class="note"><strong>Important:</strong> This reset link will expire in 1 hour.</div>
    <div class="footer"><p>If you didn't request a password reset, your password will remain unchanged.</p></div>
{{template "foot" .}}{{end}}`

const invitationTemplate = `{{define "invitation"}}{{template "head" .}}
    <h2>You're invited to {{.GroupName}}</h2>
    <p>{{.InviterName}} invited you to join the research group <strong>{{.GroupName}}</strong>.</p>
    {{if .Message}}<div class="note">{{.Message}}</div>{{end}}
    <p><a href="{{.InviteURL}}" class="button">View Invitation</a></p>
    <p class="link">{{.InviteURL}}</p>
    <div class="footer"><p>The invitation expires in 7 days.</p></div>
{{template "foot" .}}{{end}}`
