package email

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{name: "empty config", config: Config{}, expected: false},
		{name: "missing host", config: Config{Port: "587", From: "hub@example.com"}, expected: false},
		{name: "missing port", config: Config{Host: "smtp.example.com", From: "hub@example.com"}, expected: false},
		{name: "missing from", config: Config{Host: "smtp.example.com", Port: "587"}, expected: false},
		{name: "fully configured", config: Config{Host: "smtp.example.com", Port: "587", From: "hub@example.com"}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

type captured struct {
	addr string
	from string
	to   []string
	msg  string
}

func newCapturingService(c *captured) *Service {
	svc := NewService(Config{Host: "smtp.example.com", Port: "2525", From: "hub@example.com", FromName: "Research Hub"})
	svc.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		c.addr, c.from, c.to, c.msg = addr, from, to, string(msg)
		return nil
	}
	return svc
}

func TestSendVerificationEmail(t *testing.T) {
	var c captured
	svc := newCapturingService(&c)
	if err := svc.SendVerificationEmail("ada@example.com", "Ada", "https://hub.example.com/verify?token=abc123"); err != nil {
		t.Fatalf("SendVerificationEmail() error = %v", err)
	}
	if c.addr != "smtp.example.com:2525" || c.from != "hub@example.com" || len(c.to) != 1 || c.to[0] != "ada@example.com" {
		t.Fatalf("unexpected envelope: %+v", c)
	}
	for _, want := range []string{
		"Subject: Verify your Research Hub account",
		"multipart/alternative",
		"Welcome, Ada!",
		"https://hub.example.com/verify?token=abc123",
		"Content-Type: text/plain",
	} {
		if !strings.Contains(c.msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestSendInvitationEscapesInput(t *testing.T) {
	var c captured
	svc := newCapturingService(&c)
	err := svc.SendInvitationEmail("bob@example.com", "Ada", "Graph Theory", "<script>x</script>", "https://hub.example.com/invitations")
	if err != nil {
		t.Fatalf("SendInvitationEmail() error = %v", err)
	}
	if !strings.Contains(c.msg, "Graph Theory") || !strings.Contains(c.msg, "&lt;script&gt;") {
		t.Fatalf("unexpected invitation body:\n%s", c.msg)
	}
}

func TestSendPasswordResetEmail(t *testing.T) {
	var c captured
	svc := newCapturingService(&c)
	if err := svc.SendPasswordResetEmail("ada@example.com", "Ada", "https://hub.example.com/reset?token=t"); err != nil {
		t.Fatalf("SendPasswordResetEmail() error = %v", err)
	}
	if !strings.Contains(c.msg, "expire in 1 hour") {
		t.Fatal("reset mail should mention expiry")
	}
}

func TestSendWithoutConfig(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendVerificationEmail("a@example.com", "A", "u"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
