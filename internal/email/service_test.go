package email

import (
	"strings"
	"testing"
)

func TestIsConfigured(t *testing.T) {
	svc := NewService(Config{})
	if svc.IsConfigured() {
		t.Error("empty config should not be configured")
	}

	svc = NewService(Config{Host: "smtp.example.com", Port: "587", From: "wall@example.com"})
	if !svc.IsConfigured() {
		t.Error("expected configured service")
	}
}

func TestSendFailsWhenUnconfigured(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendHTMLEmail([]string{"a@example.com"}, "subject", "<p>hi</p>"); err == nil {
		t.Error("expected error when email not configured")
	}
}

func TestModerationAlertTemplateEscapesContent(t *testing.T) {
	html, err := renderTemplate(moderationAlertTemplate, ModerationAlertData{
		AppName:     "Barrage Wall",
		BarrageID:   42,
		Author:      "sakura",
		Content:     `<script>alert("x")</script>`,
		ReportCount: 3,
		ReportedAt:  "2026-01-01 00:00:00",
	})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Error("content was not escaped")
	}
	if !strings.Contains(html, "reported <strong>3 times</strong>") {
		t.Error("report count missing from alert body")
	}
	if !strings.Contains(html, "42") {
		t.Error("barrage id missing from alert body")
	}
}

func TestPasswordResetTemplateGreetsUser(t *testing.T) {
	html, err := renderTemplate(passwordResetEmailTemplate, PasswordResetData{
		AppName:  "Barrage Wall",
		Username: "momo",
		ResetURL: "http://localhost:8788/reset-password?token=abc",
	})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}
	if !strings.Contains(html, "Hi momo,") {
		t.Error("reset mail does not greet the user by name")
	}
	if !strings.Contains(html, "token=abc") {
		t.Error("reset URL missing from body")
	}
}

func TestVerificationTemplateIncludesLink(t *testing.T) {
	html, err := renderTemplate(verificationEmailTemplate, VerificationData{
		AppName:         "Barrage Wall",
		Username:        "momo",
		VerificationURL: "http://localhost:8788/api/auth/verify-email?token=abc",
	})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}
	if !strings.Contains(html, "token=abc") {
		t.Error("verification URL missing from body")
	}
}
