package notification

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"meridian-router.dev/meridian/internal/config"
)

func TestShouldSend(t *testing.T) {
	tests := []struct {
		msgLevel  string
		chanLevel string
		want      bool
	}{
		{LevelInfo, "", true},
		{LevelInfo, LevelInfo, true},
		{LevelInfo, LevelWarning, false},
		{LevelWarning, LevelWarning, true},
		{LevelWarning, LevelCritical, false},
		{LevelCritical, LevelWarning, true},
		{LevelCritical, LevelCritical, true},
		{"CRITICAL", "warning", true},
	}

	for _, tt := range tests {
		if got := shouldSend(tt.msgLevel, tt.chanLevel); got != tt.want {
			t.Errorf("shouldSend(%q, %q) = %v, want %v", tt.msgLevel, tt.chanLevel, got, tt.want)
		}
	}
}

func TestSendWebhook(t *testing.T) {
	var called atomic.Int32
	var gotBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Add(1)
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody.Store(string(buf))
	}))
	defer srv.Close()

	d := NewDispatcher(&config.NotificationsConfig{
		Enabled: true,
		Channels: []config.NotificationChannel{
			{Name: "hook", Type: "webhook", Enabled: true, WebhookURL: srv.URL},
		},
	}, nil)

	d.SendSimple("High CPU", "cpu at 95%", LevelCritical)

	if called.Load() != 1 {
		t.Fatalf("webhook called %d times, want 1", called.Load())
	}
	body, _ := gotBody.Load().(string)
	if !strings.Contains(body, "High CPU") {
		t.Errorf("webhook payload missing title: %s", body)
	}
}

func TestLevelFilteringSkipsChannel(t *testing.T) {
	var called atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Add(1)
	}))
	defer srv.Close()

	d := NewDispatcher(&config.NotificationsConfig{
		Enabled: true,
		Channels: []config.NotificationChannel{
			{Name: "crit-only", Type: "webhook", Enabled: true, Level: LevelCritical, WebhookURL: srv.URL},
		},
	}, nil)

	d.SendSimple("FYI", "routine event", LevelInfo)

	if called.Load() != 0 {
		t.Errorf("channel below level threshold should not be called")
	}
}

func TestDisabledDispatcher(t *testing.T) {
	var called atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Add(1)
	}))
	defer srv.Close()

	d := NewDispatcher(&config.NotificationsConfig{
		Enabled: false,
		Channels: []config.NotificationChannel{
			{Name: "hook", Type: "webhook", Enabled: true, WebhookURL: srv.URL},
		},
	}, nil)

	d.SendSimple("nope", "should not go out", LevelCritical)
	if called.Load() != 0 {
		t.Error("disabled dispatcher must not send")
	}
}

func TestNtfyHeaders(t *testing.T) {
	var gotTitle, gotPriority atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTitle.Store(r.Header.Get("Title"))
		gotPriority.Store(r.Header.Get("Priority"))
	}))
	defer srv.Close()

	d := NewDispatcher(&config.NotificationsConfig{
		Enabled: true,
		Channels: []config.NotificationChannel{
			{Name: "push", Type: "ntfy", Enabled: true, Server: srv.URL, Topic: "alerts"},
		},
	}, nil)

	d.SendSimple("Disk full", "/ at 97%", LevelCritical)

	if title, _ := gotTitle.Load().(string); title != "Disk full" {
		t.Errorf("ntfy Title = %q", title)
	}
	if prio, _ := gotPriority.Load().(string); prio != "high" {
		t.Errorf("ntfy Priority = %q, want high for critical", prio)
	}
}

func TestSendEmailUsesRecipients(t *testing.T) {
	var gotTo []string
	var gotMsg string

	d := NewDispatcher(&config.NotificationsConfig{
		Enabled: true,
		SMTP:    &config.SMTPConfig{Host: "mail.example.com", From: "router@example.com"},
	}, nil)
	d.sendMail = func(addr string, auth SMTPAuth, from string, to []string, msg []byte) error {
		gotTo = to
		gotMsg = string(msg)
		return nil
	}

	err := d.SendEmail([]string{"ops@example.com"}, "Alert: high-cpu", "cpu breached threshold")
	if err != nil {
		t.Fatalf("SendEmail failed: %v", err)
	}
	if len(gotTo) != 1 || gotTo[0] != "ops@example.com" {
		t.Errorf("recipients = %v", gotTo)
	}
	if !strings.Contains(gotMsg, "Subject: Alert: high-cpu") {
		t.Errorf("message missing subject: %s", gotMsg)
	}
}

func TestSendEmailWithoutSMTP(t *testing.T) {
	d := NewDispatcher(&config.NotificationsConfig{Enabled: true}, nil)
	if err := d.SendEmail([]string{"ops@example.com"}, "x", "y"); err == nil {
		t.Error("expected error when smtp is not configured")
	}
}
