// Package notification dispatches alert and system events to configured
// channels: generic webhooks, Discord, ntfy and SMTP email.
package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"meridian-router.dev/meridian/internal/config"
	"meridian-router.dev/meridian/internal/logging"
	"meridian-router.dev/meridian/internal/metrics"
)

// Level constants
const (
	LevelInfo     = "info"
	LevelWarning  = "warning"
	LevelCritical = "critical"
)

// Notification represents a notification event
type Notification struct {
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Level     string         `json:"level"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Dispatcher manages notification channels and dispatching
type Dispatcher struct {
	config *config.NotificationsConfig
	logger *logging.Logger
	client *http.Client
	mu     sync.RWMutex

	// sendMail is swappable for tests.
	sendMail func(addr string, auth SMTPAuth, from string, to []string, msg []byte) error
}

// NewDispatcher creates a new notification dispatcher
func NewDispatcher(cfg *config.NotificationsConfig, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default().WithComponent("notification")
	}
	return &Dispatcher{
		config:   cfg,
		logger:   logger,
		client:   &http.Client{Timeout: 10 * time.Second},
		sendMail: smtpSend,
	}
}

// UpdateConfig updates the dispatcher configuration
func (d *Dispatcher) UpdateConfig(cfg *config.NotificationsConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config = cfg
}

// Send dispatches a notification to all enabled and relevant channels
func (d *Dispatcher) Send(n Notification) {
	d.mu.RLock()
	cfg := d.config
	d.mu.RUnlock()

	if cfg == nil || !cfg.Enabled {
		return
	}

	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	var wg sync.WaitGroup

	for _, ch := range cfg.Channels {
		if !ch.Enabled {
			continue
		}
		if !shouldSend(n.Level, ch.Level) {
			continue
		}

		wg.Add(1)
		go func(channel config.NotificationChannel) {
			defer wg.Done()
			if err := d.sendToChannel(channel, n); err != nil {
				metrics.Get().NotificationsFailed.WithLabelValues(channel.Type).Inc()
				d.logger.Error("failed to send notification",
					"channel", channel.Name,
					"type", channel.Type,
					"error", err)
				return
			}
			metrics.Get().NotificationsSent.WithLabelValues(channel.Type).Inc()
		}(ch)
	}

	wg.Wait()
}

// SendSimple is a helper for simple messages
func (d *Dispatcher) SendSimple(title, message, level string) {
	d.Send(Notification{
		Title:   title,
		Message: message,
		Level:   level,
	})
}

// SendEmail delivers a message to explicit recipients, bypassing channel
// configuration. The alert engine uses this for per-alert recipient lists.
func (d *Dispatcher) SendEmail(recipients []string, subject, body string) error {
	d.mu.RLock()
	cfg := d.config
	d.mu.RUnlock()

	if cfg == nil || cfg.SMTP == nil {
		return fmt.Errorf("smtp is not configured")
	}
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients")
	}
	return d.deliverMail(cfg.SMTP, recipients, subject, body)
}

// shouldSend checks if a message level meets the channel's minimum level
func shouldSend(msgLevel, chanLevel string) bool {
	if chanLevel == "" {
		return true
	}

	levels := map[string]int{
		LevelInfo:     1,
		LevelWarning:  2,
		LevelCritical: 3,
	}

	m := levels[strings.ToLower(msgLevel)]
	c := levels[strings.ToLower(chanLevel)]

	return m >= c
}

func (d *Dispatcher) sendToChannel(ch config.NotificationChannel, n Notification) error {
	switch strings.ToLower(ch.Type) {
	case "webhook":
		return d.sendWebhook(ch, n, false)
	case "discord":
		return d.sendWebhook(ch, n, true)
	case "ntfy":
		return d.sendNtfy(ch, n)
	case "email":
		return d.sendEmailChannel(ch, n)
	default:
		return fmt.Errorf("unknown channel type: %s", ch.Type)
	}
}

// Channel Implementations

func (d *Dispatcher) sendWebhook(ch config.NotificationChannel, n Notification, discord bool) error {
	if ch.WebhookURL == "" {
		return fmt.Errorf("missing webhook_url")
	}

	payload := map[string]any{
		"text": fmt.Sprintf("*%s*\n%s\n_Level: %s_", n.Title, n.Message, n.Level),
	}
	if discord {
		payload = map[string]any{
			"content": fmt.Sprintf("**%s**\n%s", n.Title, n.Message),
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest("POST", ch.WebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ch.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook failed with status: %d", resp.StatusCode)
	}

	return nil
}

func (d *Dispatcher) sendNtfy(ch config.NotificationChannel, n Notification) error {
	url := ch.Server
	if url == "" {
		url = "https://ntfy.sh"
	}
	if ch.Topic == "" {
		return fmt.Errorf("missing topic for ntfy")
	}
	if !strings.HasSuffix(url, "/") {
		url += "/"
	}
	url += ch.Topic

	req, err := http.NewRequest("POST", url, strings.NewReader(n.Message))
	if err != nil {
		return err
	}
	req.Header.Set("Title", n.Title)

	switch n.Level {
	case LevelCritical:
		req.Header.Set("Priority", "high")
		req.Header.Set("Tags", "rotating_light")
	case LevelWarning:
		req.Header.Set("Priority", "default")
		req.Header.Set("Tags", "warning")
	case LevelInfo:
		req.Header.Set("Priority", "low")
		req.Header.Set("Tags", "information_source")
	}

	for k, v := range ch.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("ntfy failed with status: %d", resp.StatusCode)
	}

	return nil
}

func (d *Dispatcher) sendEmailChannel(ch config.NotificationChannel, n Notification) error {
	d.mu.RLock()
	cfg := d.config
	d.mu.RUnlock()

	if cfg.SMTP == nil {
		return fmt.Errorf("email channel %q requires an smtp block", ch.Name)
	}
	if len(ch.Recipients) == 0 {
		return fmt.Errorf("email channel %q has no recipients", ch.Name)
	}

	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(n.Level), n.Title)
	return d.deliverMail(cfg.SMTP, ch.Recipients, subject, n.Message)
}

func (d *Dispatcher) deliverMail(smtpCfg *config.SMTPConfig, to []string, subject, body string) error {
	from := smtpCfg.From
	if from == "" {
		from = smtpCfg.Username
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)
	msg.WriteString("\r\n")

	auth := SMTPAuth{
		Username: smtpCfg.Username,
		Password: smtpCfg.Password,
		Host:     smtpCfg.Host,
		StartTLS: smtpCfg.StartTLS,
	}
	if err := d.sendMail(smtpCfg.Addr(), auth, from, to, msg.Bytes()); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}
