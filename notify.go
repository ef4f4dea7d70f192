package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	telegramBaseURL = "https://api.telegram.org"
	notifyTimeout   = 10 * time.Second
)

// Notifier delivers a plain text message to one channel.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// TelegramNotifier posts to a chat through the Bot API.
type TelegramNotifier struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		token:   token,
		chatID:  chatID,
		baseURL: telegramBaseURL,
		client:  &http.Client{Timeout: notifyTimeout},
	}
}

func (n *TelegramNotifier) Notify(ctx context.Context, text string) error {
	payload := map[string]string{
		"chat_id":    n.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	if err := postJSON(ctx, n.client, n.baseURL+"/bot"+n.token+"/sendMessage", payload); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// SlackNotifier posts to an incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{webhookURL: webhookURL, client: &http.Client{Timeout: notifyTimeout}}
}

func (n *SlackNotifier) Notify(ctx context.Context, text string) error {
	if err := postJSON(ctx, n.client, n.webhookURL, map[string]string{"text": text}); err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	return nil
}

// MultiNotifier sends to every notifier and joins their errors.
type MultiNotifier struct {
	Notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{Notifiers: notifiers}
}

func (n *MultiNotifier) Notify(ctx context.Context, text string) error {
	var errs []error
	for _, notifier := range n.Notifiers {
		if err := notifier.Notify(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newNotifiers returns the channels that have credentials configured.
func newNotifiers(secrets Secrets) *MultiNotifier {
	multi := NewMultiNotifier()
	if secrets.TelegramBotToken != "" && secrets.TelegramChatID != "" {
		multi.Notifiers = append(multi.Notifiers, NewTelegramNotifier(secrets.TelegramBotToken, secrets.TelegramChatID))
	}
	if secrets.SlackWebhookURL != "" {
		multi.Notifiers = append(multi.Notifiers, NewSlackNotifier(secrets.SlackWebhookURL))
	}
	return multi
}

// NotificationService formats run events. Delivery is best effort: errors
// are logged and never returned.
type NotificationService struct {
	notifier Notifier
	logger   *slog.Logger
}

func NewNotificationService(notifier Notifier, logger *slog.Logger) *NotificationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationService{notifier: notifier, logger: logger}
}

func (s *NotificationService) SendSuccess(ctx context.Context, site, title, postURL string) {
	s.send(ctx, fmt.Sprintf("✅ Post Published Successfully\nSite: %s\nTitle: %s\nURL: %s", site, title, postURL))
}

func (s *NotificationService) SendFailure(ctx context.Context, site, topic string, err error) {
	s.send(ctx, fmt.Sprintf("❌ Post Generation Failed\nSite: %s\nTopic: %s\nError: %v", site, topic, err))
}

func (s *NotificationService) SendBatchSummary(ctx context.Context, stats BatchStats) {
	s.send(ctx, fmt.Sprintf("📊 Batch Processing Complete\nTotal: %d\n✅ Success: %d\n❌ Failed: %d", stats.Total, stats.Success, stats.Failed))
}

func (s *NotificationService) send(ctx context.Context, text string) {
	if s == nil || s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, text); err != nil {
		s.logger.Warn("failed to send notification", "error", err)
		return
	}
	s.logger.Debug("notification sent")
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// Bot tokens live in the path, so errors only carry the host.
	resp, err := client.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("posting to %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode, URL: req.URL.Host}
	}
	return nil
}
