// Package telegram forwards core events to a Telegram chat.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/fgeck/savekeeper/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for Telegram notification operations.
type Service interface {
	Name() string
	Handle(ctx context.Context, ev models.Event) error
	Send(ctx context.Context, ev models.Event) (*models.TelegramResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the Telegram Service interface. It is also an events.Sink.
type Impl struct {
	cfg        models.TelegramConfig
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string
}

// New creates a new Telegram sink.
func New(logger zerolog.Logger, cfg models.TelegramConfig) *Impl {
	return &Impl{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:  logger,
		baseURL: "https://api.telegram.org",
	}
}

// NewWithClient creates a new Telegram sink with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, cfg models.TelegramConfig, httpClient HTTPClient, baseURL string) *Impl {
	return &Impl{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
	}
}

// sendMessageRequest is the request body for Telegram sendMessage API.
type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// Name implements events.Sink.
func (s *Impl) Name() string { return "telegram" }

// Handle implements events.Sink. Events below the configured minimum kind
// are ignored.
func (s *Impl) Handle(ctx context.Context, ev models.Event) error {
	if !s.wants(ev) {
		return nil
	}
	result, err := s.Send(ctx, ev)
	if err != nil {
		return err
	}
	return result.Error
}

func (s *Impl) wants(ev models.Event) bool {
	if s.cfg.MinKind == "" {
		return true
	}
	return ev.Kind.Severity() >= s.cfg.MinKind.Severity()
}

// Send posts ev to the chat regardless of its kind.
func (s *Impl) Send(ctx context.Context, ev models.Event) (*models.TelegramResult, error) {
	result := &models.TelegramResult{}

	s.logger.Debug().
		Str("chat_id", s.cfg.ChatID).
		Str("code", ev.Code).
		Msg("sending Telegram notification")

	jsonBody, err := json.Marshal(sendMessageRequest{
		ChatID:    s.cfg.ChatID,
		Text:      formatEvent(ev),
		ParseMode: "HTML",
	})
	if err != nil {
		result.Error = fmt.Errorf("failed to marshal request: %w", err)
		return result, nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.cfg.BotToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		result.Error = fmt.Errorf("failed to create request: %w", err)
		return result, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("failed to send request: %w", err)
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Errorf("telegram API returned status %d", resp.StatusCode)
		return result, nil
	}

	result.MessageSent = true
	return result, nil
}

var titles = map[string]string{
	models.CodeBackupCreated:   "Backup created",
	models.CodeBackupApplied:   "Backup restored",
	models.CodeBackupDeleted:   "Backup deleted",
	models.CodeBackupFailed:    "Backup failed",
	models.CodeApplyFailed:     "Restore failed",
	models.CodeSaveUnitMissing: "Save location missing",
	models.CodeQuickBackup:     "Quick backup",
	models.CodeSyncStarted:     "Sync started",
	models.CodeSyncCompleted:   "Sync completed",
	models.CodeSyncFailed:      "Sync failed",
	models.CodeSyncSkipped:     "Sync skipped",
	models.CodeSyncConflict:    "Sync conflict resolved",
	models.CodeConfigSaved:     "Settings saved",
	models.CodeConfigUpgraded:  "Settings upgraded",
	models.CodeWakeFailed:      "Backend host did not wake up",
}

var icons = map[models.EventKind]string{
	models.EventSuccess: "✅",
	models.EventInfo:    "ℹ️",
	models.EventWarning: "⚠️",
	models.EventError:   "❌",
}

func formatEvent(ev models.Event) string {
	var b bytes.Buffer

	title, ok := titles[ev.Code]
	if !ok {
		title = ev.Code
	}
	fmt.Fprintf(&b, "%s <b>%s</b>\n", icons[ev.Kind], escapeHTML(title))

	keys := make([]string, 0, len(ev.Context))
	for k := range ev.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if len(keys) > 0 {
		b.WriteString("\n")
	}
	for _, k := range keys {
		v := escapeHTML(ev.Context[k])
		if k == "error" {
			v = "<code>" + v + "</code>"
		}
		fmt.Fprintf(&b, "  • %s: %s\n", escapeHTML(k), v)
	}

	if !ev.Time.IsZero() {
		fmt.Fprintf(&b, "\n⏰ %s\n", ev.Time.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

// escapeHTML escapes HTML special characters.
func escapeHTML(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		switch r {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			b.WriteString("&amp;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
