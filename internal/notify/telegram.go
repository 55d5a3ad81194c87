package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/teemow/inboxbell/internal/instrumentation"
	"github.com/teemow/inboxbell/internal/logging"
	"github.com/teemow/inboxbell/internal/oauth"
)

// MaxMessageLength is the Bot API limit for one text message, in characters.
const MaxMessageLength = 4096

// Notifier sends text to a tenant's chat.
type Notifier interface {
	Send(ctx context.Context, tenant oauth.TenantID, text string) error
}

// Config configures a Telegram notifier.
type Config struct {
	Token string

	// APIEndpoint is a format string taking the token and the method name.
	// Defaults to tgbotapi.APIEndpoint.
	APIEndpoint string

	// HTTPClient bounds every Bot API call; its timeout is the notifier's I/O timeout.
	HTTPClient *http.Client

	Metrics *instrumentation.Metrics
	Logger  *slog.Logger
}

// Telegram is a Notifier backed by the Bot API.
type Telegram struct {
	bot     *tgbotapi.BotAPI
	metrics *instrumentation.Metrics
	logger  *slog.Logger
}

var _ Notifier = (*Telegram)(nil)

// NewTelegram connects to the Bot API and verifies the token with getMe.
func NewTelegram(cfg Config) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}

	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Telegram Bot API: %w", err)
	}

	logger.Info("Connected to Telegram", "bot", bot.Self.UserName)

	return &Telegram{bot: bot, metrics: cfg.Metrics, logger: logger}, nil
}

// Username returns the bot's username, used to strip @mentions from commands.
func (t *Telegram) Username() string {
	return t.bot.Self.UserName
}

// Send posts text to the tenant's chat. Text longer than MaxMessageLength is truncated.
func (t *Telegram) Send(ctx context.Context, tenant oauth.TenantID, text string) error {
	ctx, span := instrumentation.StartAPISpan(ctx, instrumentation.ServiceTelegram, instrumentation.OperationSend)
	start := time.Now()

	_, err := t.bot.Send(tgbotapi.NewMessage(int64(tenant), Truncate(text, MaxMessageLength)))
	if err != nil {
		err = fmt.Errorf("failed to send message to chat %d: %w", tenant, err)
	}

	t.metrics.RecordAPIOperation(ctx, instrumentation.ServiceTelegram, instrumentation.OperationSend,
		instrumentation.StatusFor(err), time.Since(start))
	instrumentation.EndSpan(span, err)

	if err != nil {
		t.logger.Debug("Telegram send failed", logging.Tenant(int64(tenant)), logging.Err(err))
	}
	return err
}

// Truncate shortens text to at most limit characters, ending in an ellipsis when cut.
func Truncate(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit-1]) + "…"
}
