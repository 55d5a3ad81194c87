package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teemow/inboxbell/internal/gmail"
	"github.com/teemow/inboxbell/internal/instrumentation"
	"github.com/teemow/inboxbell/internal/logging"
	"github.com/teemow/inboxbell/internal/oauth"
	"github.com/teemow/inboxbell/internal/pdftext"
	"github.com/teemow/inboxbell/internal/summarize"
)

// DefaultIOTimeout bounds each external call made while handling a command.
const DefaultIOTimeout = 30 * time.Second

var errSummarizerDisabled = errors.New("summarization is not configured")

// CredentialLookup resolves a tenant's stored token record.
type CredentialLookup interface {
	Get(tenant oauth.TenantID) (oauth.TokenRecord, bool)
}

// ClientBuilder turns a token record into a mailbox client.
type ClientBuilder interface {
	BuildClient(ctx context.Context, rec oauth.TokenRecord) (gmail.Mailbox, error)
}

// ExtractFunc extracts text from the first maxPages pages of a document.
type ExtractFunc func(data []byte, maxPages int) (string, error)

// Config configures a Dispatcher.
type Config struct {
	Credentials CredentialLookup
	Builder     ClientBuilder

	// Summarizer may be nil; PDF summaries then report an inline failure.
	Summarizer summarize.Summarizer

	// Extract defaults to pdftext.Extract.
	Extract ExtractFunc

	// BaseURL is the public root of the HTTP front door, used for login links.
	BaseURL string

	// BotName is the bot's username; mentions of other bots are ignored.
	BotName string

	IOTimeout time.Duration
	Metrics   *instrumentation.Metrics
	Logger    *slog.Logger
}

// Dispatcher handles chat commands. It keeps no state between calls.
type Dispatcher struct {
	credentials CredentialLookup
	builder     ClientBuilder
	summarizer  summarize.Summarizer
	extract     ExtractFunc
	baseURL     string
	botName     string
	ioTimeout   time.Duration
	metrics     *instrumentation.Metrics
	logger      *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg Config) *Dispatcher {
	d := &Dispatcher{
		credentials: cfg.Credentials,
		builder:     cfg.Builder,
		summarizer:  cfg.Summarizer,
		extract:     cfg.Extract,
		baseURL:     cfg.BaseURL,
		botName:     cfg.BotName,
		ioTimeout:   cfg.IOTimeout,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}
	if d.extract == nil {
		d.extract = pdftext.Extract
	}
	if d.baseURL != "" && !strings.HasSuffix(d.baseURL, "/") {
		d.baseURL += "/"
	}
	if d.ioTimeout <= 0 {
		d.ioTimeout = DefaultIOTimeout
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Handle parses text and returns the reply for tenant.
func (d *Dispatcher) Handle(ctx context.Context, tenant oauth.TenantID, text string) string {
	cmd := Parse(text, d.botName)

	ctx, span := instrumentation.StartCommandSpan(ctx, cmd.Name(), int64(tenant))
	start := time.Now()
	logger := d.logger.With(
		logging.Command(cmd.Name()),
		logging.Tenant(int64(tenant)),
		logging.RequestID(uuid.NewString()),
		logging.TraceID(instrumentation.GetTraceID(ctx)),
	)

	reply, err := d.dispatch(ctx, logger, tenant, cmd)

	status := instrumentation.StatusSuccess
	switch {
	case errors.Is(err, oauth.ErrNotLinked), errors.Is(err, oauth.ErrUnavailable):
		status = instrumentation.StatusNotLinked
		logger.Info("Command rejected, tenant not linked", logging.Err(err))
	case err != nil:
		status = instrumentation.StatusError
		logger.Warn("Command failed", logging.Err(err))
	}

	elapsed := time.Since(start)
	logger.Debug("Handled command", logging.Status(status), logging.Duration(elapsed))
	d.metrics.RecordCommand(ctx, cmd.Name(), status, elapsed)
	instrumentation.EndSpan(span, err)
	return reply
}

func (d *Dispatcher) dispatch(ctx context.Context, logger *slog.Logger, tenant oauth.TenantID, cmd Command) (string, error) {
	if !cmd.needsMailbox() {
		return d.staticReply(tenant, cmd), nil
	}

	mailbox, err := d.resolve(ctx, tenant)
	if err != nil {
		return NotLinkedText, err
	}

	h := &handler{d: d, mailbox: mailbox, logger: logger}

	switch c := cmd.(type) {
	case Invalid:
		return c.Usage, nil
	case Summarize:
		return h.summarize(ctx), nil
	case Sync:
		return h.sync(ctx), nil
	case Upcoming:
		return h.upcoming(ctx), nil
	case Search:
		return h.search(ctx, c.Term), nil
	case EmailDetail:
		return h.emailDetail(ctx, c.ID), nil
	case Attachment:
		return h.attachment(ctx, c.EmailID, c.AttachmentID), nil
	case PdfSummary:
		if c.Latest() {
			return h.pdfSummaryLatest(ctx), nil
		}
		return h.pdfSummary(ctx, c.EmailID, c.AttachmentID), nil
	}
	return "", fmt.Errorf("unhandled command %T", cmd)
}

// staticReply answers the commands that never touch the mailbox.
func (d *Dispatcher) staticReply(tenant oauth.TenantID, cmd Command) string {
	switch cmd.(type) {
	case Start:
		return StartText
	case Help:
		return HelpText
	case Login:
		return d.loginText(tenant)
	}
	return UnknownText
}

// resolve looks up the tenant and builds its mailbox client. Any failure
// means the tenant is treated as not linked.
func (d *Dispatcher) resolve(ctx context.Context, tenant oauth.TenantID) (gmail.Mailbox, error) {
	rec, ok := d.credentials.Get(tenant)
	if !ok {
		return nil, oauth.ErrNotLinked
	}

	ctx, cancel := context.WithTimeout(ctx, d.ioTimeout)
	defer cancel()

	return d.builder.BuildClient(ctx, rec)
}

func (d *Dispatcher) loginText(tenant oauth.TenantID) string {
	return fmt.Sprintf("Open to login: %sauth/google?tg_id=%d\nAfter login use /summarize or /sync.", d.baseURL, tenant)
}
