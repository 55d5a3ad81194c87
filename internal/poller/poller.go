package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/teemow/inboxbell/internal/dedup"
	"github.com/teemow/inboxbell/internal/gmail"
	"github.com/teemow/inboxbell/internal/instrumentation"
	"github.com/teemow/inboxbell/internal/logging"
	"github.com/teemow/inboxbell/internal/notify"
	"github.com/teemow/inboxbell/internal/oauth"
)

const (
	// DefaultMaxResults is how many recent ids are listed per tenant and cycle.
	DefaultMaxResults = 10

	// DefaultIOTimeout bounds each external call made during a cycle.
	DefaultIOTimeout = 30 * time.Second

	noSubject     = "(no subject)"
	snippetLength = 140
)

// CredentialSource yields the tenants to poll.
type CredentialSource interface {
	Snapshot() []oauth.Entry
}

// ClientBuilder turns a token record into a mailbox client.
type ClientBuilder interface {
	BuildClient(ctx context.Context, rec oauth.TokenRecord) (gmail.Mailbox, error)
}

// Config configures a Poller.
type Config struct {
	Credentials CredentialSource
	Builder     ClientBuilder
	Ledger      *dedup.Ledger
	Notifier    notify.Notifier

	MaxResults int64
	IOTimeout  time.Duration

	Metrics *instrumentation.Metrics
	Logger  *slog.Logger
}

// Poller runs poll cycles.
type Poller struct {
	credentials CredentialSource
	builder     ClientBuilder
	ledger      *dedup.Ledger
	notifier    notify.Notifier
	maxResults  int64
	ioTimeout   time.Duration
	metrics     *instrumentation.Metrics
	logger      *slog.Logger
}

// New creates a Poller.
func New(cfg Config) *Poller {
	p := &Poller{
		credentials: cfg.Credentials,
		builder:     cfg.Builder,
		ledger:      cfg.Ledger,
		notifier:    cfg.Notifier,
		maxResults:  cfg.MaxResults,
		ioTimeout:   cfg.IOTimeout,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}
	if p.maxResults <= 0 {
		p.maxResults = DefaultMaxResults
	}
	if p.ioTimeout <= 0 {
		p.ioTimeout = DefaultIOTimeout
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// FormatNotification renders the chat message for an important email.
func FormatNotification(subject, snippet, id string) string {
	return fmt.Sprintf("📣 Important academic email detected\nSubject: %s\nSnippet: %s\nID: %s\nUse /email %s to view details.",
		subject, snippet, id, id)
}

// RunCycle makes one pass over a snapshot of all linked tenants. It never
// panics; a panic escaping a tenant is recovered and logged.
func (p *Poller) RunCycle(ctx context.Context) {
	logger := logging.WithOperation(p.logger, "poll_cycle").With(logging.RequestID(uuid.NewString()))
	ctx, span := instrumentation.StartSpan(ctx, "poll.cycle")
	start := time.Now()

	var cycleErr error
	defer func() {
		if r := recover(); r != nil {
			cycleErr = fmt.Errorf("panic: %v", r)
			logger.Error("Recovered panic in poll cycle", "panic", r)
		}
		p.metrics.RecordPollCycle(ctx, instrumentation.StatusFor(cycleErr), time.Since(start))
		instrumentation.EndSpan(span, cycleErr)
	}()

	entries := p.credentials.Snapshot()
	span.SetAttributes(attribute.Int("bell.tenants", len(entries)))
	logger.Debug("Starting poll cycle", "tenants", len(entries))

	for _, entry := range entries {
		if ctx.Err() != nil {
			logger.Debug("Poll cycle interrupted", logging.Err(ctx.Err()))
			return
		}
		p.pollTenant(ctx, logger, entry)
	}
}

func (p *Poller) pollTenant(ctx context.Context, logger *slog.Logger, entry oauth.Entry) {
	logger = logging.WithTenant(logger, int64(entry.Tenant))
	result := instrumentation.TenantResultOK

	defer func() {
		if r := recover(); r != nil {
			result = instrumentation.TenantResultPanic
			logger.Error("Recovered panic while polling tenant", "panic", r)
		}
		p.metrics.RecordPollTenant(ctx, int64(entry.Tenant), result)
	}()

	result = p.processTenant(ctx, logger, entry)
}

func (p *Poller) processTenant(ctx context.Context, logger *slog.Logger, entry oauth.Entry) string {
	tenant := entry.Tenant

	buildCtx, cancel := context.WithTimeout(ctx, p.ioTimeout)
	mailbox, err := p.builder.BuildClient(buildCtx, entry.Record)
	cancel()
	if err != nil {
		logger.Warn("Skipping tenant, mailbox unavailable", logging.Err(err))
		return instrumentation.TenantResultUnavailable
	}

	listCtx, cancel := context.WithTimeout(ctx, p.ioTimeout)
	ids, err := mailbox.ListRecent(listCtx, "", p.maxResults)
	cancel()
	if err != nil {
		logger.Warn("Skipping tenant, listing failed", logging.Err(err))
		return instrumentation.TenantResultListFailed
	}

	logger.Debug("Listed recent messages", "count", len(ids))

	for _, id := range ids {
		if !p.ledger.IsNew(int64(tenant), id) {
			continue
		}
		p.processMessage(ctx, logger, tenant, mailbox, id)
	}
	return instrumentation.TenantResultOK
}

func (p *Poller) processMessage(ctx context.Context, logger *slog.Logger, tenant oauth.TenantID, mailbox gmail.Mailbox, id string) {
	logger = logger.With(logging.MessageID(id))

	fetchCtx, cancel := context.WithTimeout(ctx, p.ioTimeout)
	msg, err := mailbox.FetchMessage(fetchCtx, id)
	cancel()
	if err != nil {
		// Unfetchable messages are consumed so a broken id cannot stall every cycle.
		p.ledger.MarkSeen(int64(tenant), id)
		logger.Warn("Failed to fetch message, marking seen", logging.Err(err))
		return
	}

	subject := msg.Subject
	if subject == "" {
		subject = noSubject
	}
	snippet := msg.Snippet
	if snippet == "" {
		snippet = gmail.Clip(msg.Body, snippetLength)
	}

	important := gmail.IsImportant(subject, snippet)
	p.ledger.MarkSeen(int64(tenant), id)

	if !important {
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.ioTimeout)
	err = p.notifier.Send(sendCtx, tenant, FormatNotification(subject, snippet, id))
	cancel()

	p.metrics.RecordNotification(ctx, instrumentation.StatusFor(err))
	if err != nil {
		logger.Warn("Failed to send notification", logging.Err(err))
		return
	}
	logger.Info("Sent important email notification")
}
