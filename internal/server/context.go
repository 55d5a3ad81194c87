package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teemow/inboxbell/internal/dedup"
	"github.com/teemow/inboxbell/internal/gmail"
	"github.com/teemow/inboxbell/internal/instrumentation"
	"github.com/teemow/inboxbell/internal/logging"
	"github.com/teemow/inboxbell/internal/oauth"
	"github.com/teemow/inboxbell/internal/poller"
)

// CommandHandler turns one chat message into a reply.
type CommandHandler interface {
	Handle(ctx context.Context, tenant oauth.TenantID, text string) string
}

// ClientBuilder turns a token record into a mailbox client.
type ClientBuilder interface {
	BuildClient(ctx context.Context, rec oauth.TokenRecord) (gmail.Mailbox, error)
}

// Config wires the engine components behind a ServerContext.
type Config struct {
	Store    *oauth.Store
	Ledger   *dedup.Ledger
	Provider *oauth.Provider

	// Mailboxes builds the clients behind the mailbox routes. Defaults to Provider.
	Mailboxes ClientBuilder

	Commands  CommandHandler
	Scheduler *poller.Scheduler
	Metrics   *instrumentation.Metrics
	Logger    *slog.Logger
}

// ServerContext is the engine API used by the HTTP front door and the CLI.
type ServerContext struct {
	ctx    context.Context
	cancel context.CancelFunc

	store     *oauth.Store
	ledger    *dedup.Ledger
	provider  *oauth.Provider
	mailboxes ClientBuilder
	commands  CommandHandler
	scheduler *poller.Scheduler
	metrics   *instrumentation.Metrics
	logger    *slog.Logger

	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext creates a server context. Store, Ledger and Commands are required.
func NewServerContext(ctx context.Context, cfg Config) (*ServerContext, error) {
	if cfg.Store == nil || cfg.Ledger == nil {
		return nil, fmt.Errorf("credential store and dedup ledger are required")
	}
	if cfg.Commands == nil {
		return nil, fmt.Errorf("command handler is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Mailboxes == nil && cfg.Provider != nil {
		cfg.Mailboxes = cfg.Provider
	}

	shutdownCtx, cancel := context.WithCancel(ctx)
	return &ServerContext{
		ctx:       shutdownCtx,
		cancel:    cancel,
		store:     cfg.Store,
		ledger:    cfg.Ledger,
		provider:  cfg.Provider,
		mailboxes: cfg.Mailboxes,
		commands:  cfg.Commands,
		scheduler: cfg.Scheduler,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}, nil
}

// Provider returns the credential provider used for logins.
func (sc *ServerContext) Provider() *oauth.Provider {
	return sc.provider
}

// RecordLogin stores the tenant's credentials and creates its seen-set.
// Messages already in the mailbox notify on the next cycle.
func (sc *ServerContext) RecordLogin(tenant oauth.TenantID, rec oauth.TokenRecord) {
	created := sc.store.Put(tenant, rec)
	sc.ledger.Init(int64(tenant))
	if created {
		sc.metrics.IncrementLinkedTenants(sc.ctx)
	}

	sc.logger.Info("Tenant linked",
		logging.Tenant(int64(tenant)),
		"new", created,
		"have_refresh", rec.HasRefreshToken(),
		"access_token", logging.SanitizeToken(rec.AccessToken))
}

// GetTokens returns the tenant's credentials without the access token.
func (sc *ServerContext) GetTokens(tenant oauth.TenantID) (oauth.RedactedRecord, bool) {
	rec, ok := sc.store.Get(tenant)
	if !ok {
		return oauth.RedactedRecord{}, false
	}
	return rec.Redacted(), true
}

// Mailbox builds a mailbox client for the tenant. It returns
// oauth.ErrNotLinked when the tenant has no credentials.
func (sc *ServerContext) Mailbox(ctx context.Context, tenant oauth.TenantID) (gmail.Mailbox, error) {
	rec, ok := sc.store.Get(tenant)
	if !ok {
		return nil, oauth.ErrNotLinked
	}
	if sc.mailboxes == nil {
		return nil, fmt.Errorf("%w: no credential provider", oauth.ErrUnavailable)
	}
	return sc.mailboxes.BuildClient(ctx, rec)
}

// HandleCommand dispatches one chat message and returns the reply.
func (sc *ServerContext) HandleCommand(ctx context.Context, tenant oauth.TenantID, text string) string {
	return sc.commands.Handle(ctx, tenant, text)
}

// StartScheduler starts polling. It returns false if polling was already
// started or no scheduler is configured.
func (sc *ServerContext) StartScheduler(ctx context.Context) bool {
	if sc.scheduler == nil {
		return false
	}
	return sc.scheduler.Start(ctx)
}

// SchedulerRunning reports whether the poll loop is alive.
func (sc *ServerContext) SchedulerRunning() bool {
	return sc.scheduler != nil && sc.scheduler.Running()
}

// RefreshTokens refreshes the tenant's access token and stores the result.
// It returns oauth.ErrNotLinked when the tenant has no credentials.
func (sc *ServerContext) RefreshTokens(ctx context.Context, tenant oauth.TenantID) (oauth.RedactedRecord, error) {
	rec, ok := sc.store.Get(tenant)
	if !ok {
		return oauth.RedactedRecord{}, oauth.ErrNotLinked
	}
	if sc.provider == nil {
		return oauth.RedactedRecord{}, fmt.Errorf("%w: no credential provider", oauth.ErrUnavailable)
	}

	next, err := sc.provider.Refresh(ctx, rec)
	if err != nil {
		return oauth.RedactedRecord{}, err
	}
	sc.store.Put(tenant, next)

	sc.logger.Info("Tenant tokens refreshed", logging.Tenant(int64(tenant)))
	return next.Redacted(), nil
}

// IsShutdown returns whether the server has been shut down.
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown stops the scheduler, waiting for the in-flight cycle until ctx
// expires, and cancels the server context.
func (sc *ServerContext) Shutdown(ctx context.Context) error {
	sc.mu.Lock()
	if sc.shutdown {
		sc.mu.Unlock()
		return nil
	}
	sc.shutdown = true
	sc.mu.Unlock()

	var err error
	if sc.scheduler != nil {
		err = sc.scheduler.Stop(ctx)
	}
	sc.cancel()
	return err
}
