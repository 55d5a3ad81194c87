package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/teemow/inboxbell/internal/gmail"
	"github.com/teemow/inboxbell/internal/google"
	"github.com/teemow/inboxbell/internal/instrumentation"
	"github.com/teemow/inboxbell/internal/logging"
)

var (
	// ErrUnavailable means the tenant's credentials cannot produce a working client right now.
	ErrUnavailable = errors.New("credentials unavailable")

	// ErrNotLinked means the tenant has no stored credentials.
	ErrNotLinked = errors.New("not linked")
)

// ProviderConfig configures a Provider.
type ProviderConfig struct {
	// OAuth holds the client credentials and token endpoint.
	OAuth *oauth2.Config

	// HTTPClient is used for the token endpoint and as the transport of mailbox clients.
	HTTPClient *http.Client

	// GmailOptions are passed to every mailbox client.
	GmailOptions []option.ClientOption

	Metrics *instrumentation.Metrics
	Logger  *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Provider builds mailbox clients from token records. It holds no tenant state.
type Provider struct {
	oauth        *oauth2.Config
	httpClient   *http.Client
	gmailOptions []option.ClientOption
	metrics      *instrumentation.Metrics
	logger       *slog.Logger
	now          func() time.Time
}

// NewProvider creates a Provider.
func NewProvider(cfg ProviderConfig) *Provider {
	p := &Provider{
		oauth:        cfg.OAuth,
		httpClient:   cfg.HTTPClient,
		gmailOptions: cfg.GmailOptions,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		now:          cfg.Now,
	}
	if p.httpClient == nil {
		p.httpClient = http.DefaultClient
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// ConsentURL returns the login link for a tenant.
func (p *Provider) ConsentURL(tenant TenantID) string {
	return google.ConsentURL(p.oauth, EncodeState(tenant))
}

// AnonymousConsentURL returns a login link that carries no state. Completing
// it yields tokens that are not bound to any chat.
func (p *Provider) AnonymousConsentURL() string {
	return google.ConsentURL(p.oauth, "")
}

// Exchange trades an authorization code for a token record.
func (p *Provider) Exchange(ctx context.Context, code string) (TokenRecord, error) {
	ctx, span := instrumentation.StartAPISpan(ctx, instrumentation.ServiceGoogleOAuth, instrumentation.OperationExchange)
	tok, err := google.Exchange(ctx, p.oauth, p.httpClient, code)
	instrumentation.EndSpan(span, err)
	if err != nil {
		p.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		return TokenRecord{}, err
	}
	p.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultSuccess)
	return RecordFromToken(tok), nil
}

// Refresh exchanges the record's refresh token for a new access token.
// The returned record keeps the old refresh token and scope when the
// endpoint omits them. It is not stored anywhere.
func (p *Provider) Refresh(ctx context.Context, rec TokenRecord) (TokenRecord, error) {
	if !rec.HasRefreshToken() {
		return TokenRecord{}, fmt.Errorf("%w: no refresh token", ErrUnavailable)
	}

	ctx, span := instrumentation.StartAPISpan(ctx, instrumentation.ServiceGoogleOAuth, instrumentation.OperationRefresh)
	tok, err := refreshToken(ctx, p.oauth, p.httpClient, rec.RefreshToken)
	instrumentation.EndSpan(span, err)
	if err != nil {
		p.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultFailure)
		return TokenRecord{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	p.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultSuccess)

	next := RecordFromToken(tok)
	if next.RefreshToken == "" {
		next.RefreshToken = rec.RefreshToken
	}
	if next.Scope == "" {
		next.Scope = rec.Scope
	}
	return next, nil
}

// BuildClient returns a mailbox client for rec, refreshing the access token
// first when it is missing, expired or of unknown validity. Every failure is
// reported as ErrUnavailable.
func (p *Provider) BuildClient(ctx context.Context, rec TokenRecord) (gmail.Mailbox, error) {
	tok, err := p.usableToken(ctx, rec)
	if err != nil {
		return nil, err
	}

	base := context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	client, err := gmail.NewClient(ctx, gmail.ClientConfig{
		HTTPClient: oauth2.NewClient(base, oauth2.StaticTokenSource(tok)),
		Metrics:    p.metrics,
		Options:    p.gmailOptions,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return client, nil
}

func (p *Provider) usableToken(ctx context.Context, rec TokenRecord) (*oauth2.Token, error) {
	if !needsRefresh(rec, p.now()) {
		return rec.Token(), nil
	}

	if !rec.HasRefreshToken() {
		switch {
		case rec.AccessToken == "":
			return nil, fmt.Errorf("%w: record has no tokens", ErrUnavailable)
		case rec.ExpiresAt.IsZero():
			// Unknown expiry and nothing to refresh with: try the token as-is.
			return rec.Token(), nil
		default:
			return nil, fmt.Errorf("%w: access token expired at %s and no refresh token", ErrUnavailable, rec.ExpiresAt.Format(time.RFC3339))
		}
	}

	next, err := p.Refresh(ctx, rec)
	if err != nil {
		p.logger.Debug("Transient token refresh failed", logging.Err(err))
		return nil, err
	}
	return next.Token(), nil
}
