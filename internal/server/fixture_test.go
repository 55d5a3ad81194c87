package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/teemow/inboxbell/internal/dedup"
	"github.com/teemow/inboxbell/internal/gmail"
	"github.com/teemow/inboxbell/internal/instrumentation"
	"github.com/teemow/inboxbell/internal/oauth"
	"github.com/teemow/inboxbell/internal/poller"
	"github.com/teemow/inboxbell/internal/summarize"
)

const chat = oauth.TenantID(42)

// tokenServer fakes Google's token endpoint. Code "good" succeeds; any other
// code is rejected. Refreshes succeed unless failRefresh is set.
type tokenServer struct {
	exchanges   atomic.Int32
	refreshes   atomic.Int32
	failRefresh atomic.Bool
}

func (ts *tokenServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	w.Header().Set("Content-Type", "application/json")

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		ts.exchanges.Add(1)
		if r.PostForm.Get("code") != "good" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Malformed auth code."}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-from-code",
			"refresh_token": "refresh-from-code",
			"expires_in":    3600,
			"token_type":    "Bearer",
			"scope":         "https://www.googleapis.com/auth/gmail.readonly",
		})
	case "refresh_token":
		ts.refreshes.Add(1)
		if ts.failRefresh.Load() {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "refreshed-access",
			"expires_in":   3600,
			"token_type":   "Bearer",
		})
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

type commandCall struct {
	tenant oauth.TenantID
	text   string
}

type fakeCommands struct {
	mu    sync.Mutex
	calls []commandCall
	reply string
}

func (f *fakeCommands) Handle(_ context.Context, tenant oauth.TenantID, text string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, commandCall{tenant: tenant, text: text})
	return f.reply
}

func (f *fakeCommands) Calls() []commandCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]commandCall(nil), f.calls...)
}

type sentMessage struct {
	tenant oauth.TenantID
	text   string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeNotifier) Send(_ context.Context, tenant oauth.TenantID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{tenant: tenant, text: text})
	return nil
}

func (f *fakeNotifier) Sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeNotifier) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeWebhooks struct {
	mu      sync.Mutex
	url     string
	deleted bool
	err     error
}

func (f *fakeWebhooks) SetWebhook(url string) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.url = url
	return &tgbotapi.APIResponse{Ok: true, Result: json.RawMessage("true"), Description: "Webhook was set"}, nil
}

func (f *fakeWebhooks) DeleteWebhook() (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.deleted = true
	f.url = ""
	return &tgbotapi.APIResponse{Ok: true, Result: json.RawMessage("true"), Description: "Webhook was deleted"}, nil
}

func (f *fakeWebhooks) WebhookInfo() (tgbotapi.WebhookInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return tgbotapi.WebhookInfo{}, f.err
	}
	return tgbotapi.WebhookInfo{URL: f.url}, nil
}

type countingRunner struct {
	cycles atomic.Int32
}

func (r *countingRunner) RunCycle(context.Context) {
	r.cycles.Add(1)
}

type fixture struct {
	tokens   *tokenServer
	store    *oauth.Store
	ledger   *dedup.Ledger
	runner   *countingRunner
	commands *fakeCommands
	notifier *fakeNotifier
	webhooks *fakeWebhooks
	mailbox  *fakeMailbox
	builder  *fakeBuilder
	sc       *ServerContext
	front    *HTTPServer
	handler  http.Handler
	logger   *slog.Logger
}

type fixtureOption func(*HTTPServerConfig)

func withMetrics(m *instrumentation.Metrics) fixtureOption {
	return func(c *HTTPServerConfig) { c.Metrics = m }
}

func withRateLimiter(rl *RateLimiter) fixtureOption {
	return func(c *HTTPServerConfig) { c.RateLimiter = rl }
}

func withoutWebhooks() fixtureOption {
	return func(c *HTTPServerConfig) { c.Webhooks = nil }
}

func withSummarizer(s summarize.Summarizer) fixtureOption {
	return func(c *HTTPServerConfig) { c.Summarizer = s }
}

func withReadPDF(fn ReadPDFFunc) fixtureOption {
	return func(c *HTTPServerConfig) { c.ReadPDF = fn }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	f := &fixture{
		tokens:   &tokenServer{},
		ledger:   dedup.NewLedger(0),
		runner:   &countingRunner{},
		commands: &fakeCommands{reply: "pong"},
		notifier: &fakeNotifier{},
		webhooks: &fakeWebhooks{},
		mailbox:  newFakeMailbox(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	f.store = oauth.NewStore(f.logger)
	f.builder = &fakeBuilder{mailbox: f.mailbox}

	srv := httptest.NewServer(f.tokens)
	t.Cleanup(srv.Close)

	provider := oauth.NewProvider(oauth.ProviderConfig{
		OAuth: &oauth2.Config{
			ClientID:     "client",
			ClientSecret: "secret",
			RedirectURL:  "http://localhost:5000/auth/google/callback",
			Scopes:       []string{"https://www.googleapis.com/auth/gmail.readonly"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   srv.URL + "/auth",
				TokenURL:  srv.URL + "/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		HTTPClient: srv.Client(),
		Logger:     f.logger,
	})

	sc, err := NewServerContext(context.Background(), Config{
		Store:     f.store,
		Ledger:    f.ledger,
		Provider:  provider,
		Mailboxes: f.builder,
		Commands:  f.commands,
		Scheduler: poller.NewScheduler(f.runner, time.Hour, f.logger),
		Logger:    f.logger,
	})
	require.NoError(t, err)
	f.sc = sc
	t.Cleanup(func() { _ = sc.Shutdown(context.Background()) })

	cfg := HTTPServerConfig{
		Addr:     "127.0.0.1:0",
		Notifier: f.notifier,
		Webhooks: f.webhooks,
		Logger:   f.logger,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	f.front, err = NewHTTPServer(sc, cfg)
	require.NoError(t, err)
	f.handler = f.front.Handler()
	return f
}

// do serves one request through the front door without a network listener.
func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

// link stores credentials for chat so the mailbox routes accept it.
func (f *fixture) link() {
	f.store.Put(chat, oauth.TokenRecord{AccessToken: "access", RefreshToken: "refresh"})
}

var errTelegramDown = errors.New("telegram is down")

// fakeMailbox serves messages and attachments from memory. Attachments are
// keyed "messageID/attachmentID".
type fakeMailbox struct {
	mu          sync.Mutex
	ids         []string
	messages    map[string]*gmail.Message
	attachments map[string][]byte
	listErr     error
	queries     []string
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		messages:    map[string]*gmail.Message{},
		attachments: map[string][]byte{},
	}
}

// add appends msg to the listing. ListRecent returns messages in the order added.
func (m *fakeMailbox) add(msg *gmail.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, msg.ID)
	m.messages[msg.ID] = msg
}

func (m *fakeMailbox) attach(messageID, attachmentID string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attachments[messageID+"/"+attachmentID] = data
}

func (m *fakeMailbox) ListRecent(_ context.Context, query string, max int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, query)
	if m.listErr != nil {
		return nil, m.listErr
	}
	ids := append([]string(nil), m.ids...)
	if int64(len(ids)) > max {
		ids = ids[:max]
	}
	return ids, nil
}

func (m *fakeMailbox) FetchMessage(_ context.Context, id string) (*gmail.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, gmail.ErrNotFound)
	}
	return msg, nil
}

func (m *fakeMailbox) FetchAttachment(_ context.Context, messageID, attachmentID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.attachments[messageID+"/"+attachmentID]
	if !ok {
		return nil, fmt.Errorf("attachment %s: %w", attachmentID, gmail.ErrNotFound)
	}
	return data, nil
}

func (m *fakeMailbox) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}

type fakeBuilder struct {
	mailbox *fakeMailbox
	err     error
}

func (b *fakeBuilder) BuildClient(context.Context, oauth.TokenRecord) (gmail.Mailbox, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.mailbox, nil
}
