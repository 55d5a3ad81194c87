package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/oauth2"

	"github.com/teemow/inboxbell/internal/logging"
	"github.com/teemow/inboxbell/internal/oauth"
)

const (
	// LinkedText is sent to a chat once its mailbox is linked.
	LinkedText = "✅ Linked Gmail successfully. Send /summarize here to see your latest emails."

	// DefaultTestSendText is used by /telegram/test_send without a text parameter.
	DefaultTestSendText = "Hello from backend"

	maxWebhookBody = 1 << 20
)

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type callbackResponse struct {
	Status      string `json:"status"`
	HaveRefresh bool   `json:"have_refresh"`
	LinkedChat  *int64 `json:"linked_chat"`
}

type tokensResponse struct {
	Authenticated bool                  `json:"authenticated"`
	Meta          *oauth.RedactedRecord `json:"meta,omitempty"`
}

type refreshResponse struct {
	Status string               `json:"status"`
	Meta   oauth.RedactedRecord `json:"meta"`
}

type testSendResponse struct {
	Sent   bool   `json:"sent"`
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
	Error  string `json:"error,omitempty"`
}

type webhookInfoResponse struct {
	OK     bool                 `json:"ok"`
	Result tgbotapi.WebhookInfo `json:"result"`
}

func (s *HTTPServer) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /auth/google", s.limit(http.HandlerFunc(s.handleLogin)))
	mux.Handle("GET /auth/google/callback", s.limit(http.HandlerFunc(s.handleCallback)))
	mux.Handle("GET /oauth2/callback", s.limit(http.HandlerFunc(s.handleCallback)))
	mux.Handle("GET /auth/google/tokens", s.limit(http.HandlerFunc(s.handleTokens)))
	mux.Handle("GET /auth/google/refresh", s.limit(http.HandlerFunc(s.handleRefresh)))
	mux.Handle("POST /auth/google/refresh", s.limit(http.HandlerFunc(s.handleRefresh)))

	mux.Handle("POST /telegram/webhook", s.limit(http.HandlerFunc(s.handleWebhook)))
	mux.Handle("GET /telegram/set_webhook", s.limit(http.HandlerFunc(s.handleSetWebhook)))
	mux.Handle("GET /telegram/delete_webhook", s.limit(http.HandlerFunc(s.handleDeleteWebhook)))
	mux.Handle("GET /telegram/webhook_info", s.limit(http.HandlerFunc(s.handleWebhookInfo)))
	mux.Handle("GET /telegram/test_send", s.limit(http.HandlerFunc(s.handleTestSend)))

	s.mailRoutes(mux)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, statusResponse{Status: healthStatusOK})
	})
	s.health.RegisterHealthEndpoints(mux)

	return s.instrument(securityHeaders(mux))
}

// handleLogin redirects to the Google consent page. With tg_id the login is
// bound to that chat through the state parameter.
func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	provider := s.sc.Provider()
	if provider == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "OAuth is not configured"})
		return
	}

	raw := r.URL.Query().Get("tg_id")
	if raw == "" {
		http.Redirect(w, r, provider.AnonymousConsentURL(), http.StatusFound)
		return
	}

	tenant, err := oauth.ParseTenantID(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Provide numeric tg_id"})
		return
	}
	http.Redirect(w, r, provider.ConsentURL(tenant), http.StatusFound)
}

func (s *HTTPServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: e})
		return
	}
	code := q.Get("code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Missing code"})
		return
	}

	provider := s.sc.Provider()
	if provider == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "OAuth is not configured"})
		return
	}

	rec, err := provider.Exchange(r.Context(), code)
	if err != nil {
		s.logger.Warn("OAuth code exchange failed", logging.Err(err))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Token exchange failed", Details: exchangeDetails(err)})
		return
	}

	resp := callbackResponse{Status: "oauth_success", HaveRefresh: rec.HasRefreshToken()}
	if tenant, ok := oauth.ParseState(q.Get("state")); ok {
		s.sc.RecordLogin(tenant, rec)
		id := int64(tenant)
		resp.LinkedChat = &id

		if err := s.notifier.Send(r.Context(), tenant, LinkedText); err != nil {
			s.logger.Warn("Failed to confirm login in chat", logging.Tenant(id), logging.Err(err))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// exchangeDetails returns the token endpoint's response body when there is one.
func exchangeDetails(err error) string {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && len(rerr.Body) > 0 {
		return string(rerr.Body)
	}
	return err.Error()
}

func (s *HTTPServer) handleTokens(w http.ResponseWriter, r *http.Request) {
	tenant, err := oauth.ParseTenantID(r.URL.Query().Get("tg_id"))
	if err != nil {
		writeJSON(w, http.StatusOK, tokensResponse{Authenticated: false})
		return
	}

	meta, ok := s.sc.GetTokens(tenant)
	if !ok {
		writeJSON(w, http.StatusOK, tokensResponse{Authenticated: false})
		return
	}
	writeJSON(w, http.StatusOK, tokensResponse{Authenticated: true, Meta: &meta})
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	tenant, err := oauth.ParseTenantID(r.URL.Query().Get("tg_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Provide numeric tg_id"})
		return
	}

	meta, ok := s.sc.GetTokens(tenant)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Not linked"})
		return
	}
	if !meta.HaveRefresh {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "No refresh token"})
		return
	}

	meta, err = s.sc.RefreshTokens(r.Context(), tenant)
	switch {
	case errors.Is(err, oauth.ErrNotLinked):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Not linked"})
	case err != nil:
		s.logger.Warn("Token refresh failed", logging.Tenant(int64(tenant)), logging.Err(err))
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "Refresh failed", Details: err.Error()})
	default:
		writeJSON(w, http.StatusOK, refreshResponse{Status: "refreshed", Meta: meta})
	}
}

// handleWebhook receives one Telegram update, runs the command and sends
// the reply back to the chat. Updates without a chat are acknowledged and dropped.
func (s *HTTPServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var update tgbotapi.Update
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&update); err != nil {
		s.logger.Debug("Ignoring undecodable update", logging.Err(err))
		writeJSON(w, http.StatusOK, statusResponse{Status: "ignored"})
		return
	}

	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.Chat.ID == 0 {
		writeJSON(w, http.StatusOK, statusResponse{Status: "ignored"})
		return
	}

	tenant := oauth.TenantID(msg.Chat.ID)
	reply := s.sc.HandleCommand(r.Context(), tenant, strings.TrimSpace(msg.Text))
	if reply != "" {
		if err := s.notifier.Send(r.Context(), tenant, reply); err != nil {
			s.logger.Warn("Failed to send reply", logging.Tenant(int64(tenant)), logging.Err(err))
		}
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *HTTPServer) handleSetWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.requireWebhooks(w) {
		return
	}
	url := r.URL.Query().Get("url")
	if url == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Provide ?url=https://your.domain/telegram/webhook"})
		return
	}

	resp, err := s.webhooks.SetWebhook(url)
	s.writeAPIResponse(w, resp, err)
}

func (s *HTTPServer) handleDeleteWebhook(w http.ResponseWriter, _ *http.Request) {
	if !s.requireWebhooks(w) {
		return
	}
	resp, err := s.webhooks.DeleteWebhook()
	s.writeAPIResponse(w, resp, err)
}

func (s *HTTPServer) handleWebhookInfo(w http.ResponseWriter, _ *http.Request) {
	if !s.requireWebhooks(w) {
		return
	}
	info, err := s.webhooks.WebhookInfo()
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, webhookInfoResponse{OK: true, Result: info})
}

func (s *HTTPServer) handleTestSend(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	raw := q.Get("chat_id")
	if raw == "" {
		raw = "0"
	}
	tenant, err := oauth.ParseTenantID(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Provide numeric chat_id"})
		return
	}
	text := q.Get("text")
	if text == "" {
		text = DefaultTestSendText
	}

	resp := testSendResponse{Sent: true, ChatID: int64(tenant), Text: text}
	if err := s.notifier.Send(r.Context(), tenant, text); err != nil {
		resp.Sent = false
		resp.Error = err.Error()
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) requireWebhooks(w http.ResponseWriter) bool {
	if s.webhooks == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "Telegram is not configured"})
		return false
	}
	return true
}

// writeAPIResponse relays the Bot API answer, or a 502 when the call failed.
func (s *HTTPServer) writeAPIResponse(w http.ResponseWriter, resp *tgbotapi.APIResponse, err error) {
	if err != nil {
		s.logger.Warn("Telegram webhook call failed", logging.Err(err))
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
