package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/inboxbell/internal/oauth"
)

// fakeBotAPI answers the Bot API methods the notifier uses and records every call.
type fakeBotAPI struct {
	mu    sync.Mutex
	calls []botCall
	// failSend makes sendMessage return ok=false.
	failSend bool
}

type botCall struct {
	method string
	form   map[string]string
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	form := make(map[string]string)
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}
	f.mu.Lock()
	f.calls = append(f.calls, botCall{method: method, form: form})
	fail := f.failSend
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch method {
	case "getMe":
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Bell","username":"bell_bot"}}`))
	case "sendMessage":
		if fail {
			_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"},"text":"x"}}`))
	case "setWebhook", "deleteWebhook":
		_, _ = w.Write([]byte(`{"ok":true,"result":true,"description":"Webhook was set"}`))
	case "getWebhookInfo":
		_, _ = w.Write([]byte(`{"ok":true,"result":{"url":"https://bell.example.com/telegram/webhook","has_custom_certificate":false,"pending_update_count":2}}`))
	default:
		_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
	}
}

func (f *fakeBotAPI) callsTo(method string) []botCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []botCall
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func newTestTelegram(t *testing.T) (*Telegram, *fakeBotAPI) {
	t.Helper()

	fake := &fakeBotAPI{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	tg, err := NewTelegram(Config{
		Token:       "123:abc",
		APIEndpoint: srv.URL + "/bot%s/%s",
		HTTPClient:  srv.Client(),
	})
	require.NoError(t, err)
	return tg, fake
}

func TestNewTelegram_RequiresToken(t *testing.T) {
	_, err := NewTelegram(Config{})
	assert.Error(t, err)
}

func TestNewTelegram_VerifiesToken(t *testing.T) {
	tg, fake := newTestTelegram(t)

	assert.Equal(t, "bell_bot", tg.Username())
	assert.Len(t, fake.callsTo("getMe"), 1)
}

func TestTelegram_Send(t *testing.T) {
	tg, fake := newTestTelegram(t)

	err := tg.Send(context.Background(), oauth.TenantID(42), "hello")
	require.NoError(t, err)

	sends := fake.callsTo("sendMessage")
	require.Len(t, sends, 1)
	assert.Equal(t, "42", sends[0].form["chat_id"])
	assert.Equal(t, "hello", sends[0].form["text"])
}

func TestTelegram_SendFailure(t *testing.T) {
	tg, fake := newTestTelegram(t)
	fake.mu.Lock()
	fake.failSend = true
	fake.mu.Unlock()

	err := tg.Send(context.Background(), oauth.TenantID(42), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestTelegram_SendTruncatesLongText(t *testing.T) {
	tg, fake := newTestTelegram(t)

	require.NoError(t, tg.Send(context.Background(), oauth.TenantID(42), strings.Repeat("a", MaxMessageLength+10)))

	sends := fake.callsTo("sendMessage")
	require.Len(t, sends, 1)
	assert.Equal(t, MaxMessageLength, len([]rune(sends[0].form["text"])))
	assert.True(t, strings.HasSuffix(sends[0].form["text"], "…"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 3))
	assert.Equal(t, "ab…", Truncate("abcd", 3))
	assert.Equal(t, "éé…", Truncate("éééé", 3))
}

func TestTelegram_Webhook(t *testing.T) {
	tg, fake := newTestTelegram(t)

	resp, err := tg.SetWebhook("https://bell.example.com/telegram/webhook")
	require.NoError(t, err)
	assert.True(t, resp.Ok)

	sets := fake.callsTo("setWebhook")
	require.Len(t, sets, 1)
	assert.Equal(t, "https://bell.example.com/telegram/webhook", sets[0].form["url"])

	resp, err = tg.DeleteWebhook()
	require.NoError(t, err)
	assert.True(t, resp.Ok)
	assert.Len(t, fake.callsTo("deleteWebhook"), 1)

	info, err := tg.WebhookInfo()
	require.NoError(t, err)
	assert.Equal(t, "https://bell.example.com/telegram/webhook", info.URL)
	assert.Equal(t, 2, info.PendingUpdateCount)
}

func TestTelegram_SetWebhookInvalidURL(t *testing.T) {
	tg, _ := newTestTelegram(t)

	_, err := tg.SetWebhook("://bad")
	assert.Error(t, err)
}
