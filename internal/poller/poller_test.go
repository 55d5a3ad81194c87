package poller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/inboxbell/internal/dedup"
	"github.com/teemow/inboxbell/internal/gmail"
	"github.com/teemow/inboxbell/internal/oauth"
)

type fakeMailbox struct {
	mu        sync.Mutex
	ids       []string
	messages  map[string]*gmail.Message
	listErr   error
	panicList bool
	fetches   []string
}

func (m *fakeMailbox) ListRecent(ctx context.Context, query string, maxResults int64) ([]string, error) {
	if m.panicList {
		panic("mailbox exploded")
	}
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.ids, nil
}

func (m *fakeMailbox) FetchMessage(ctx context.Context, id string) (*gmail.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches = append(m.fetches, id)

	msg, ok := m.messages[id]
	if !ok {
		return nil, gmail.ErrNotFound
	}
	return msg, nil
}

func (m *fakeMailbox) FetchAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	return nil, gmail.ErrNotFound
}

func (m *fakeMailbox) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fetches)
}

// fakeBuilder maps an access token to a mailbox; unknown tokens are unavailable.
type fakeBuilder map[string]*fakeMailbox

func (b fakeBuilder) BuildClient(ctx context.Context, rec oauth.TokenRecord) (gmail.Mailbox, error) {
	mb, ok := b[rec.AccessToken]
	if !ok {
		return nil, oauth.ErrUnavailable
	}
	return mb, nil
}

type sent struct {
	tenant oauth.TenantID
	text   string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (n *fakeNotifier) Send(ctx context.Context, tenant oauth.TenantID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{tenant: tenant, text: text})
	return n.err
}

func (n *fakeNotifier) messages() []sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sent(nil), n.sent...)
}

type fixture struct {
	store    *oauth.Store
	ledger   *dedup.Ledger
	notifier *fakeNotifier
	builder  fakeBuilder
	poller   *Poller
}

func newFixture() *fixture {
	f := &fixture{
		store:    oauth.NewStore(nil),
		ledger:   dedup.NewLedger(0),
		notifier: &fakeNotifier{},
		builder:  fakeBuilder{},
	}
	f.poller = New(Config{
		Credentials: f.store,
		Builder:     f.builder,
		Ledger:      f.ledger,
		Notifier:    f.notifier,
	})
	return f
}

func (f *fixture) link(tenant oauth.TenantID, token string, mb *fakeMailbox) {
	f.store.Put(tenant, oauth.TokenRecord{AccessToken: token})
	if mb != nil {
		f.builder[token] = mb
	}
}

func TestRunCycle_NotifiesOnlyNewImportantMessage(t *testing.T) {
	f := newFixture()
	mb := &fakeMailbox{
		ids: []string{"m1", "m2"},
		messages: map[string]*gmail.Message{
			"m1": {ID: "m1", Subject: "Exam tomorrow"},
			"m2": {ID: "m2", Subject: "Midterm rescheduled to Friday", Snippet: "Room 101"},
		},
	}
	f.link(1, "tok", mb)
	f.ledger.MarkSeen(1, "m1")

	f.poller.RunCycle(context.Background())

	msgs := f.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, oauth.TenantID(1), msgs[0].tenant)
	assert.Equal(t, FormatNotification("Midterm rescheduled to Friday", "Room 101", "m2"), msgs[0].text)
	assert.Contains(t, msgs[0].text, "Use /email m2 to view details.")

	assert.False(t, f.ledger.IsNew(1, "m1"))
	assert.False(t, f.ledger.IsNew(1, "m2"))
	assert.Equal(t, 1, mb.fetchCount())
}

func TestRunCycle_SecondCycleDoesNotRenotify(t *testing.T) {
	f := newFixture()
	mb := &fakeMailbox{
		ids: []string{"m1"},
		messages: map[string]*gmail.Message{
			"m1": {ID: "m1", Subject: "Quiz on Monday"},
		},
	}
	f.link(1, "tok", mb)

	f.poller.RunCycle(context.Background())
	f.poller.RunCycle(context.Background())

	assert.Len(t, f.notifier.messages(), 1)
	assert.Equal(t, 1, mb.fetchCount())
}

func TestRunCycle_UnimportantMessageIsMarkedSeen(t *testing.T) {
	f := newFixture()
	mb := &fakeMailbox{
		ids:      []string{"m1"},
		messages: map[string]*gmail.Message{"m1": {ID: "m1", Subject: "Lunch plans"}},
	}
	f.link(1, "tok", mb)

	f.poller.RunCycle(context.Background())

	assert.Empty(t, f.notifier.messages())
	assert.False(t, f.ledger.IsNew(1, "m1"))
}

func TestRunCycle_FetchFailureIsMarkedSeen(t *testing.T) {
	f := newFixture()
	mb := &fakeMailbox{ids: []string{"gone"}, messages: map[string]*gmail.Message{}}
	f.link(1, "tok", mb)

	f.poller.RunCycle(context.Background())
	f.poller.RunCycle(context.Background())

	assert.Empty(t, f.notifier.messages())
	assert.False(t, f.ledger.IsNew(1, "gone"))
	assert.Equal(t, 1, mb.fetchCount())
}

func TestRunCycle_SendFailureKeepsMessageSeen(t *testing.T) {
	f := newFixture()
	f.notifier.err = errors.New("telegram down")
	mb := &fakeMailbox{
		ids:      []string{"m1"},
		messages: map[string]*gmail.Message{"m1": {ID: "m1", Subject: "Assignment due"}},
	}
	f.link(1, "tok", mb)

	f.poller.RunCycle(context.Background())
	f.poller.RunCycle(context.Background())

	assert.Len(t, f.notifier.messages(), 1)
	assert.False(t, f.ledger.IsNew(1, "m1"))
}

func TestRunCycle_SnippetFallsBackToBody(t *testing.T) {
	f := newFixture()
	body := "The deadline for the lab report moved. " + strings.Repeat("x", 200)
	mb := &fakeMailbox{
		ids:      []string{"m1"},
		messages: map[string]*gmail.Message{"m1": {ID: "m1", Body: body}},
	}
	f.link(1, "tok", mb)

	f.poller.RunCycle(context.Background())

	msgs := f.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, FormatNotification("(no subject)", body[:140], "m1"), msgs[0].text)
}

func TestRunCycle_IsolatesFailingTenants(t *testing.T) {
	f := newFixture()
	good := &fakeMailbox{
		ids:      []string{"m1"},
		messages: map[string]*gmail.Message{"m1": {ID: "m1", Subject: "Grades posted"}},
	}

	f.link(1, "unknown-token", nil)
	f.link(2, "panics", &fakeMailbox{panicList: true})
	f.link(3, "list-fails", &fakeMailbox{listErr: errors.New("503")})
	f.link(4, "good", good)

	f.poller.RunCycle(context.Background())

	msgs := f.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, oauth.TenantID(4), msgs[0].tenant)

	// Unavailable tenants stay linked.
	assert.Equal(t, 4, f.store.Len())
}

func TestRunCycle_EmptyListing(t *testing.T) {
	f := newFixture()
	mb := &fakeMailbox{}
	f.link(1, "tok", mb)

	f.poller.RunCycle(context.Background())

	assert.Empty(t, f.notifier.messages())
	assert.Equal(t, 0, mb.fetchCount())
}

func TestRunCycle_CancelledContextStopsEarly(t *testing.T) {
	f := newFixture()
	mb := &fakeMailbox{
		ids:      []string{"m1"},
		messages: map[string]*gmail.Message{"m1": {ID: "m1", Subject: "Exam"}},
	}
	f.link(1, "tok", mb)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.poller.RunCycle(ctx)

	assert.Empty(t, f.notifier.messages())
	assert.True(t, f.ledger.IsNew(1, "m1"))
}
