package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/digkill/ThumbnailBot/internal/config"
	"github.com/digkill/ThumbnailBot/internal/database"
	"github.com/digkill/ThumbnailBot/internal/events"
	"github.com/digkill/ThumbnailBot/internal/lock"
	"github.com/digkill/ThumbnailBot/internal/models"
	"github.com/digkill/ThumbnailBot/internal/repository"
	"github.com/digkill/ThumbnailBot/internal/retry"
)

var testTokens = Tokens{Affirmative: "はい", Negative: "いいえ"}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLedger(t *testing.T) *repository.LedgerRepository {
	t.Helper()

	cfg := config.Config{
		DatabaseDriver: "sqlite",
		SQLitePath:     filepath.Join(t.TempDir(), "ledger.db"),
	}
	db, err := database.Connect(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	require.NoError(t, database.Migrate(context.Background(), db))

	return repository.NewLedgerRepository(db)
}

type sent struct {
	Reply  bool
	UserID string
	Msg    Message
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

// Reply and Push drop messages on a cancelled context, as the Telegram
// sender does.
func (m *fakeMessenger) Reply(ctx context.Context, ev Event, msgs ...Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		m.sent = append(m.sent, sent{Reply: true, UserID: ev.UserID, Msg: msg})
	}
	return m.err
}

func (m *fakeMessenger) Push(ctx context.Context, userID string, msgs ...Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		m.sent = append(m.sent, sent{UserID: userID, Msg: msg})
	}
	return m.err
}

func (m *fakeMessenger) all() []sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sent(nil), m.sent...)
}

func (m *fakeMessenger) last() sent {
	all := m.all()
	if len(all) == 0 {
		return sent{}
	}
	return all[len(all)-1]
}

type fakeGenerator struct {
	mu      sync.Mutex
	calls   []string
	data    []byte
	err     error
	panicOn bool
	// sentBefore records how many messages the user had received when each
	// call started.
	messenger  *fakeMessenger
	sentBefore []int
	onCall     func(ctx context.Context)
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, prompt)
	if g.messenger != nil {
		g.sentBefore = append(g.sentBefore, len(g.messenger.all()))
	}
	if g.onCall != nil {
		g.onCall(ctx)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.panicOn {
		panic("model exploded")
	}
	if g.err != nil {
		return nil, g.err
	}
	return g.data, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	attempts int
	failures int
	url      string
	types    []string
}

func (p *fakePublisher) Publish(_ context.Context, _ []byte, contentType string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	p.types = append(p.types, contentType)
	if p.attempts <= p.failures {
		return "", errors.New("bucket unavailable")
	}
	return p.url, nil
}

type fakeCheckout struct {
	url   string
	err   error
	calls int
}

func (c *fakeCheckout) CheckoutURL(context.Context, string) (string, error) {
	c.calls++
	return c.url, c.err
}

func (c *fakeCheckout) PriceLabel() string { return "980円" }
func (c *fakeCheckout) Credits() int       { return 10 }

type recordedEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordedEvents) Publish(_ context.Context, evt events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recordedEvents) list() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// fixture wires a conversation service against a real SQLite ledger and
// in-memory collaborators.
type fixture struct {
	ledger    *repository.LedgerRepository
	messenger *fakeMessenger
	generator *fakeGenerator
	publisher *fakePublisher
	checkout  *fakeCheckout
	events    *recordedEvents
	locker    *lock.MemoryLocker
	conv      *ConversationService
	users     *UserService
}

var pngData = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		ledger:    newTestLedger(t),
		messenger: &fakeMessenger{},
		generator: &fakeGenerator{data: pngData},
		publisher: &fakePublisher{url: "https://cdn.example.com/thumbnails/a.png"},
		checkout:  &fakeCheckout{url: "https://checkout.stripe.com/c/pay/cs_test"},
		events:    &recordedEvents{},
		locker:    lock.NewMemoryLocker(),
	}
	f.generator.messenger = f.messenger
	log := discardLogger()
	policy := retry.Policy{MaxAttempts: 2, Delay: time.Millisecond}

	f.users = NewUserService(log, f.ledger, f.messenger)
	generation := NewGenerationService(log, f.ledger, f.generator, f.publisher, f.messenger, f.events, policy, testTokens.Affirmative)
	f.conv = NewConversationService(log, f.ledger, f.users, generation, f.checkout, f.messenger, f.locker, testTokens)
	return f
}

func (f *fixture) send(t *testing.T, userID, text string) error {
	t.Helper()
	return f.conv.Handle(context.Background(), Event{UserID: userID, ChatID: 1, MessageID: 7, Text: text})
}

func (f *fixture) sendWithContext(ctx context.Context, userID, text string) error {
	return f.conv.Handle(ctx, Event{UserID: userID, ChatID: 1, MessageID: 7, Text: text})
}

func (f *fixture) command(t *testing.T, userID, cmd string) error {
	t.Helper()
	return f.conv.Handle(context.Background(), Event{UserID: userID, ChatID: 1, MessageID: 7, Command: cmd})
}

func (f *fixture) account(t *testing.T, userID string) *models.Account {
	t.Helper()
	account, err := f.ledger.Get(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, account)
	return account
}

// seed creates userID with the given balance and pending prompt.
func (f *fixture) seed(t *testing.T, userID string, credits int, prompt *string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.ledger.Create(ctx, userID))
	switch {
	case credits > 1:
		require.NoError(t, f.ledger.AddCredits(ctx, userID, credits-1))
	case credits == 0:
		_, err := f.ledger.DebitOneCredit(ctx, userID)
		require.NoError(t, err)
	}
	require.NoError(t, f.ledger.SetPendingPrompt(ctx, userID, prompt))
}

func strPtr(s string) *string { return &s }
