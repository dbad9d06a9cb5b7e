package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gmarchetti/balcao/agent/contract"
	"github.com/gmarchetti/balcao/agent/engine"
	"github.com/gmarchetti/balcao/agent/intent"
	"github.com/gmarchetti/balcao/agent/ledger"
	"github.com/gmarchetti/balcao/agent/session"
	"github.com/gmarchetti/balcao/agent/stage"
)

type scriptedChat struct {
	mu      sync.Mutex
	replies []contract.Completion
	calls   int
}

func (s *scriptedChat) Complete(ctx context.Context, req contract.CompletionRequest) (contract.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.replies) == 0 {
		return contract.Completion{Content: "ok"}, nil
	}
	next := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return next, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingNotifier) SendText(ctx context.Context, customerID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return nil
}

func (r *recordingNotifier) SendImage(ctx context.Context, customerID, imageURL, caption string) error {
	return nil
}

func (r *recordingNotifier) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.texts))
	copy(out, r.texts)
	return out
}

type nopCart struct{}

func (nopCart) Add(ctx context.Context, customerID, productID, productName string, unitPrice float64, quantity int) (contract.Cart, error) {
	return contract.Cart{}, nil
}
func (nopCart) Remove(ctx context.Context, customerID, productID string) (contract.Cart, error) {
	return contract.Cart{}, nil
}
func (nopCart) SetQuantity(ctx context.Context, customerID, productID string, quantity int) (contract.Cart, error) {
	return contract.Cart{}, nil
}
func (nopCart) View(ctx context.Context, customerID string) (contract.Cart, error) {
	return contract.Cart{Empty: true}, nil
}
func (nopCart) Clear(ctx context.Context, customerID string) error { return nil }

type nopProducts struct{}

func (nopProducts) Search(ctx context.Context, term string, limit int) ([]contract.Product, error) {
	return nil, nil
}
func (nopProducts) ByID(ctx context.Context, id string) (contract.Product, error) {
	return contract.Product{}, contract.ErrNotFound
}

type nopShipping struct{}

func (nopShipping) Quote(ctx context.Context, address string, weightKG float64) ([]contract.ShippingOption, error) {
	return nil, nil
}

type nopOrders struct{}

func (nopOrders) Checkout(ctx context.Context, customerID, paymentMethod string) (contract.Order, error) {
	return contract.Order{}, nil
}
func (nopOrders) Status(ctx context.Context, orderNumber string) (contract.Order, error) {
	return contract.Order{}, nil
}
func (nopOrders) History(ctx context.Context, customerID string, limit int) ([]contract.CartItem, error) {
	return nil, nil
}

type nopEscalator struct{}

func (nopEscalator) Escalate(ctx context.Context, customerID, reason, detail string) error {
	return nil
}

func newTestService(t *testing.T, chat contract.ChatClient, notifier contract.Notifier) (*Service, *session.Arbiter, *ledger.MemoryStore) {
	t.Helper()

	registry, err := engine.DefaultRegistry(engine.Collaborators{
		Products: nopProducts{},
		Cart:     nopCart{},
		Shipping: nopShipping{},
		Orders:   nopOrders{},
		Notifier: notifier,
		Escalate: nopEscalator{},
	})
	if err != nil {
		t.Fatalf("DefaultRegistry: %v", err)
	}

	store := ledger.NewMemoryStore()
	arbiter := session.NewArbiter(session.Config{
		MaxBuffered:  3,
		Window:       500 * time.Millisecond,
		RecheckDelay: 100 * time.Millisecond,
	})
	tracker := stage.NewTracker()

	svc := New(
		arbiter,
		engine.New(chat, registry, store, engine.Config{}),
		intent.NewResolver(nil),
		tracker,
		stage.NewEvaluator(tracker, ""),
		store,
		notifier,
		Config{},
	)
	return svc, arbiter, store
}

func TestHandleInboundDropsGroupAndEmpty(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, _, _ := newTestService(t, &scriptedChat{}, notifier)

	msgs := []contract.InboundMessage{
		{CustomerID: "5511999", Text: "oi", GroupMessage: true},
		{CustomerID: "5511999", Text: "   "},
	}
	for _, m := range msgs {
		if err := svc.HandleInbound(context.Background(), m); err != nil {
			t.Fatalf("HandleInbound: %v", err)
		}
	}
	if len(notifier.sent()) != 0 {
		t.Fatalf("sent = %v, want nothing", notifier.sent())
	}
}

func TestHandleInboundCustomerTurn(t *testing.T) {
	chat := &scriptedChat{replies: []contract.Completion{
		{Content: "Temos queijo canastra e doce de leite."},
	}}
	notifier := &recordingNotifier{}
	svc, arbiter, store := newTestService(t, chat, notifier)

	err := svc.HandleInbound(context.Background(), contract.InboundMessage{
		CustomerID: "5511999",
		Text:       "quais queijos vocês têm?",
	})
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	sent := notifier.sent()
	if len(sent) != 1 || !strings.Contains(sent[0], "queijo canastra") {
		t.Fatalf("sent = %v", sent)
	}

	msgs, err := store.LoadRecent(context.Background(), "5511999", 0)
	if err != nil {
		t.Fatalf("LoadRecent: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("ledger entries = %d, want 2", len(msgs))
	}

	if s := arbiter.Snapshot("5511999"); s.LastAutomatedMessageAt.IsZero() {
		t.Fatal("automated reply timestamp not noted")
	}
}

func TestHandleInboundDebounceBurst(t *testing.T) {
	chat := &scriptedChat{replies: []contract.Completion{{Content: "Anotei tudo."}}}
	notifier := &recordingNotifier{}
	svc, _, _ := newTestService(t, chat, notifier)

	var wg sync.WaitGroup
	for _, text := range []string{"oi", "tem queijo canastra?", "meia peça"} {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			_ = svc.HandleInbound(context.Background(), contract.InboundMessage{
				CustomerID: "5511999",
				Text:       text,
			})
		}(text)
	}
	wg.Wait()

	// The burst collapses into a single combined turn.
	if got := len(notifier.sent()); got != 1 {
		t.Fatalf("deliveries = %d, want 1", got)
	}
	if chat.calls != 1 {
		t.Fatalf("model calls = %d, want 1", chat.calls)
	}
}

func TestHandleInboundOperatorCommand(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, arbiter, _ := newTestService(t, &scriptedChat{}, notifier)

	err := svc.HandleInbound(context.Background(), contract.InboundMessage{
		CustomerID:   "5511999",
		Text:         "/pausar",
		FromOperator: true,
		OperatorID:   "maria",
	})
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	if s := arbiter.Snapshot("5511999"); s.Mode != session.ModeSuspended {
		t.Fatalf("mode = %s, want suspended", s.Mode)
	}
	sent := notifier.sent()
	if len(sent) != 1 || !strings.Contains(sent[0], "pausado") {
		t.Fatalf("sent = %v", sent)
	}
}

func TestHandleInboundHumanModeGatesEngine(t *testing.T) {
	chat := &scriptedChat{}
	notifier := &recordingNotifier{}
	svc, arbiter, store := newTestService(t, chat, notifier)

	// Operator takes over with a marker, not a command.
	err := svc.HandleInbound(context.Background(), contract.InboundMessage{
		CustomerID:   "5511999",
		Text:         "[HUMANO] deixa comigo",
		FromOperator: true,
		OperatorID:   "maria",
	})
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if s := arbiter.Snapshot("5511999"); s.Mode != session.ModeHuman {
		t.Fatalf("mode = %s, want human", s.Mode)
	}

	err = svc.HandleInbound(context.Background(), contract.InboundMessage{
		CustomerID: "5511999",
		Text:       "tem queijo?",
	})
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	if chat.calls != 0 {
		t.Fatal("engine ran while a human owned the conversation")
	}
	if len(notifier.sent()) != 0 {
		t.Fatalf("sent = %v, want nothing", notifier.sent())
	}

	// The gated message still lands in the ledger.
	msgs, err := store.LoadRecent(context.Background(), "5511999", 0)
	if err != nil {
		t.Fatalf("LoadRecent: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != contract.RoleUser || msgs[0].Content != "tem queijo?" {
		t.Fatalf("ledger = %+v", msgs)
	}
}

// The channel webhook delivers the bot's own outbound sends back with
// fromMe set. That echo must not read as a human takeover, or the
// agent would mute itself after every reply.
func TestHandleInboundEchoedReplyKeepsAutomatedMode(t *testing.T) {
	chat := &scriptedChat{replies: []contract.Completion{
		{Content: "Temos queijo canastra e doce de leite."},
	}}
	notifier := &recordingNotifier{}
	svc, arbiter, _ := newTestService(t, chat, notifier)

	err := svc.HandleInbound(context.Background(), contract.InboundMessage{
		CustomerID: "5511999",
		Text:       "quais queijos vocês têm?",
	})
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	// The reply comes back through the webhook as operator traffic.
	err = svc.HandleInbound(context.Background(), contract.InboundMessage{
		CustomerID:   "5511999",
		Text:         "Temos queijo canastra e doce de leite.",
		FromOperator: true,
	})
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if s := arbiter.Snapshot("5511999"); s.Mode != session.ModeAutomated {
		t.Fatalf("mode after echo = %s, want automated", s.Mode)
	}

	// The next customer message still gets an automated answer.
	err = svc.HandleInbound(context.Background(), contract.InboundMessage{
		CustomerID: "5511999",
		Text:       "tem doce de leite em pote?",
	})
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if chat.calls != 2 {
		t.Fatalf("model calls = %d, want 2", chat.calls)
	}
	if got := len(notifier.sent()); got != 2 {
		t.Fatalf("deliveries = %d, want 2", got)
	}
}

func TestHandleInboundEmptyModelReplyGetsSafeText(t *testing.T) {
	chat := &scriptedChat{replies: []contract.Completion{{Content: ""}}}
	notifier := &recordingNotifier{}
	svc, _, _ := newTestService(t, chat, notifier)

	err := svc.HandleInbound(context.Background(), contract.InboundMessage{
		CustomerID: "5511999",
		Text:       "quais queijos vocês têm?",
	})
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	sent := notifier.sent()
	if len(sent) != 1 || sent[0] != stage.SafeTextBrokenResponse {
		t.Fatalf("sent = %v, want safe fallback", sent)
	}
}
