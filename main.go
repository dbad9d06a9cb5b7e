package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gmarchetti/balcao/agent/contract"
	"github.com/gmarchetti/balcao/agent/engine"
	"github.com/gmarchetti/balcao/agent/intent"
	"github.com/gmarchetti/balcao/agent/ledger"
	"github.com/gmarchetti/balcao/agent/orchestrator"
	"github.com/gmarchetti/balcao/agent/session"
	"github.com/gmarchetti/balcao/agent/stage"
	configx "github.com/gmarchetti/balcao/pkg/config"
	llmx "github.com/gmarchetti/balcao/pkg/llm"
	_ "github.com/gmarchetti/balcao/pkg/logger/autoload"
	zapix "github.com/gmarchetti/balcao/pkg/zapi"
)

type AppConfig struct {
	ListenAddr    string `envconfig:"LISTEN_ADDR" split_words:"true" default:":8080"`
	AttendantName string `envconfig:"ATTENDANT_NAME" split_words:"true" default:"Guilherme"`
}

func main() {
	appCfg := configx.MustNew[AppConfig]("")

	store := buildStore()
	chat := buildChatClient()
	notifier := buildNotifier()

	registry, err := engine.DefaultRegistry(engine.Collaborators{
		Products: unconfiguredBackend{},
		Cart:     unconfiguredBackend{},
		Shipping: unconfiguredBackend{},
		Orders:   unconfiguredBackend{},
		Notifier: notifier,
		Escalate: logEscalator{},
	})
	if err != nil {
		panic(fmt.Sprintf("tool registry: %v", err))
	}

	arbiter := session.NewArbiter(*configx.MustNew[session.Config]("SESSION"))
	tracker := stage.NewTracker()
	svc := orchestrator.New(
		arbiter,
		engine.New(chat, registry, store, *configx.MustNew[engine.Config]("ENGINE")),
		intent.NewResolver(chat),
		tracker,
		stage.NewEvaluator(tracker, appCfg.AttendantName),
		store,
		notifier,
		*configx.MustNew[orchestrator.Config]("ORCHESTRATOR"),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /webhook/zapi", func(w http.ResponseWriter, r *http.Request) {
		var payload zapix.WebhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
			return
		}
		// Ack immediately; the debounce window outlives the webhook
		// request by design.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if err := svc.HandleInbound(ctx, payload.ToInbound()); err != nil {
				log.Error().Err(err).Str("customer", payload.Phone).Msg("inbound handling failed")
			}
		}()
		writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
	})
	mux.HandleFunc("POST /sessions/command", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			CustomerID string `json:"customer_id"`
			Command    string `json:"command"`
			OperatorID string `json:"operator_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.CustomerID == "" || body.Command == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "customer_id and command are required"})
			return
		}
		res := svc.RouteCommand(body.CustomerID, body.Command, body.OperatorID)
		status := http.StatusOK
		if !res.OK {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, map[string]any{
			"ok":            res.OK,
			"reply":         res.Reply,
			"previous_mode": res.PreviousMode,
			"current_mode":  res.CurrentMode,
		})
	})

	server := &http.Server{
		Addr:              appCfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", appCfg.ListenAddr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
}

// buildStore picks Postgres when DATABASE_URL is set, otherwise an
// in-memory ledger for DB-less local runs.
func buildStore() ledger.Store {
	if os.Getenv("DATABASE_URL") == "" {
		log.Warn().Msg("DATABASE_URL not set, conversation ledger is in-memory only")
		return ledger.NewMemoryStore()
	}
	store, err := ledger.NewPostgresStore(*configx.MustNew[ledger.DBConfig]("DATABASE"))
	if err != nil {
		panic(fmt.Sprintf("ledger store: %v", err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.Migrate(ctx); err != nil {
		panic(fmt.Sprintf("ledger migrate: %v", err))
	}
	return store
}

func buildChatClient() contract.ChatClient {
	chat, err := llmx.New(*configx.MustNew[llmx.Config]("LLM"))
	if err != nil {
		panic(fmt.Sprintf("llm client: %v", err))
	}
	return chat
}

func buildNotifier() contract.Notifier {
	notifier, err := zapix.NewClient(*configx.MustNew[zapix.Config]("ZAPI"))
	if err != nil {
		panic(fmt.Sprintf("zapi client: %v", err))
	}
	return notifier
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// unconfiguredBackend satisfies the commerce collaborator interfaces
// until a real backend is wired in. Every call fails with a readable
// error, which the tool registry turns into an error payload the
// model can relay.
type unconfiguredBackend struct{}

var errBackendUnavailable = errors.New("backend de produtos nao configurado")

func (unconfiguredBackend) Search(ctx context.Context, term string, limit int) ([]contract.Product, error) {
	return nil, errBackendUnavailable
}
func (unconfiguredBackend) ByID(ctx context.Context, id string) (contract.Product, error) {
	return contract.Product{}, errBackendUnavailable
}
func (unconfiguredBackend) Add(ctx context.Context, customerID, productID, productName string, unitPrice float64, quantity int) (contract.Cart, error) {
	return contract.Cart{}, errBackendUnavailable
}
func (unconfiguredBackend) Remove(ctx context.Context, customerID, productID string) (contract.Cart, error) {
	return contract.Cart{}, errBackendUnavailable
}
func (unconfiguredBackend) SetQuantity(ctx context.Context, customerID, productID string, quantity int) (contract.Cart, error) {
	return contract.Cart{}, errBackendUnavailable
}
func (unconfiguredBackend) View(ctx context.Context, customerID string) (contract.Cart, error) {
	return contract.Cart{}, errBackendUnavailable
}
func (unconfiguredBackend) Clear(ctx context.Context, customerID string) error {
	return errBackendUnavailable
}
func (unconfiguredBackend) Quote(ctx context.Context, address string, weightKG float64) ([]contract.ShippingOption, error) {
	return nil, errBackendUnavailable
}
func (unconfiguredBackend) Checkout(ctx context.Context, customerID, paymentMethod string) (contract.Order, error) {
	return contract.Order{}, errBackendUnavailable
}
func (unconfiguredBackend) Status(ctx context.Context, orderNumber string) (contract.Order, error) {
	return contract.Order{}, errBackendUnavailable
}
func (unconfiguredBackend) History(ctx context.Context, customerID string, limit int) ([]contract.CartItem, error) {
	return nil, errBackendUnavailable
}

// logEscalator records escalation requests until an operator channel
// is wired in.
type logEscalator struct{}

func (logEscalator) Escalate(ctx context.Context, customerID, reason, detail string) error {
	log.Warn().
		Str("customer", customerID).
		Str("reason", reason).
		Str("detail", detail).
		Msg("escalation requested")
	return nil
}
