// Package session arbitrates control of each conversation between the
// automated responder and human operators, and debounces inbound
// message bursts into single logical turns.
package session

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gmarchetti/balcao/agent/contract"
)

// Mode says who owns a conversation right now.
type Mode string

const (
	ModeAutomated Mode = "automated"
	ModeHuman     Mode = "human"
	ModeSuspended Mode = "suspended"
)

// Session is the per-customer control state. Mutated only by the
// Arbiter, under that customer's lock.
type Session struct {
	CustomerID             string
	Mode                   Mode
	OperatorID             string
	LastCustomerMessageAt  time.Time
	LastHumanMessageAt     time.Time
	LastAutomatedMessageAt time.Time
	SuspendedAt            time.Time
	SuspendedBy            string
}

// Config tunes the arbiter. The debounce thresholds are deliberately
// configuration rather than constants.
type Config struct {
	MaxBuffered     int           `envconfig:"MAX_BUFFERED" split_words:"true" default:"3"`
	Window          time.Duration `envconfig:"WINDOW" split_words:"true" default:"5s"`
	RecheckDelay    time.Duration `envconfig:"RECHECK_DELAY" split_words:"true" default:"5s"`
	AutoResumeAfter time.Duration `envconfig:"AUTO_RESUME_AFTER" split_words:"true" default:"5m"`
}

func (c Config) withDefaults() Config {
	if c.MaxBuffered <= 0 {
		c.MaxBuffered = 3
	}
	if c.Window <= 0 {
		c.Window = 5 * time.Second
	}
	if c.RecheckDelay <= 0 {
		c.RecheckDelay = c.Window
	}
	if c.AutoResumeAfter <= 0 {
		c.AutoResumeAfter = 5 * time.Minute
	}
	return c
}

// Patterns in operator-sent text that mean a human has taken over even
// without an explicit command.
var humanOverridePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\[HUMANO\]`),
	regexp.MustCompile(`(?i)^\[ATENDENTE\]`),
	regexp.MustCompile(`(?i)^@agente pause`),
	regexp.MustCompile(`(?i)^@bot pare`),
}

// Arbiter owns the session map, the debounce buffers, and the lazy
// per-customer lock map. All state is in-memory; mutations cannot fail.
type Arbiter struct {
	cfg Config
	now func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	sessions map[string]*Session
	windows  map[string]*window
	genSeq   int64
}

func NewArbiter(cfg Config) *Arbiter {
	return &Arbiter{
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
		sessions: make(map[string]*Session),
		windows:  make(map[string]*window),
	}
}

// lockFor returns the customer's mutex, creating it on first use.
// Locks are never destroyed.
func (a *Arbiter) lockFor(customerID string) *sync.Mutex {
	a.locksMu.Lock()
	defer a.locksMu.Unlock()
	mu, ok := a.locks[customerID]
	if !ok {
		mu = &sync.Mutex{}
		a.locks[customerID] = mu
	}
	return mu
}

// session returns the live session, creating it lazily. Caller must
// hold the customer's lock.
func (a *Arbiter) session(customerID string) *Session {
	s, ok := a.sessions[customerID]
	if !ok {
		s = &Session{CustomerID: customerID, Mode: ModeAutomated}
		a.sessions[customerID] = s
	}
	return s
}

// Snapshot returns a copy of the customer's session state.
func (a *Arbiter) Snapshot(customerID string) Session {
	mu := a.lockFor(customerID)
	mu.Lock()
	defer mu.Unlock()
	return *a.session(customerID)
}

func (a *Arbiter) NoteCustomerMessage(customerID string) {
	mu := a.lockFor(customerID)
	mu.Lock()
	defer mu.Unlock()
	a.session(customerID).LastCustomerMessageAt = a.now()
}

// NoteOperatorMessage records human activity on the thread. It never
// changes the session mode: the channel webhook echoes the bot's own
// outbound sends back as operator traffic, so a mode change here would
// let the agent mute itself after every reply. Takeover happens only
// through commands or explicit override markers.
func (a *Arbiter) NoteOperatorMessage(customerID, operatorID string) {
	mu := a.lockFor(customerID)
	mu.Lock()
	defer mu.Unlock()
	s := a.session(customerID)
	s.LastHumanMessageAt = a.now()
	if s.Mode == ModeHuman && operatorID != "" {
		s.OperatorID = operatorID
	}
}

func (a *Arbiter) NoteAutomatedMessage(customerID string) {
	mu := a.lockFor(customerID)
	mu.Lock()
	defer mu.Unlock()
	a.session(customerID).LastAutomatedMessageAt = a.now()
}

// TurnGate reports whether the automated responder may act, returning
// the blocking reason. While a human holds the conversation it also
// auto-promotes back to automated once the operator has been silent
// past the threshold, so a forgotten takeover cannot silence a
// customer forever. Suspension never expires on its own.
func (a *Arbiter) TurnGate(customerID string) error {
	mu := a.lockFor(customerID)
	mu.Lock()
	defer mu.Unlock()

	s := a.session(customerID)
	switch s.Mode {
	case ModeAutomated:
		return nil
	case ModeHuman:
		if !s.LastHumanMessageAt.IsZero() && a.now().Sub(s.LastHumanMessageAt) > a.cfg.AutoResumeAfter {
			log.Info().Str("customer", customerID).Msg("operator inactive, auto-resuming automated mode")
			a.setMode(s, ModeAutomated, "")
			return nil
		}
		return fmt.Errorf("%w: %s", contract.ErrHumanActive, s.OperatorID)
	default:
		return contract.ErrSessionSuspended
	}
}

// IsAutomatedTurnAllowed is TurnGate without the reason.
func (a *Arbiter) IsAutomatedTurnAllowed(customerID string) bool {
	return a.TurnGate(customerID) == nil
}

// DetectHumanOverride recognizes literal takeover markers in
// operator-sent text.
func (a *Arbiter) DetectHumanOverride(text string) bool {
	for _, p := range humanOverridePatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// ForceHuman puts the conversation in human mode without a command.
func (a *Arbiter) ForceHuman(customerID, operatorID string) {
	mu := a.lockFor(customerID)
	mu.Lock()
	defer mu.Unlock()
	a.setMode(a.session(customerID), ModeHuman, operatorID)
}

// setMode applies the mode invariants: OperatorID only survives in
// human mode, suspension metadata only in suspended mode. Caller must
// hold the customer's lock.
func (a *Arbiter) setMode(s *Session, mode Mode, operatorID string) {
	s.Mode = mode
	switch mode {
	case ModeHuman:
		if operatorID != "" {
			s.OperatorID = operatorID
		}
		s.SuspendedAt = time.Time{}
		s.SuspendedBy = ""
	case ModeSuspended:
		s.OperatorID = ""
		s.SuspendedAt = a.now()
		s.SuspendedBy = operatorID
	default:
		s.OperatorID = ""
		s.SuspendedAt = time.Time{}
		s.SuspendedBy = ""
	}
}

// ---------------------------------------------------------------------
// Operator commands

// CommandResult is the outcome of an operator control command.
type CommandResult struct {
	OK           bool
	Reply        string
	PreviousMode Mode
	CurrentMode  Mode
}

// IsCommand reports whether an operator message is a control command.
func IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}

var commandHelp = []struct{ name, desc string }{
	{"/pausar", "Pausa o agente para essa conversa"},
	{"/retomar", "Retoma o agente para essa conversa"},
	{"/assumir", "Humano assume o atendimento"},
	{"/liberar", "Libera a conversa de volta para o agente"},
	{"/status", "Mostra o status atual da sessao"},
	{"/help", "Lista os comandos disponiveis"},
}

// RouteCommand processes one operator control command. Unknown
// commands fail without touching the session mode.
func (a *Arbiter) RouteCommand(customerID, command, operatorID string) CommandResult {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(command)))
	if len(fields) == 0 {
		return CommandResult{OK: false, Reply: "Comando vazio. Use /help para ver os comandos."}
	}

	mu := a.lockFor(customerID)
	mu.Lock()
	defer mu.Unlock()

	s := a.session(customerID)
	prev := s.Mode

	switch fields[0] {
	case "/pausar":
		a.setMode(s, ModeSuspended, operatorID)
		log.Info().Str("customer", customerID).Str("operator", operatorID).Msg("session suspended")
		return CommandResult{OK: true, Reply: "Agente pausado. Use /retomar para reativar.", PreviousMode: prev, CurrentMode: ModeSuspended}
	case "/retomar", "/liberar":
		a.setMode(s, ModeAutomated, "")
		log.Info().Str("customer", customerID).Str("operator", operatorID).Msg("session resumed")
		return CommandResult{OK: true, Reply: "Agente retomado. Voltarei a responder automaticamente.", PreviousMode: prev, CurrentMode: ModeAutomated}
	case "/assumir":
		a.setMode(s, ModeHuman, operatorID)
		s.LastHumanMessageAt = a.now()
		log.Info().Str("customer", customerID).Str("operator", operatorID).Msg("human takeover")
		who := operatorID
		if who == "" {
			who = "humano"
		}
		return CommandResult{OK: true, Reply: fmt.Sprintf("Atendimento assumido por %s. Agente pausado.", who), PreviousMode: prev, CurrentMode: ModeHuman}
	case "/status":
		return CommandResult{OK: true, Reply: a.statusText(s), PreviousMode: prev, CurrentMode: s.Mode}
	case "/help":
		var b strings.Builder
		b.WriteString("Comandos disponiveis:\n")
		for _, c := range commandHelp {
			fmt.Fprintf(&b, "%s - %s\n", c.name, c.desc)
		}
		return CommandResult{OK: true, Reply: strings.TrimSpace(b.String()), PreviousMode: prev, CurrentMode: s.Mode}
	default:
		return CommandResult{
			OK:           false,
			Reply:        fmt.Sprintf("Comando desconhecido: %s\nUse /help para ver os comandos.", fields[0]),
			PreviousMode: prev,
			CurrentMode:  s.Mode,
		}
	}
}

func (a *Arbiter) statusText(s *Session) string {
	operator := s.OperatorID
	if operator == "" {
		operator = "nenhum"
	}
	return fmt.Sprintf(
		"Status da sessao\nCliente: %s\nModo: %s\nAtendente: %s\nUltima msg cliente: %s\nUltima msg agente: %s\nUltima msg humano: %s",
		s.CustomerID,
		strings.ToUpper(string(s.Mode)),
		operator,
		a.formatAge(s.LastCustomerMessageAt),
		a.formatAge(s.LastAutomatedMessageAt),
		a.formatAge(s.LastHumanMessageAt),
	)
}

func (a *Arbiter) formatAge(t time.Time) string {
	if t.IsZero() {
		return "nunca"
	}
	d := a.now().Sub(t)
	switch {
	case d < time.Minute:
		return "agora"
	case d < time.Hour:
		return fmt.Sprintf("%dmin atras", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh atras", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd atras", int(d.Hours()/24))
	}
}
