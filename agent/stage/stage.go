// Package stage tracks where each customer is in the purchase journey
// and scores generated responses against that context before delivery.
package stage

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Stage is the customer's position in the purchase journey.
type Stage string

const (
	Idle            Stage = "idle"
	Greeting        Stage = "greeting"
	Browsing        Stage = "browsing"
	ProductSelected Stage = "product_selected"
	Carting         Stage = "carting"
	ReviewingCart   Stage = "reviewing_cart"
	Checkout        Stage = "checkout"
	PostPurchase    Stage = "post_purchase"
	AskingInfo      Stage = "asking_info"
)

// validTransitions is advisory: an out-of-table transition is logged
// at warn and applied anyway, because the classifier is the source of
// truth for what the customer actually said.
var validTransitions = map[Stage][]Stage{
	Idle:            {Greeting, Browsing, AskingInfo, Carting, ReviewingCart, PostPurchase},
	Greeting:        {Browsing, AskingInfo, Carting, ReviewingCart, PostPurchase, Idle},
	Browsing:        {ProductSelected, Carting, AskingInfo, Browsing, ReviewingCart, Greeting, Idle},
	ProductSelected: {Carting, Browsing, AskingInfo, ReviewingCart, Idle},
	Carting:         {ReviewingCart, Browsing, Carting, Checkout, AskingInfo, Idle},
	ReviewingCart:   {Checkout, Browsing, Carting, AskingInfo, Idle},
	Checkout:        {PostPurchase, Browsing, ReviewingCart, Idle},
	PostPurchase:    {Browsing, AskingInfo, Greeting, Idle},
	AskingInfo:      {Browsing, Carting, AskingInfo, ReviewingCart, Checkout, Greeting, Idle},
}

// intentStageMap maps classified intents to the stage they imply.
// Intents with no entry leave the stage unchanged.
var intentStageMap = map[string]Stage{
	"atendimento_inicial":  Greeting,
	"busca_produto":        Browsing,
	"adicionar_carrinho":   Carting,
	"remover_item":         ReviewingCart,
	"alterar_quantidade":   ReviewingCart,
	"ver_carrinho":         ReviewingCart,
	"finalizar_pedido":     Checkout,
	"consultar_pedido":     PostPurchase,
	"rastreamento_pedido":  PostPurchase,
	"informacao_entrega":   AskingInfo,
	"informacao_loja":      AskingInfo,
	"informacao_pagamento": AskingInfo,
	"retirada_loja":        AskingInfo,
	"armazenamento_queijo": AskingInfo,
	"embalagem_presente":   AskingInfo,
	"calcular_frete":       AskingInfo,
}

// StageForIntent returns the stage an intent implies, or ok=false when
// the intent does not move the journey.
func StageForIntent(intent string) (Stage, bool) {
	s, ok := intentStageMap[intent]
	return s, ok
}

const maxTransitionHistory = 20

// Transition is one recorded stage change.
type Transition struct {
	From   Stage
	To     Stage
	Intent string
	At     time.Time
}

// Tracker holds the per-customer journey stage. In-memory only; a
// restart puts everyone back at idle, which is the safe default.
type Tracker struct {
	mu      sync.Mutex
	stages  map[string]Stage
	history map[string][]Transition
	now     func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		stages:  make(map[string]Stage),
		history: make(map[string][]Transition),
		now:     time.Now,
	}
}

// Current returns the customer's stage, idle when unknown.
func (t *Tracker) Current(customerID string) Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentLocked(customerID)
}

func (t *Tracker) currentLocked(customerID string) Stage {
	if s, ok := t.stages[customerID]; ok {
		return s
	}
	return Idle
}

// Update moves the customer to the stage implied by intent. No-op when
// the intent has no stage or the stage is unchanged.
func (t *Tracker) Update(customerID, intent string) Stage {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.currentLocked(customerID)
	next, ok := intentStageMap[intent]
	if !ok || next == current {
		return current
	}

	if !transitionAllowed(current, next) {
		log.Warn().
			Str("customer", customerID).
			Str("from", string(current)).
			Str("to", string(next)).
			Str("intent", intent).
			Msg("unexpected stage transition, allowing anyway")
	}

	hist := append(t.history[customerID], Transition{
		From:   current,
		To:     next,
		Intent: intent,
		At:     t.now(),
	})
	if len(hist) > maxTransitionHistory {
		hist = hist[len(hist)-maxTransitionHistory:]
	}
	t.history[customerID] = hist
	t.stages[customerID] = next

	log.Info().
		Str("customer", customerID).
		Str("from", string(current)).
		Str("to", string(next)).
		Msg("stage transition")
	return next
}

// Reset drops the customer back to idle; used when a new conversation
// starts after a long silence.
func (t *Tracker) Reset(customerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.stages, customerID)
	delete(t.history, customerID)
}

// History returns a copy of the customer's recorded transitions.
func (t *Tracker) History(customerID string) []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	hist := t.history[customerID]
	out := make([]Transition, len(hist))
	copy(out, hist)
	return out
}

func transitionAllowed(from, to Stage) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
