package stage

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gmarchetti/balcao/agent/contract"
)

// Fixed replacement texts for responses that cannot be sent as-is.
const (
	SafeTextBrokenResponse = "Desculpe, tive um problema ao processar sua mensagem. Pode repetir?"
	SafeTextInternalError  = "Desculpe, tive um problema ao processar sua mensagem. Pode tentar novamente?"
)

// passThreshold is the minimum score for a response to go out
// unmodified.
const passThreshold = 0.5

// coherenceMarkers lists content each informational intent's response
// is expected to mention. Matching is accent-insensitive.
var coherenceMarkers = map[string][]string{
	"informacao_entrega":   {"entrega", "frete", "envio", "cep", "prazo", "bh"},
	"informacao_loja":      {"horario", "localiz", "mercado central", "endereco", "contato", "funcionamento"},
	"informacao_pagamento": {"pix", "pagamento", "desconto", "vale"},
	"armazenamento_queijo": {"guardar", "conservar", "geladeira", "temperatura", "armazen", "umidade"},
	"embalagem_presente":   {"embalagem", "presente", "caixa", "kit", "cesta"},
	"ver_carrinho":         {"carrinho", "total", "pedido", "vazio"},
	"retirada_loja":        {"retir", "loja", "pegar", "mercado"},
	"rastreamento_pedido":  {"rastreio", "rastreamento", "codigo", "pedido", "acompanhar"},
}

var exposedIDPattern = regexp.MustCompile(`produto_id|item_id|uuid`)

var rawErrorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`traceback`),
	regexp.MustCompile(`exception`),
	regexp.MustCompile(`error.*line \d+`),
	regexp.MustCompile(`keyerror`),
	regexp.MustCompile(`typeerror`),
	regexp.MustCompile(`nonetype`),
}

var accentFolder = strings.NewReplacer(
	"á", "a", "à", "a", "ã", "a", "â", "a",
	"é", "e", "ê", "e",
	"í", "i",
	"ó", "o", "ô", "o", "õ", "o",
	"ú", "u", "ç", "c",
)

// Result is the evaluation verdict for one candidate response.
type Result struct {
	Passed           bool
	Score            float64
	Issues           []string
	Suggestions      []string
	AdjustedResponse string
	Stage            Stage
}

// Evaluator scores generated responses against the customer's journey
// context before they are sent.
type Evaluator struct {
	tracker          *Tracker
	greetingPatterns []*regexp.Regexp
}

// NewEvaluator builds an evaluator sharing the given tracker.
// attendantName identifies the persona whose full greeting counts as a
// repeated-greeting offense when it shows up twice in a conversation.
func NewEvaluator(tracker *Tracker, attendantName string) *Evaluator {
	if attendantName == "" {
		attendantName = "Guilherme"
	}
	name := regexp.QuoteMeta(attendantName)
	return &Evaluator{
		tracker: tracker,
		greetingPatterns: []*regexp.Regexp{
			regexp.MustCompile(`Bom dia.*` + name),
			regexp.MustCompile(`Boa tarde.*` + name),
			regexp.MustCompile(`Boa noite.*` + name),
			regexp.MustCompile(`Voc[eê] t[aá] falando.*com o ` + name),
		},
	}
}

// Evaluate scores a candidate response and advances the journey stage
// for the intent. The response itself is never mutated; when a fix is
// needed AdjustedResponse carries the replacement.
func (e *Evaluator) Evaluate(
	customerID string,
	message string,
	intent string,
	response string,
	history []contract.Message,
	isNewConversation bool,
	productsInContext []contract.Product,
) Result {
	var issues, suggestions []string
	score := 1.0
	adjusted := ""

	if strings.TrimSpace(response) == "" {
		return Result{
			Passed:           false,
			Score:            0,
			Issues:           []string{"empty_response"},
			AdjustedResponse: SafeTextBrokenResponse,
			Stage:            e.tracker.Current(customerID),
		}
	}

	if !isNewConversation && e.hasFullGreeting(response) && e.countRecentGreetings(history) > 0 {
		issues = append(issues, "repeated_greeting")
		score -= 0.3
		suggestions = append(suggestions, "greeting already sent in this conversation, stripped greeting prefix")
		adjusted = e.stripGreeting(response)
	}

	if intent == "busca_produto" && productsInContext != nil &&
		len(productsInContext) == 0 && strings.Contains(strings.ToLower(response), "encontrei") {
		issues = append(issues, "claims_products_found_but_empty")
		score -= 0.5
		suggestions = append(suggestions, "response claims products were found but product list is empty")
	}

	if intent == "adicionar_carrinho" {
		current := e.tracker.Current(customerID)
		if (current == Idle || current == Greeting) && len(productsInContext) == 0 {
			issues = append(issues, "cart_add_without_browsing")
			score -= 0.2
			suggestions = append(suggestions, "customer has not browsed products yet, ask what they want first")
		}
	}

	if reason, ok := checkCoherence(intent, response); !ok {
		issues = append(issues, "intent_response_mismatch:"+intent)
		score -= 0.4
		suggestions = append(suggestions, reason)
	}

	lower := strings.ToLower(response)
	if exposedIDPattern.MatchString(lower) {
		issues = append(issues, "exposed_internal_id")
		score -= 0.5
		suggestions = append(suggestions, "response contains internal ids visible to the customer")
	}

	if len(response) > 2000 {
		issues = append(issues, "response_too_long")
		score -= 0.1
		suggestions = append(suggestions, "response exceeds 2000 chars, consider splitting")
	}

	if containsEmoji(response) {
		issues = append(issues, "contains_emoji")
		score -= 0.1
		suggestions = append(suggestions, "channel policy forbids emojis in responses")
	}

	for _, p := range rawErrorPatterns {
		if p.MatchString(lower) {
			issues = append(issues, "exposed_error_message")
			score -= 0.5
			adjusted = SafeTextInternalError
			break
		}
	}

	newStage := e.tracker.Update(customerID, intent)

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	passed := score >= passThreshold

	if len(issues) > 0 {
		log.Warn().
			Str("customer", customerID).
			Strs("issues", issues).
			Float64("score", score).
			Msg("response evaluation flagged issues")
	} else {
		log.Debug().
			Str("customer", customerID).
			Float64("score", score).
			Str("stage", string(newStage)).
			Msg("response evaluation ok")
	}

	return Result{
		Passed:           passed,
		Score:            score,
		Issues:           issues,
		Suggestions:      suggestions,
		AdjustedResponse: adjusted,
		Stage:            newStage,
	}
}

func (e *Evaluator) hasFullGreeting(text string) bool {
	for _, p := range e.greetingPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// countRecentGreetings counts full greetings in the last five
// assistant messages.
func (e *Evaluator) countRecentGreetings(history []contract.Message) int {
	start := len(history) - 5
	if start < 0 {
		start = 0
	}
	count := 0
	for _, m := range history[start:] {
		if m.Role == contract.RoleAssistant && e.hasFullGreeting(m.Content) {
			count++
		}
	}
	return count
}

// stripGreeting drops the greeting paragraph, keeping everything after
// the first blank line.
func (e *Evaluator) stripGreeting(response string) string {
	head, tail, found := strings.Cut(response, "\n\n")
	if found && e.hasFullGreeting(head) {
		return tail
	}
	return response
}

func checkCoherence(intent, response string) (reason string, ok bool) {
	markers, tracked := coherenceMarkers[intent]
	if !tracked {
		return "", true
	}
	lower := strings.ToLower(response)
	folded := accentFolder.Replace(lower)
	for _, m := range markers {
		if strings.Contains(lower, m) || strings.Contains(folded, m) {
			return "", true
		}
	}
	return fmt.Sprintf("response for %q missing expected content (one of %v)", intent, markers), false
}

func containsEmoji(text string) bool {
	for _, r := range text {
		switch {
		case r >= 0x1F600 && r <= 0x1F64F,
			r >= 0x1F300 && r <= 0x1F5FF,
			r >= 0x1F680 && r <= 0x1F6FF,
			r >= 0x1F1E0 && r <= 0x1F1FF,
			r >= 0x2702 && r <= 0x27B0,
			r >= 0x1F900 && r <= 0x1F9FF:
			return true
		}
	}
	return false
}
