package stage

import (
	"strings"
	"testing"

	"github.com/gmarchetti/balcao/agent/contract"
)

func TestTrackerUpdate(t *testing.T) {
	tr := NewTracker()

	if got := tr.Current("5511999"); got != Idle {
		t.Fatalf("fresh customer stage = %s, want idle", got)
	}

	tr.Update("5511999", "atendimento_inicial")
	tr.Update("5511999", "busca_produto")
	tr.Update("5511999", "adicionar_carrinho")
	if got := tr.Current("5511999"); got != Carting {
		t.Fatalf("stage = %s, want carting", got)
	}

	// Unknown intents leave the journey alone.
	tr.Update("5511999", "nonsense")
	if got := tr.Current("5511999"); got != Carting {
		t.Fatalf("unknown intent moved stage to %s", got)
	}

	hist := tr.History("5511999")
	if len(hist) != 3 {
		t.Fatalf("history length = %d, want 3", len(hist))
	}
	if hist[2].From != Browsing || hist[2].To != Carting {
		t.Fatalf("last transition = %+v", hist[2])
	}

	tr.Reset("5511999")
	if got := tr.Current("5511999"); got != Idle {
		t.Fatalf("after reset stage = %s, want idle", got)
	}
}

func TestTrackerUnexpectedTransitionStillApplied(t *testing.T) {
	tr := NewTracker()
	// idle -> checkout is not in the transition table; the journey
	// still moves because the classifier outranks the table.
	tr.Update("5511999", "finalizar_pedido")
	if got := tr.Current("5511999"); got != Checkout {
		t.Fatalf("stage = %s, want checkout", got)
	}
}

func TestTrackerHistoryBounded(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 30; i++ {
		tr.Update("5511999", "busca_produto")
		tr.Update("5511999", "ver_carrinho")
	}
	if got := len(tr.History("5511999")); got > maxTransitionHistory {
		t.Fatalf("history length = %d, want <= %d", got, maxTransitionHistory)
	}
}

func TestEvaluateEmptyResponse(t *testing.T) {
	e := NewEvaluator(NewTracker(), "")

	res := e.Evaluate("5511999", "oi", "atendimento_inicial", "   ", nil, true, nil)
	if res.Passed {
		t.Fatal("empty response must not pass")
	}
	if res.Score != 0 {
		t.Fatalf("score = %v, want 0", res.Score)
	}
	if res.AdjustedResponse != SafeTextBrokenResponse {
		t.Fatalf("adjusted = %q", res.AdjustedResponse)
	}
}

func TestEvaluateRepeatedGreetingStripped(t *testing.T) {
	e := NewEvaluator(NewTracker(), "Guilherme")

	history := []contract.Message{
		{Role: contract.RoleAssistant, Content: "Bom dia! Voce ta falando com o Guilherme."},
		{Role: contract.RoleUser, Content: "tem queijo canastra?"},
	}
	response := "Bom dia! Aqui e o Guilherme.\n\nTemos queijo canastra meia cura e curado."

	res := e.Evaluate("5511999", "tem queijo?", "busca_produto", response, history, false, []contract.Product{{ID: "1"}})
	if !hasIssue(res, "repeated_greeting") {
		t.Fatalf("issues = %v, want repeated_greeting", res.Issues)
	}
	if res.AdjustedResponse != "Temos queijo canastra meia cura e curado." {
		t.Fatalf("adjusted = %q", res.AdjustedResponse)
	}
	// 1.0 - 0.3 still clears the pass threshold.
	if !res.Passed {
		t.Fatalf("result = %+v, want passed", res)
	}
}

func TestEvaluateGreetingAllowedInNewConversation(t *testing.T) {
	e := NewEvaluator(NewTracker(), "Guilherme")

	response := "Bom dia! Voce ta falando com o Guilherme.\n\nComo posso ajudar?"
	res := e.Evaluate("5511999", "oi", "atendimento_inicial", response, nil, true, nil)
	if hasIssue(res, "repeated_greeting") {
		t.Fatalf("new conversation flagged greeting: %v", res.Issues)
	}
	if res.AdjustedResponse != "" {
		t.Fatalf("adjusted = %q, want untouched", res.AdjustedResponse)
	}
}

func TestEvaluateClaimsProductsFoundButEmpty(t *testing.T) {
	e := NewEvaluator(NewTracker(), "")

	res := e.Evaluate("5511999", "tem mel?", "busca_produto",
		"Encontrei varias opcoes para voce!", nil, false, []contract.Product{})
	if !hasIssue(res, "claims_products_found_but_empty") {
		t.Fatalf("issues = %v", res.Issues)
	}
	if res.Score != 0.5 {
		t.Fatalf("score = %v, want 0.5", res.Score)
	}
}

func TestEvaluateCartAddWithoutBrowsing(t *testing.T) {
	e := NewEvaluator(NewTracker(), "")

	res := e.Evaluate("5511999", "adiciona 2", "adicionar_carrinho",
		"Adicionei 2 itens ao seu carrinho.", nil, false, nil)
	if !hasIssue(res, "cart_add_without_browsing") {
		t.Fatalf("issues = %v", res.Issues)
	}
	// -0.2 alone still passes.
	if !res.Passed {
		t.Fatalf("result = %+v", res)
	}
	if res.Stage != Carting {
		t.Fatalf("stage = %s, want carting", res.Stage)
	}
}

func TestEvaluateCoherenceMismatch(t *testing.T) {
	e := NewEvaluator(NewTracker(), "")

	res := e.Evaluate("5511999", "qual o horario?", "informacao_loja",
		"Temos queijo canastra e doce de leite.", nil, false, nil)
	if !hasIssue(res, "intent_response_mismatch:informacao_loja") {
		t.Fatalf("issues = %v", res.Issues)
	}

	// Accented content still matches the unaccented marker.
	res = e.Evaluate("5511999", "qual o horario?", "informacao_loja",
		"Nosso horário é de 8h às 18h.", nil, false, nil)
	if hasIssue(res, "intent_response_mismatch:informacao_loja") {
		t.Fatalf("accented marker missed: %v", res.Issues)
	}
}

func TestEvaluateExposedInternals(t *testing.T) {
	e := NewEvaluator(NewTracker(), "")

	res := e.Evaluate("5511999", "oi", "busca_produto",
		"O produto_id 42 foi adicionado.", nil, false, nil)
	if !hasIssue(res, "exposed_internal_id") {
		t.Fatalf("issues = %v", res.Issues)
	}

	res = e.Evaluate("5511999", "oi", "busca_produto",
		"KeyError: 'produto' exception at handler", nil, false, nil)
	if !hasIssue(res, "exposed_error_message") {
		t.Fatalf("issues = %v", res.Issues)
	}
	if res.AdjustedResponse != SafeTextInternalError {
		t.Fatalf("adjusted = %q", res.AdjustedResponse)
	}
	if res.Passed {
		t.Fatal("leaked error must not pass")
	}
}

func TestEvaluatePolicyChecks(t *testing.T) {
	e := NewEvaluator(NewTracker(), "")

	long := strings.Repeat("a", 2001)
	res := e.Evaluate("5511999", "oi", "busca_produto", long, nil, false, nil)
	if !hasIssue(res, "response_too_long") {
		t.Fatalf("issues = %v", res.Issues)
	}

	res = e.Evaluate("5511999", "oi", "busca_produto", "Temos queijo \U0001F9C0", nil, false, nil)
	if !hasIssue(res, "contains_emoji") {
		t.Fatalf("issues = %v", res.Issues)
	}
}

func hasIssue(r Result, issue string) bool {
	for _, i := range r.Issues {
		if i == issue {
			return true
		}
	}
	return false
}
