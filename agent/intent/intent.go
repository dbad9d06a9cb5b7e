// Package intent maps free-text customer messages to a closed set of
// intent labels. Deterministic rules run the show; a model-backed
// classifier can be layered in front of them, and the journey stage
// can override both for selection shorthand ("2", "o segundo").
package intent

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gmarchetti/balcao/agent/contract"
	"github.com/gmarchetti/balcao/agent/stage"
)

// Intent labels. The declaration order of the rule cascade below is
// load-bearing; these constants just name the labels.
const (
	AtendimentoInicial  = "atendimento_inicial"
	FinalizarPedido     = "finalizar_pedido"
	ConsultarPedido     = "consultar_pedido"
	InformacaoLoja      = "informacao_loja"
	RastreamentoPedido  = "rastreamento_pedido"
	InformacaoEntrega   = "informacao_entrega"
	RetiradaLoja        = "retirada_loja"
	InformacaoPagamento = "informacao_pagamento"
	ArmazenamentoQueijo = "armazenamento_queijo"
	EmbalagemPresente   = "embalagem_presente"
	CalcularFrete       = "calcular_frete"
	AdicionarCarrinho   = "adicionar_carrinho"
	RemoverItem         = "remover_item"
	AlterarQuantidade   = "alterar_quantidade"
	VerCarrinho         = "ver_carrinho"
	BuscaProduto        = "busca_produto"
)

type rule struct {
	label    string
	patterns []*regexp.Regexp
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(e))
	}
	return out
}

// rules is the ordered cascade. First match wins, so the specific
// intents come before the greedy ones and busca_produto closes the
// list as the catch-all.
var rules = []rule{
	{AtendimentoInicial, compileAll(
		`^(oi|ol[aá]|hey|ei|opa)([,!?.\s]+(bom\s+dia|boa\s+tarde|boa\s+noite)?[,!?.\s]*)?$`,
		`^(oi|ol[aá]|hey|ei|opa)[,!?.\s]+(preciso|quero|gostaria|pode).*(ajuda|atend)`,
		`^(bom\s+dia|boa\s+tarde|boa\s+noite)[,!?.\s]*$`,
		`^(help|ajuda|socorro)[,!?.\s]*$`,
		`(obrigad|valeu|thanks|grato|agradeço)`,
	)},
	{FinalizarPedido, compileAll(
		`\b(finaliz|fecha|fech|conclu|termin|pront)`,
		`\bquero\s+(pagar|finalizar|fechar)`,
		`\b(pagamento|pagar)\b`,
	)},
	{ConsultarPedido, compileAll(
		`\b(onde|cad[eê])\s+(est[aá]|t[aá])\s+(o\s+)?(meu\s+)?pedido`,
		`\brastreamento\b`,
		`\bstatus\s+(do\s+)?pedido`,
		`\b(pedido|compra)\s+#?\d+`,
		`\b(meu|meus)\s+pedidos?\b`,
	)},
	{InformacaoLoja, compileAll(
		`\b(hor[aá]rio|abre|fecha|funciona)\b`,
		`\bonde\s+(fica|[eé]|est[aá])\b`,
		`\bendereco|endereço\b`,
		`\b(telefone|whatsapp|contato)\b`,
		`\b(mercado\s+central|localiza[cç][aã]o)\b`,
	)},
	{RastreamentoPedido, compileAll(
		`\b(c[oó]digo|rastreio|rastreamento)\b`,
		`\bacompanhar\s+pedido\b`,
		`onde\s+(est[aá]|t[aá])\s+meu\s+pedido`,
	)},
	{InformacaoEntrega, compileAll(
		`\b(prazo|tempo|quanto\s+tempo|demora)\s+(entrega|entregar)\b`,
		`\bentreg.*hoje|hoje.*entrega\b`,
		`\bentrega\s+(r[aá]pida|urgente|express)\b`,
		`\bfora\s+de\s+bh\b`,
	)},
	{RetiradaLoja, compileAll(
		`\bretir.*loja\b`,
		`\bpegar\s+(na\s+)?loja\b`,
		`\bbuscar\s+(na\s+)?loja\b`,
	)},
	{InformacaoPagamento, compileAll(
		`\b(desconto|promo[cç][aã]o)\b`,
		`\b(pix|cart[aã]o|dinheiro|pagamento)\b`,
		`\bforma.*pagamento\b`,
		`\bvale.*aliment\b`,
	)},
	{ArmazenamentoQueijo, compileAll(
		`\b(armazen|guard|conserv).*queijo\b`,
		`\bcomo\s+guard\b`,
		`\bgeladeira.*queijo|queijo.*geladeira\b`,
		`\b(conserv|dur).*queijo\b`,
	)},
	{EmbalagemPresente, compileAll(
		`\b(embalagem|caixa|embalar).*presente\b`,
		`\bpresente\b`,
		`\bcesta|kit\b`,
	)},
	{CalcularFrete, compileAll(
		`\b(quanto|qual)\s+(fica|[eé]|custa|cobra)\s+(o\s+)?frete`,
		`\bcalcul.*frete\b`,
		`\bcep\b`,
		`meu\s+cep\s+([eé]|:)`,
	)},
	{AdicionarCarrinho, compileAll(
		`\b(adiciona|coloca|quero)\s+(isso|esse|esta|este|o|a|\d+)`,
		`\b(adiciona|quero)\s+(\d+|um|uma|dois|duas|tr[eê]s)`,
		`\b(\d+)\s*(un|unidade|kg|kilo)`,
	)},
	{RemoverItem, compileAll(
		`\b(remov|tira|tire|exclui|apaga)\b.*\b(item|produto|carrinho|queijo)`,
		`\btira\s+(o|a|esse|essa|\d+)`,
		`\bn[aã]o\s+quero\s+mais\s+(o|a|esse|essa)`,
	)},
	{AlterarQuantidade, compileAll(
		`\b(muda|mudar|altera|alterar|troca|trocar)\b.*\bquantidade\b`,
		`\bquantidade\s+para\s+\d+`,
		`\b(deixa|coloca)\s+s[oó]\s+\d+`,
	)},
	{VerCarrinho, compileAll(
		`\b(ver|mostre|mostra|exibe)\s+(o\s+)?(meu\s+)?(carrinho|pedido)`,
		`\bmeu\s+carrinho\b`,
		`o que (eu|j[aá])\s+(tenho|pedi)`,
	)},
	{BuscaProduto, compileAll(
		`\b(quero|busco|procuro|tem|vende)\s+(queijo|cacha[cç]a|doce|caf[eé]|mel)`,
		`\b(queijo|cacha[cç]a|doce|caf[eé]|mel|geleia|p[aã]o|biscoito)\b`,
		`\b(produtos|cat[aá]logo|card[aá]pio|op[cç][oõ]es)\b`,
		`o que voc[eê]s? (t[eê]m|vende)`,
	)},
}

var knownLabels = func() map[string]struct{} {
	m := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		m[r.label] = struct{}{}
	}
	return m
}()

// Selection shorthand recognized while the customer is browsing a
// freshly listed set of products.
var (
	bareSelection   = regexp.MustCompile(`^(o\s+|a\s+)?\d{1,2}$`)
	ordinalWord     = regexp.MustCompile(`^(o\s+|a\s+)?(primeir[oa]|segund[oa]|terceir[oa]|quart[oa]|quint[oa])$`)
	morePrefix      = regexp.MustCompile(`^mais\s+(um|uma|dois|duas|tr[eê]s|quatro|cinco|\d+)`)
	selectionPhrase = []string{"esse", "essa", "este", "esta", "pode ser", "vou querer", "quero esse", "quero essa"}
)

// Options supplies disambiguation context to Classify.
type Options struct {
	Stage   stage.Stage
	Context string
	History []contract.Message
}

// Resolver classifies messages. The model client is optional; without
// it classification is purely rule-based. The cache holds successful
// model labels for messages longer than three words and lives for the
// process lifetime. Short messages are never cached because their
// label depends on context.
type Resolver struct {
	chat contract.ChatClient

	mu    sync.Mutex
	cache map[string]string
}

func NewResolver(chat contract.ChatClient) *Resolver {
	return &Resolver{
		chat:  chat,
		cache: make(map[string]string),
	}
}

// Classify maps a message to an intent label. Resolution order: stage
// override, cache, model, rule cascade, busca_produto fallback.
func (r *Resolver) Classify(ctx context.Context, message string, opts Options) string {
	normalized := strings.ToLower(strings.TrimSpace(message))

	if label, ok := stageOverride(normalized, opts.Stage); ok {
		log.Debug().Str("intent", label).Str("stage", string(opts.Stage)).Msg("stage override")
		return label
	}

	cacheable := len(strings.Fields(normalized)) > 3

	if r.chat != nil {
		if cacheable {
			r.mu.Lock()
			label, ok := r.cache[normalized]
			r.mu.Unlock()
			if ok {
				return label
			}
		}
		if label, err := r.classifyWithModel(ctx, message, opts); err == nil {
			if _, known := knownLabels[label]; known {
				if cacheable {
					r.mu.Lock()
					r.cache[normalized] = label
					r.mu.Unlock()
				}
				return label
			}
			log.Debug().Str("label", label).Msg("model returned unknown intent label, falling back to rules")
		} else {
			log.Warn().Err(err).Msg("model intent classification failed, falling back to rules")
		}
	}

	for _, rl := range rules {
		for _, p := range rl.patterns {
			if p.MatchString(normalized) {
				log.Debug().Str("intent", rl.label).Msg("intent matched by rule")
				return rl.label
			}
		}
	}

	log.Debug().Msg("no intent matched, defaulting to busca_produto")
	return BuscaProduto
}

// stageOverride forces add-to-cart for selection shorthand. While
// browsing, a bare number means "item N from the list just shown", not
// a new search; while carting, "mais um" means one more of the same.
func stageOverride(normalized string, s stage.Stage) (string, bool) {
	switch s {
	case stage.Browsing:
		if bareSelection.MatchString(normalized) || ordinalWord.MatchString(normalized) {
			return AdicionarCarrinho, true
		}
		if len(strings.Fields(normalized)) <= 4 {
			for _, phrase := range selectionPhrase {
				if normalized == phrase || strings.HasPrefix(normalized, phrase+" ") {
					return AdicionarCarrinho, true
				}
			}
		}
	case stage.Carting, stage.ReviewingCart:
		if morePrefix.MatchString(normalized) {
			return AdicionarCarrinho, true
		}
	}
	return "", false
}

const classifierSystemPrompt = `Voce classifica mensagens de clientes de uma loja de queijos e produtos artesanais em exatamente um rotulo de intencao. Responda apenas com o rotulo, sem pontuacao e sem explicacao.

Rotulos:
atendimento_inicial - saudacao, agradecimento, pedido de ajuda generico
finalizar_pedido - quer pagar ou fechar o pedido
consultar_pedido - pergunta sobre um pedido ja feito
informacao_loja - horario, endereco, contato
rastreamento_pedido - codigo de rastreio, acompanhar entrega
informacao_entrega - prazo ou condicoes de entrega
retirada_loja - quer retirar na loja
informacao_pagamento - formas de pagamento, desconto
armazenamento_queijo - como guardar ou conservar queijo
embalagem_presente - embalagem ou cesta de presente
calcular_frete - quanto custa o frete, cep
adicionar_carrinho - quer adicionar um produto ao carrinho
remover_item - quer tirar um item do carrinho
alterar_quantidade - quer mudar a quantidade de um item
ver_carrinho - quer ver o carrinho atual
busca_produto - procura ou pergunta sobre produtos`

func (r *Resolver) classifyWithModel(ctx context.Context, message string, opts Options) (string, error) {
	var messages []contract.Message

	// Up to five recent turns of plain conversation for context.
	history := opts.History
	if len(history) > 5 {
		history = history[len(history)-5:]
	}
	for _, m := range history {
		if m.Role == contract.RoleTool || len(m.ToolCalls) > 0 {
			continue
		}
		messages = append(messages, contract.Message{Role: m.Role, Content: m.Content})
	}

	text := message
	if opts.Context != "" {
		text = "Contexto: " + opts.Context + "\n\nMensagem: " + message
	}
	messages = append(messages, contract.Message{Role: contract.RoleUser, Content: text})

	resp, err := r.chat.Complete(ctx, contract.CompletionRequest{
		System:      classifierSystemPrompt,
		Messages:    messages,
		Temperature: 0,
		MaxTokens:   16,
	})
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(resp.Content)), nil
}
