package engine

import (
	"context"
	"fmt"

	"github.com/gmarchetti/balcao/agent/contract"
)

// Collaborators are the business backends the tool surface delegates
// to. All of them are injected; the engine owns no business logic.
type Collaborators struct {
	Products contract.ProductService
	Cart     contract.CartService
	Shipping contract.ShippingService
	Orders   contract.OrderService
	Notifier contract.Notifier
	Escalate contract.Escalator
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

// DefaultRegistry builds the full retail tool surface over the given
// collaborators.
func DefaultRegistry(c Collaborators) (*Registry, error) {
	defs := []contract.ToolDef{
		{
			Name:        "buscar_produtos",
			Description: "Busca produtos no catalogo. Use quando o cliente perguntar sobre produtos, precos ou disponibilidade.",
			Parameters: objectSchema(map[string]any{
				"termo":  prop("string", "Termo de busca (ex: 'queijo canastra', 'doce de leite')"),
				"limite": prop("integer", "Numero maximo de resultados"),
			}, "termo"),
		},
		{
			Name:        "enviar_foto_produto",
			Description: "Envia a foto de um produto para o cliente. Use o id retornado por buscar_produtos.",
			Parameters: objectSchema(map[string]any{
				"produto_id": prop("string", "ID do produto retornado por buscar_produtos"),
				"legenda":    prop("string", "Legenda curta para a foto"),
			}, "produto_id"),
		},
		{
			Name:        "add_to_cart",
			Description: "Adiciona produto ao carrinho APOS confirmacao do cliente. NUNCA chame sem o cliente ter confirmado.",
			Parameters: objectSchema(map[string]any{
				"produto_id":     prop("string", "ID do produto retornado por buscar_produtos"),
				"produto_nome":   prop("string", "Nome EXATO do produto retornado por buscar_produtos"),
				"preco_unitario": prop("number", "Preco unitario como numero decimal (ex: 85.00)"),
				"quantidade":     prop("integer", "Quantidade de unidades. Padrao 1."),
			}, "produto_id", "produto_nome", "preco_unitario"),
		},
		{
			Name:        "remover_do_carrinho",
			Description: "Remove um produto do carrinho do cliente.",
			Parameters: objectSchema(map[string]any{
				"produto_id": prop("string", "ID do produto no carrinho"),
			}, "produto_id"),
		},
		{
			Name:        "alterar_quantidade",
			Description: "Altera a quantidade de um produto que ja esta no carrinho.",
			Parameters: objectSchema(map[string]any{
				"produto_id": prop("string", "ID do produto no carrinho"),
				"quantidade": prop("integer", "Nova quantidade desejada"),
			}, "produto_id", "quantidade"),
		},
		{
			Name:        "view_cart",
			Description: "Mostra o carrinho atual do cliente com itens e total. SEMPRE use antes de confirmar valores.",
			Parameters:  objectSchema(map[string]any{}),
		},
		{
			Name:        "limpar_carrinho",
			Description: "Limpa todo o carrinho do cliente. Use apos finalizar o pedido.",
			Parameters:  objectSchema(map[string]any{}),
		},
		{
			Name:        "calcular_frete",
			Description: "Calcula opcoes de frete para o endereco ou CEP do cliente.",
			Parameters: objectSchema(map[string]any{
				"endereco": prop("string", "Endereco completo ou CEP de destino"),
				"peso_kg":  prop("number", "Peso total dos produtos em kg"),
			}, "endereco"),
		},
		{
			Name:        "finalizar_pedido",
			Description: "Fecha o pedido do carrinho atual e gera a cobranca. Use APENAS quando o cliente confirmar a compra.",
			Parameters: objectSchema(map[string]any{
				"forma_pagamento": prop("string", "Forma de pagamento escolhida (pix, cartao, dinheiro)"),
			}, "forma_pagamento"),
		},
		{
			Name:        "verificar_status_pedido",
			Description: "Consulta o status de um pedido ja feito pelo numero.",
			Parameters: objectSchema(map[string]any{
				"numero_pedido": prop("string", "Numero do pedido informado pelo cliente"),
			}, "numero_pedido"),
		},
		{
			Name:        "buscar_historico_compras",
			Description: "Lista as compras anteriores do cliente para recomendar recompra.",
			Parameters: objectSchema(map[string]any{
				"limite": prop("integer", "Numero maximo de itens"),
			}),
		},
		{
			Name:        "escalar_atendimento",
			Description: "Chama um atendente humano. Use quando o cliente pedir para falar com uma pessoa ou quando nao conseguir resolver.",
			Parameters: objectSchema(map[string]any{
				"motivo":  prop("string", "Motivo resumido da escalacao"),
				"detalhe": prop("string", "Contexto adicional para o atendente"),
			}, "motivo"),
		},
	}

	execs := map[string]Executor{
		"buscar_produtos": func(ctx context.Context, customerID string, args map[string]any) (any, error) {
			term := argString(args, "termo", "")
			if term == "" {
				return nil, fmt.Errorf("%w: termo de busca vazio", contract.ErrValidation)
			}
			limit := argInt(args, "limite", 5)
			products, err := c.Products.Search(ctx, term, limit)
			if err != nil {
				return nil, err
			}
			return map[string]any{"produtos": products, "total": len(products)}, nil
		},
		"enviar_foto_produto": func(ctx context.Context, customerID string, args map[string]any) (any, error) {
			id := argString(args, "produto_id", "")
			p, err := c.Products.ByID(ctx, id)
			if err != nil {
				return nil, err
			}
			if p.ImageURL == "" {
				return map[string]any{"enviado": false, "motivo": "produto sem foto"}, nil
			}
			caption := argString(args, "legenda", p.Name)
			if err := c.Notifier.SendImage(ctx, customerID, p.ImageURL, caption); err != nil {
				return nil, err
			}
			return map[string]any{"enviado": true, "produto": p.Name}, nil
		},
		"add_to_cart": func(ctx context.Context, customerID string, args map[string]any) (any, error) {
			qty := argInt(args, "quantidade", 1)
			if qty < 1 {
				qty = 1
			}
			cart, err := c.Cart.Add(ctx, customerID,
				argString(args, "produto_id", ""),
				argString(args, "produto_nome", ""),
				argFloat(args, "preco_unitario", 0),
				qty,
			)
			if err != nil {
				return nil, err
			}
			return cart, nil
		},
		"remover_do_carrinho": func(ctx context.Context, customerID string, args map[string]any) (any, error) {
			cart, err := c.Cart.Remove(ctx, customerID, argString(args, "produto_id", ""))
			if err != nil {
				return nil, err
			}
			return cart, nil
		},
		"alterar_quantidade": func(ctx context.Context, customerID string, args map[string]any) (any, error) {
			cart, err := c.Cart.SetQuantity(ctx, customerID,
				argString(args, "produto_id", ""),
				argInt(args, "quantidade", 1),
			)
			if err != nil {
				return nil, err
			}
			return cart, nil
		},
		"view_cart": func(ctx context.Context, customerID string, args map[string]any) (any, error) {
			cart, err := c.Cart.View(ctx, customerID)
			if err != nil {
				return nil, err
			}
			return cart, nil
		},
		"limpar_carrinho": func(ctx context.Context, customerID string, args map[string]any) (any, error) {
			if err := c.Cart.Clear(ctx, customerID); err != nil {
				return nil, err
			}
			return map[string]any{"carrinho_limpo": true}, nil
		},
		"calcular_frete": func(ctx context.Context, customerID string, args map[string]any) (any, error) {
			address := argString(args, "endereco", "")
			if address == "" {
				return nil, fmt.Errorf("%w: endereco vazio", contract.ErrValidation)
			}
			options, err := c.Shipping.Quote(ctx, address, argFloat(args, "peso_kg", 1))
			if err != nil {
				return nil, err
			}
			return map[string]any{"opcoes": options}, nil
		},
		"finalizar_pedido": func(ctx context.Context, customerID string, args map[string]any) (any, error) {
			order, err := c.Orders.Checkout(ctx, customerID, argString(args, "forma_pagamento", "pix"))
			if err != nil {
				return nil, err
			}
			return order, nil
		},
		"verificar_status_pedido": func(ctx context.Context, customerID string, args map[string]any) (any, error) {
			order, err := c.Orders.Status(ctx, argString(args, "numero_pedido", ""))
			if err != nil {
				return nil, err
			}
			return order, nil
		},
		"buscar_historico_compras": func(ctx context.Context, customerID string, args map[string]any) (any, error) {
			items, err := c.Orders.History(ctx, customerID, argInt(args, "limite", 10))
			if err != nil {
				return nil, err
			}
			return map[string]any{"compras": items}, nil
		},
		"escalar_atendimento": func(ctx context.Context, customerID string, args map[string]any) (any, error) {
			reason := argString(args, "motivo", "cliente pediu atendimento humano")
			if err := c.Escalate.Escalate(ctx, customerID, reason, argString(args, "detalhe", "")); err != nil {
				return nil, err
			}
			return map[string]any{"escalado": true}, nil
		},
	}

	return NewRegistry(defs, execs)
}
