package contract

// Role identifies who produced a ledger entry or protocol message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one structured tool invocation requested by the model.
// Arguments is the raw JSON string exactly as the model produced it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is the protocol replay unit fed back to the model. It mirrors
// the chat-completions message shape: a tool message carries ToolCallID
// and ToolName, an assistant message may carry ToolCalls.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// ToolDef declares one tool exposed to the model. Parameters is a
// JSON-schema object describing the flat argument structure.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// CompletionRequest is one model invocation.
type CompletionRequest struct {
	System      string
	Messages    []Message
	Tools       []ToolDef
	Temperature float64
	MaxTokens   int64
}

// Completion is the model's answer: either plain text or an ordered
// list of tool calls (Content may accompany tool calls).
type Completion struct {
	Content   string
	ToolCalls []ToolCall
}

// InboundMessage is one unit of channel traffic delivered by the
// gateway webhook.
type InboundMessage struct {
	CustomerID   string
	Text         string
	MediaType    string
	MediaURL     string
	FromOperator bool
	OperatorID   string
	GroupMessage bool
	ReceivedAtMS int64
}

// Product is the flat result shape returned by the product
// collaborator and shown to the model.
type Product struct {
	ID       string  `json:"id"`
	Name     string  `json:"nome"`
	Price    float64 `json:"preco"`
	Category string  `json:"categoria,omitempty"`
	Unit     string  `json:"unidade,omitempty"`
	Stock    int     `json:"estoque"`
	ImageURL string  `json:"imagem_url,omitempty"`
}

// CartItem is one line of a customer's cart.
type CartItem struct {
	ProductID string  `json:"produto_id"`
	Name      string  `json:"nome"`
	UnitPrice float64 `json:"preco_unitario"`
	Quantity  int     `json:"quantidade"`
}

// Cart is the flat view-cart result.
type Cart struct {
	Empty bool       `json:"vazio"`
	Items []CartItem `json:"itens"`
	Total float64    `json:"total"`
}

// ShippingOption is one quoted delivery option.
type ShippingOption struct {
	Kind     string  `json:"tipo"`
	Label    string  `json:"nome"`
	Price    float64 `json:"valor"`
	Deadline string  `json:"prazo"`
}

// Order is the flat checkout/status result.
type Order struct {
	Number string  `json:"numero_pedido"`
	Total  float64 `json:"total"`
	Status string  `json:"status"`
	PixKey string  `json:"qr_code,omitempty"`
}
