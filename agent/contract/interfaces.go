package contract

import "context"

// ChatClient is the language-model completion endpoint.
type ChatClient interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

// ProductService exposes the product catalog collaborator.
type ProductService interface {
	Search(ctx context.Context, term string, limit int) ([]Product, error)
	ByID(ctx context.Context, id string) (Product, error)
}

// CartService exposes the per-customer cart collaborator.
type CartService interface {
	Add(ctx context.Context, customerID, productID, productName string, unitPrice float64, quantity int) (Cart, error)
	Remove(ctx context.Context, customerID, productID string) (Cart, error)
	SetQuantity(ctx context.Context, customerID, productID string, quantity int) (Cart, error)
	View(ctx context.Context, customerID string) (Cart, error)
	Clear(ctx context.Context, customerID string) error
}

// ShippingService quotes delivery options for an address.
type ShippingService interface {
	Quote(ctx context.Context, address string, weightKG float64) ([]ShippingOption, error)
}

// OrderService finalizes and inspects orders.
type OrderService interface {
	Checkout(ctx context.Context, customerID, paymentMethod string) (Order, error)
	Status(ctx context.Context, orderNumber string) (Order, error)
	History(ctx context.Context, customerID string, limit int) ([]CartItem, error)
}

// Notifier is the outbound side of the channel gateway.
type Notifier interface {
	SendText(ctx context.Context, customerID, text string) error
	SendImage(ctx context.Context, customerID, imageURL, caption string) error
}

// Escalator notifies a human operator that a conversation needs
// attention.
type Escalator interface {
	Escalate(ctx context.Context, customerID, reason, detail string) error
}
