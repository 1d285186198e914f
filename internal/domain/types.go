package domain

import (
	"time"
)

// DefaultSize is the variant label used when a catalog record carries no sizes.
const DefaultSize = "Standard"

// Detail is a single key/value attribute shown on an offering.
type Detail struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ServiceOffering is the canonical shape of a bookable service.
type ServiceOffering struct {
	ID            int64    `json:"id"`
	Name          string   `json:"name"`
	Introduction  string   `json:"introduction"`
	Price         []int    `json:"price"`
	Size          []string `json:"size"`
	Img           string   `json:"img"`
	Type          string   `json:"type"`
	Material      string   `json:"material"`
	Provider      Provider `json:"provider"`
	ProviderLabel string   `json:"providerLabel,omitempty"`
	Time          string   `json:"time"`
	Details       []Detail `json:"details"`
	SelectedSize  string   `json:"selectedSize,omitempty"`
	IsSizeVariant bool     `json:"isSizeVariant"`
	OriginalID    int64    `json:"originalId,omitempty"`
}

// DisplayName appends the selected size for size variants.
func (o ServiceOffering) DisplayName() string {
	if o.IsSizeVariant && o.SelectedSize != "" {
		return o.Name + " (" + o.SelectedSize + ")"
	}
	return o.Name
}

// ActualPrice resolves the price aligned with SelectedSize. Any mismatch falls back to the
// first price, and an empty or negative price resolves to zero.
func (o ServiceOffering) ActualPrice() int {
	if len(o.Price) == 0 {
		return 0
	}
	price := o.Price[0]
	if o.SelectedSize != "" {
		for idx, size := range o.Size {
			if size != o.SelectedSize {
				continue
			}
			if idx < len(o.Price) {
				price = o.Price[idx]
			}
			break
		}
	}
	if price < 0 {
		return 0
	}
	return price
}

// WithSize synthesises a size variant of the offering. The receiver is left untouched.
func (o ServiceOffering) WithSize(size string) ServiceOffering {
	variant := o.Clone()
	variant.SelectedSize = size
	variant.IsSizeVariant = true
	if o.IsSizeVariant && o.OriginalID != 0 {
		variant.OriginalID = o.OriginalID
	} else {
		variant.OriginalID = o.ID
	}
	return variant
}

// Clone returns a deep copy so slices are never shared between values.
func (o ServiceOffering) Clone() ServiceOffering {
	out := o
	if o.Price != nil {
		out.Price = append([]int(nil), o.Price...)
	}
	if o.Size != nil {
		out.Size = append([]string(nil), o.Size...)
	}
	if o.Details != nil {
		out.Details = append([]Detail(nil), o.Details...)
	}
	return out
}

// CartLineItem is a single basket line. CartID is its only identity.
type CartLineItem struct {
	CartID string `json:"cartId"`
	ServiceOffering
	Quantity int       `json:"quantity"`
	AddedAt  time.Time `json:"addedAt"`
}

// LineTotal is the actual price multiplied by quantity.
func (l CartLineItem) LineTotal() int {
	return l.ActualPrice() * l.Quantity
}

// Cart is the persisted state of a device basket.
type Cart struct {
	Items      []CartLineItem `json:"items"`
	TotalItems int            `json:"totalItems"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// Clone returns a deep copy of the cart.
func (c Cart) Clone() Cart {
	out := c
	out.Items = make([]CartLineItem, len(c.Items))
	for i, item := range c.Items {
		item.ServiceOffering = item.ServiceOffering.Clone()
		out.Items[i] = item
	}
	return out
}

// Subtotal sums the line totals.
func (c Cart) Subtotal() int {
	total := 0
	for _, item := range c.Items {
		total += item.LineTotal()
	}
	return total
}

// Address is a delivery location owned by a device or a user.
type Address struct {
	ID             string    `json:"id" firestore:"-"`
	Street         string    `json:"street" firestore:"street"`
	Suburb         string    `json:"suburb" firestore:"suburb"`
	Town           string    `json:"town" firestore:"town"`
	Country        string    `json:"country" firestore:"country"`
	Zip            string    `json:"zip" firestore:"zip"`
	AdditionalInfo string    `json:"additionalInfo" firestore:"additionalInfo"`
	Label          string    `json:"label" firestore:"label"`
	Selected       bool      `json:"selected" firestore:"selected"`
	Lat            float64   `json:"lat" firestore:"lat"`
	Lng            float64   `json:"lng" firestore:"lng"`
	IsValid        bool      `json:"isValid" firestore:"isValid"`
	Timestamp      time.Time `json:"timestamp" firestore:"timestamp"`
}

// AddressInput carries caller supplied address fields prior to normalisation.
type AddressInput struct {
	Street         string
	Suburb         string
	Town           string
	Country        string
	Zip            string
	AdditionalInfo string
	Label          string
	Selected       bool
	Lat            float64
	Lng            float64
}

// Order statuses and payment statuses stored on ledger documents.
const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusFailed    = "failed"

	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"

	PaymentMethodCard = "card"
	PaymentMethodCash = "cash"
)

// OfferingSnapshot is a value copy of a ServiceOffering stored on an order.
type OfferingSnapshot struct {
	ID            int64
	Name          string
	DisplayName   string
	Introduction  string
	Price         []int
	Size          []string
	Img           string
	Type          string
	Material      string
	Provider      string
	Time          string
	Details       []Detail
	SelectedSize  string
	IsSizeVariant bool
	OriginalID    int64
	ActualPrice   int
}

// OrderLineItem wraps the offering snapshot with quantity and pricing.
type OrderLineItem struct {
	CartID    string
	Quantity  int
	UnitPrice int
	LineTotal int
	Service   OfferingSnapshot
}

// AddressSnapshot is the delivery address frozen at checkout.
type AddressSnapshot struct {
	ID             string
	Street         string
	Suburb         string
	Town           string
	Country        string
	Zip            string
	AdditionalInfo string
	Label          string
	Lat            float64
	Lng            float64
	IsValid        bool
}

// Order is a self-contained checkout snapshot.
type Order struct {
	OrderID              string
	UserID               string
	UserEmail            string
	UserName             string
	Status               string
	Items                []OrderLineItem
	Subtotal             int
	DeliveryFee          int
	TipAmount            int
	TotalAmount          int
	DeliveryAddress      AddressSnapshot
	DeliveryInstructions string
	PaymentMethod        string
	PaymentStatus        string
	PaymentReference     string
	ServiceTypes         []string
	PromoCode            *string
	PromoDiscount        *int
	WalletUsed           *int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// PaymentStatusUpdate changes the mutable fields of a persisted order.
type PaymentStatusUpdate struct {
	Status           string
	PaymentStatus    string
	PaymentReference string
	UpdatedAt        time.Time
}

// UserProfile is the identity store record for a customer.
type UserProfile struct {
	UID         string    `firestore:"-"`
	DisplayName string    `firestore:"displayName"`
	Email       string    `firestore:"email"`
	Phone       string    `firestore:"phone"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

// ProfilePatch lists editable profile fields; nil pointers are left unchanged.
type ProfilePatch struct {
	DisplayName *string
	Phone       *string
}

// Readiness statuses.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// DependencyHealth is the outcome of one dependency probe.
type DependencyHealth struct {
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	LatencyMS int64     `json:"latencyMs"`
	CheckedAt time.Time `json:"checkedAt"`
}

// ReadinessReport aggregates dependency probes.
type ReadinessReport struct {
	Status      string                      `json:"status"`
	Checks      map[string]DependencyHealth `json:"checks"`
	GeneratedAt time.Time                   `json:"generatedAt"`
}
