package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/homeservices-storefront/api/internal/domain"
	pfirestore "github.com/homeservices-storefront/api/internal/platform/firestore"
	"github.com/homeservices-storefront/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository writes the global order ledger (orders/{id}) and the owner's ledger
// (users/{uid}/orders/{id}) together.
type OrderRepository struct {
	provider *pfirestore.Provider
	global   *pfirestore.BaseRepository[orderDocument]
	now      func() time.Time
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		global:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil),
		now:      time.Now,
	}, nil
}

// CreateLedgers stores the identical document in both ledgers in one transaction. The global
// document is created, never overwritten, so an id collision aborts the whole write.
func (r *OrderRepository) CreateLedgers(ctx context.Context, orderID string, ownerID string, doc map[string]any) error {
	globalRef, userRef, err := r.refs(ctx, ownerID, orderID)
	if err != nil {
		return err
	}
	if doc == nil {
		return errors.New("order repository: document is required")
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(globalRef); err == nil {
			return fmt.Errorf("%w: %s", repositories.ErrOrderIDTaken, orderID)
		} else if !pfirestore.IsNotFoundStatus(err) {
			return err
		}
		if err := tx.Create(globalRef, doc); err != nil {
			return err
		}
		return tx.Set(userRef, doc)
	})
	if err != nil {
		if pfirestore.IsAlreadyExists(err) {
			return fmt.Errorf("%w: %s", repositories.ErrOrderIDTaken, orderID)
		}
		return pfirestore.WrapError("orders.create", err)
	}
	return nil
}

// Get reads the order from the owner's ledger, or the global ledger when ownerID is empty.
func (r *OrderRepository) Get(ctx context.Context, ownerID string, orderID string) (domain.Order, error) {
	if r == nil || r.global == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	repo := r.global
	if uid := strings.TrimSpace(ownerID); uid != "" {
		scoped, err := r.global.Scoped(usersCollection, uid)
		if err != nil {
			return domain.Order{}, err
		}
		repo = scoped
	}
	doc, err := repo.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	order := doc.Data.toDomain()
	if order.OrderID == "" {
		order.OrderID = doc.ID
	}
	return order, nil
}

// UpdatePaymentStatus patches the mutable payment fields on both ledgers atomically.
func (r *OrderRepository) UpdatePaymentStatus(ctx context.Context, ownerID string, orderID string, update domain.PaymentStatusUpdate) error {
	globalRef, userRef, err := r.refs(ctx, ownerID, orderID)
	if err != nil {
		return err
	}
	updatedAt := update.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = r.now()
	}
	updates := []firestore.Update{{Path: "updatedAt", Value: updatedAt.UTC()}}
	if status := strings.TrimSpace(update.Status); status != "" {
		updates = append(updates, firestore.Update{Path: "status", Value: status})
	}
	if status := strings.TrimSpace(update.PaymentStatus); status != "" {
		updates = append(updates, firestore.Update{Path: "paymentStatus", Value: status})
	}
	if ref := strings.TrimSpace(update.PaymentReference); ref != "" {
		updates = append(updates, firestore.Update{Path: "paymentReference", Value: ref})
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Update(globalRef, updates); err != nil {
			return err
		}
		return tx.Update(userRef, updates)
	})
	return pfirestore.WrapError("orders.updatePayment", err)
}

func (r *OrderRepository) refs(ctx context.Context, ownerID, orderID string) (*firestore.DocumentRef, *firestore.DocumentRef, error) {
	if r == nil || r.provider == nil || r.global == nil {
		return nil, nil, errors.New("order repository not initialised")
	}
	uid := strings.TrimSpace(ownerID)
	if uid == "" {
		return nil, nil, errors.New("order repository: owner id is required")
	}
	id := strings.TrimSpace(orderID)
	globalRef, err := r.global.DocumentRef(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	userLedger, err := r.global.Scoped(usersCollection, uid)
	if err != nil {
		return nil, nil, err
	}
	userRef, err := userLedger.DocumentRef(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return globalRef, userRef, nil
}

type orderDocument struct {
	OrderID              string               `firestore:"orderId"`
	UserID               string               `firestore:"userId"`
	UserEmail            string               `firestore:"userEmail"`
	UserName             string               `firestore:"userName"`
	Status               string               `firestore:"status"`
	Items                []orderItemDocument  `firestore:"items"`
	Subtotal             int                  `firestore:"subtotal"`
	DeliveryFee          int                  `firestore:"deliveryFee"`
	TipAmount            int                  `firestore:"tipAmount"`
	TotalAmount          int                  `firestore:"totalAmount"`
	DeliveryAddress      orderAddressDocument `firestore:"deliveryAddress"`
	DeliveryInstructions string               `firestore:"deliveryInstructions"`
	PaymentMethod        string               `firestore:"paymentMethod"`
	PaymentStatus        string               `firestore:"paymentStatus"`
	PaymentReference     string               `firestore:"paymentReference"`
	ServiceTypes         []string             `firestore:"serviceTypes"`
	PromoCode            *string              `firestore:"promoCode"`
	PromoDiscount        *int                 `firestore:"promoDiscount"`
	WalletUsed           *int                 `firestore:"walletUsed"`
	CreatedAt            time.Time            `firestore:"createdAt"`
	UpdatedAt            time.Time            `firestore:"updatedAt"`
}

type orderItemDocument struct {
	CartID    string               `firestore:"cartId"`
	Quantity  int                  `firestore:"quantity"`
	UnitPrice int                  `firestore:"unitPrice"`
	LineTotal int                  `firestore:"lineTotal"`
	Service   orderServiceDocument `firestore:"service"`
}

type orderServiceDocument struct {
	ID            int64               `firestore:"id"`
	Name          string              `firestore:"name"`
	DisplayName   string              `firestore:"displayName"`
	Introduction  string              `firestore:"introduction"`
	Price         []int               `firestore:"price"`
	Size          []string            `firestore:"size"`
	Img           string              `firestore:"img"`
	Type          string              `firestore:"type"`
	Material      string              `firestore:"material"`
	Provider      string              `firestore:"provider"`
	Time          string              `firestore:"time"`
	Details       []map[string]string `firestore:"details"`
	SelectedSize  string              `firestore:"selectedSize"`
	IsSizeVariant bool                `firestore:"isSizeVariant"`
	OriginalID    int64               `firestore:"originalId"`
	ActualPrice   int                 `firestore:"actualPrice"`
}

type orderAddressDocument struct {
	ID             string  `firestore:"id"`
	Street         string  `firestore:"street"`
	Suburb         string  `firestore:"suburb"`
	Town           string  `firestore:"town"`
	Country        string  `firestore:"country"`
	Zip            string  `firestore:"zip"`
	AdditionalInfo string  `firestore:"additionalInfo"`
	Label          string  `firestore:"label"`
	Lat            float64 `firestore:"lat"`
	Lng            float64 `firestore:"lng"`
	IsValid        bool    `firestore:"isValid"`
}

func (d orderDocument) toDomain() domain.Order {
	order := domain.Order{
		OrderID:              d.OrderID,
		UserID:               d.UserID,
		UserEmail:            d.UserEmail,
		UserName:             d.UserName,
		Status:               d.Status,
		Subtotal:             d.Subtotal,
		DeliveryFee:          d.DeliveryFee,
		TipAmount:            d.TipAmount,
		TotalAmount:          d.TotalAmount,
		DeliveryInstructions: d.DeliveryInstructions,
		PaymentMethod:        d.PaymentMethod,
		PaymentStatus:        d.PaymentStatus,
		PaymentReference:     d.PaymentReference,
		ServiceTypes:         append([]string(nil), d.ServiceTypes...),
		PromoCode:            d.PromoCode,
		PromoDiscount:        d.PromoDiscount,
		WalletUsed:           d.WalletUsed,
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
		DeliveryAddress: domain.AddressSnapshot{
			ID:             d.DeliveryAddress.ID,
			Street:         d.DeliveryAddress.Street,
			Suburb:         d.DeliveryAddress.Suburb,
			Town:           d.DeliveryAddress.Town,
			Country:        d.DeliveryAddress.Country,
			Zip:            d.DeliveryAddress.Zip,
			AdditionalInfo: d.DeliveryAddress.AdditionalInfo,
			Label:          d.DeliveryAddress.Label,
			Lat:            d.DeliveryAddress.Lat,
			Lng:            d.DeliveryAddress.Lng,
			IsValid:        d.DeliveryAddress.IsValid,
		},
	}
	order.Items = make([]domain.OrderLineItem, 0, len(d.Items))
	for _, item := range d.Items {
		details := make([]domain.Detail, 0, len(item.Service.Details))
		for _, detail := range item.Service.Details {
			details = append(details, domain.Detail{Key: detail["key"], Value: detail["value"]})
		}
		order.Items = append(order.Items, domain.OrderLineItem{
			CartID:    item.CartID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal,
			Service: domain.OfferingSnapshot{
				ID:            item.Service.ID,
				Name:          item.Service.Name,
				DisplayName:   item.Service.DisplayName,
				Introduction:  item.Service.Introduction,
				Price:         append([]int(nil), item.Service.Price...),
				Size:          append([]string(nil), item.Service.Size...),
				Img:           item.Service.Img,
				Type:          item.Service.Type,
				Material:      item.Service.Material,
				Provider:      item.Service.Provider,
				Time:          item.Service.Time,
				Details:       details,
				SelectedSize:  item.Service.SelectedSize,
				IsSizeVariant: item.Service.IsSizeVariant,
				OriginalID:    item.Service.OriginalID,
				ActualPrice:   item.Service.ActualPrice,
			},
		})
	}
	return order
}
