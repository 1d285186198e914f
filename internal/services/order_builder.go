package services

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	domain "github.com/homeservices-storefront/api/internal/domain"
)

var (
	// ErrOrderInvalidInput indicates the order inputs cannot produce an order.
	ErrOrderInvalidInput = errors.New("orders: invalid input")
	// ErrUnsupportedValue indicates the order document holds a value the ledger cannot store.
	ErrUnsupportedValue = errors.New("orders: unsupported document value")
)

// OrderCustomer identifies who places the order.
type OrderCustomer struct {
	UserID string
	Email  string
	Name   string
}

// OrderInputs is everything BuildOrder needs. The order id is assigned at submission.
type OrderInputs struct {
	Customer             OrderCustomer
	Items                []CartLineItem
	Address              Address
	DeliveryFee          int
	TipAmount            int
	DeliveryInstructions string
	PaymentMethod        string
	PromoCode            string
	PromoDiscount        int
	WalletUsed           int
	CreatedAt            time.Time
}

// BuildOrder freezes the cart lines and address into a self-contained order. The result shares
// no memory with the inputs.
func BuildOrder(in OrderInputs) (Order, error) {
	if len(in.Items) == 0 {
		return Order{}, fmt.Errorf("%w: no items", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(in.Address.Street) == "" {
		return Order{}, fmt.Errorf("%w: delivery address is required", ErrOrderInvalidInput)
	}
	if in.DeliveryFee < 0 || in.TipAmount < 0 || in.PromoDiscount < 0 || in.WalletUsed < 0 {
		return Order{}, fmt.Errorf("%w: amounts must not be negative", ErrOrderInvalidInput)
	}

	method := strings.ToLower(strings.TrimSpace(in.PaymentMethod))
	if method == "" {
		method = domain.PaymentMethodCard
	}
	if method != domain.PaymentMethodCard && method != domain.PaymentMethodCash {
		return Order{}, fmt.Errorf("%w: payment method %q", ErrOrderInvalidInput, in.PaymentMethod)
	}

	createdAt := in.CreatedAt.UTC()
	order := Order{
		UserID:               strings.TrimSpace(in.Customer.UserID),
		UserEmail:            strings.TrimSpace(in.Customer.Email),
		UserName:             strings.TrimSpace(in.Customer.Name),
		Status:               domain.OrderStatusPending,
		DeliveryFee:          in.DeliveryFee,
		TipAmount:            in.TipAmount,
		DeliveryAddress:      snapshotAddress(in.Address),
		DeliveryInstructions: strings.TrimSpace(in.DeliveryInstructions),
		PaymentMethod:        method,
		PaymentStatus:        domain.PaymentStatusPending,
		CreatedAt:            createdAt,
		UpdatedAt:            createdAt,
	}

	order.Items = make([]OrderLineItem, 0, len(in.Items))
	seenTypes := make(map[string]struct{})
	order.ServiceTypes = []string{}
	for _, line := range in.Items {
		if line.Quantity <= 0 {
			return Order{}, fmt.Errorf("%w: line %s has quantity %d", ErrOrderInvalidInput, line.CartID, line.Quantity)
		}
		snapshot := snapshotOffering(line.ServiceOffering)
		item := OrderLineItem{
			CartID:    line.CartID,
			Quantity:  line.Quantity,
			UnitPrice: snapshot.ActualPrice,
			LineTotal: snapshot.ActualPrice * line.Quantity,
			Service:   snapshot,
		}
		order.Items = append(order.Items, item)
		order.Subtotal += item.LineTotal

		if t := strings.TrimSpace(snapshot.Type); t != "" {
			if _, ok := seenTypes[t]; !ok {
				seenTypes[t] = struct{}{}
				order.ServiceTypes = append(order.ServiceTypes, t)
			}
		}
	}

	if code := strings.TrimSpace(in.PromoCode); code != "" {
		discount := in.PromoDiscount
		order.PromoCode = &code
		order.PromoDiscount = &discount
	}
	if in.WalletUsed > 0 {
		wallet := in.WalletUsed
		order.WalletUsed = &wallet
	}

	order.TotalAmount = order.Subtotal + order.DeliveryFee + order.TipAmount
	if order.PromoDiscount != nil {
		order.TotalAmount -= *order.PromoDiscount
	}
	if order.WalletUsed != nil {
		order.TotalAmount -= *order.WalletUsed
	}
	if order.TotalAmount < 0 {
		return Order{}, fmt.Errorf("%w: discounts exceed the order value", ErrOrderInvalidInput)
	}
	return order, nil
}

func snapshotOffering(o ServiceOffering) domain.OfferingSnapshot {
	price := append([]int{}, o.Price...)
	size := append([]string{}, o.Size...)
	details := append([]domain.Detail{}, o.Details...)
	provider := string(o.Provider)
	if label := strings.TrimSpace(o.ProviderLabel); label != "" {
		provider = label
	}
	return domain.OfferingSnapshot{
		ID:            o.ID,
		Name:          o.Name,
		DisplayName:   o.DisplayName(),
		Introduction:  o.Introduction,
		Price:         price,
		Size:          size,
		Img:           o.Img,
		Type:          o.Type,
		Material:      o.Material,
		Provider:      provider,
		Time:          o.Time,
		Details:       details,
		SelectedSize:  o.SelectedSize,
		IsSizeVariant: o.IsSizeVariant,
		OriginalID:    o.OriginalID,
		ActualPrice:   o.ActualPrice(),
	}
}

func snapshotAddress(a Address) domain.AddressSnapshot {
	return domain.AddressSnapshot{
		ID:             a.ID,
		Street:         a.Street,
		Suburb:         a.Suburb,
		Town:           a.Town,
		Country:        a.Country,
		Zip:            a.Zip,
		AdditionalInfo: a.AdditionalInfo,
		Label:          a.Label,
		Lat:            a.Lat,
		Lng:            a.Lng,
		IsValid:        a.IsValid,
	}
}

// OrderDocument renders the ledger document for order and runs it through SanitizeDocument.
func OrderDocument(order Order) (map[string]any, error) {
	items := make([]any, 0, len(order.Items))
	for _, item := range order.Items {
		details := make([]any, 0, len(item.Service.Details))
		for _, d := range item.Service.Details {
			details = append(details, map[string]any{"key": d.Key, "value": d.Value})
		}
		items = append(items, map[string]any{
			"cartId":    item.CartID,
			"quantity":  item.Quantity,
			"unitPrice": item.UnitPrice,
			"lineTotal": item.LineTotal,
			"service": map[string]any{
				"id":            item.Service.ID,
				"name":          item.Service.Name,
				"displayName":   item.Service.DisplayName,
				"introduction":  item.Service.Introduction,
				"price":         item.Service.Price,
				"size":          item.Service.Size,
				"img":           item.Service.Img,
				"type":          item.Service.Type,
				"material":      item.Service.Material,
				"provider":      item.Service.Provider,
				"time":          item.Service.Time,
				"details":       details,
				"selectedSize":  item.Service.SelectedSize,
				"isSizeVariant": item.Service.IsSizeVariant,
				"originalId":    item.Service.OriginalID,
				"actualPrice":   item.Service.ActualPrice,
			},
		})
	}
	addr := order.DeliveryAddress
	doc := map[string]any{
		"orderId":     order.OrderID,
		"userId":      order.UserID,
		"userEmail":   order.UserEmail,
		"userName":    order.UserName,
		"status":      order.Status,
		"items":       items,
		"subtotal":    order.Subtotal,
		"deliveryFee": order.DeliveryFee,
		"tipAmount":   order.TipAmount,
		"totalAmount": order.TotalAmount,
		"deliveryAddress": map[string]any{
			"id":             addr.ID,
			"street":         addr.Street,
			"suburb":         addr.Suburb,
			"town":           addr.Town,
			"country":        addr.Country,
			"zip":            addr.Zip,
			"additionalInfo": addr.AdditionalInfo,
			"label":          addr.Label,
			"lat":            addr.Lat,
			"lng":            addr.Lng,
			"isValid":        addr.IsValid,
		},
		"deliveryInstructions": order.DeliveryInstructions,
		"paymentMethod":        order.PaymentMethod,
		"paymentStatus":        order.PaymentStatus,
		"paymentReference":     order.PaymentReference,
		"serviceTypes":         order.ServiceTypes,
		"promoCode":            order.PromoCode,
		"promoDiscount":        order.PromoDiscount,
		"walletUsed":           order.WalletUsed,
		"createdAt":            order.CreatedAt,
		"updatedAt":            order.UpdatedAt,
	}
	sanitized, err := SanitizeDocument(doc)
	if err != nil {
		return nil, err
	}
	return sanitized.(map[string]any), nil
}

// SanitizeDocument deep-copies value into plain maps, slices and scalars. Nil pointers, maps,
// slices and interfaces become an explicit nil so no key is dropped. Values the ledger cannot
// store fail with ErrUnsupportedValue naming the offending path.
func SanitizeDocument(value any) (any, error) {
	return sanitizeValue("$", reflect.ValueOf(value))
}

var timeType = reflect.TypeOf(time.Time{})

func sanitizeValue(path string, v reflect.Value) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}
	if v.Type() == timeType {
		return v.Interface().(time.Time).UTC(), nil
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil, nil
		}
		return sanitizeValue(path, v.Elem())
	case reflect.Map:
		if v.IsNil() {
			return nil, nil
		}
		if v.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: %s has non-string keys", ErrUnsupportedValue, path)
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			key := iter.Key().String()
			clean, err := sanitizeValue(path+"."+key, iter.Value())
			if err != nil {
				return nil, err
			}
			out[key] = clean
		}
		return out, nil
	case reflect.Slice:
		if v.IsNil() {
			return nil, nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return append([]byte(nil), v.Bytes()...), nil
		}
		fallthrough
	case reflect.Array:
		out := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			clean, err := sanitizeValue(fmt.Sprintf("%s[%d]", path, i), v.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = clean
		}
		return out, nil
	case reflect.String:
		return v.String(), nil
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return int64(v.Uint()), nil
	case reflect.Uint64, reflect.Uintptr:
		u := v.Uint()
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %s overflows int64", ErrUnsupportedValue, path)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: %s is not a finite number", ErrUnsupportedValue, path)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%w: %s has kind %s", ErrUnsupportedValue, path, v.Kind())
	}
}
