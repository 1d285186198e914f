package catalog

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	domain "github.com/homeservices-storefront/api/internal/domain"
)

const fallbackIDRange = 1_000_000_000

// Normalize adapts a raw catalog record into a ServiceOffering. It never fails; missing or
// malformed fields fall back to safe defaults.
func Normalize(raw map[string]any) domain.ServiceOffering {
	prices := coercePrices(raw["price"])
	sizes := coerceSizes(raw["size"])
	prices, sizes = alignVariants(prices, sizes)

	providerRaw := coerceString(raw["provider"])
	provider, _ := domain.LookupProvider(providerRaw)

	offering := domain.ServiceOffering{
		ID:            coerceID(raw),
		Name:          cleanText(raw["name"]),
		Introduction:  cleanText(raw["introduction"]),
		Price:         prices,
		Size:          sizes,
		Img:           strings.TrimSpace(coerceString(raw["img"])),
		Type:          cleanText(raw["type"]),
		Material:      cleanText(raw["material"]),
		Provider:      provider,
		ProviderLabel: domain.DisplayLabel(provider, providerRaw),
		Time:          cleanText(raw["time"]),
		Details:       coerceDetails(raw["details"]),
		SelectedSize:  strings.TrimSpace(coerceString(raw["selectedSize"])),
		IsSizeVariant: coerceBool(raw["isSizeVariant"]),
	}
	if original, ok := coerceInt64(raw["originalId"]); ok && original > 0 {
		offering.OriginalID = original
	}
	return offering
}

// NormalizeAll normalises each record, preserving order.
func NormalizeAll(records []map[string]any) []domain.ServiceOffering {
	out := make([]domain.ServiceOffering, 0, len(records))
	for _, record := range records {
		if record == nil {
			continue
		}
		out = append(out, Normalize(record))
	}
	return out
}

// FallbackID derives a stable identifier in [1, 1e9) from the serialised record.
func FallbackID(raw map[string]any) int64 {
	// encoding/json sorts map keys so equal records hash equally.
	data, err := json.Marshal(raw)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", raw))
	}
	h := fnv.New32a()
	_, _ = h.Write(data)
	return int64(h.Sum32()%(fallbackIDRange-1)) + 1
}

func coerceID(raw map[string]any) int64 {
	for _, key := range []string{"id", "_id"} {
		if id, ok := coerceInt64(raw[key]); ok && id > 0 {
			return id
		}
	}
	return FallbackID(raw)
}

func coercePrices(value any) []int {
	var items []any
	switch v := value.(type) {
	case nil:
	case []any:
		items = v
	case []int:
		for _, p := range v {
			items = append(items, p)
		}
	case []float64:
		for _, p := range v {
			items = append(items, p)
		}
	case []string:
		for _, p := range v {
			items = append(items, p)
		}
	default:
		items = []any{v}
	}

	prices := make([]int, 0, len(items))
	for _, item := range items {
		price, ok := coerceInt64(item)
		if !ok || price < 0 || price > math.MaxInt32 {
			continue
		}
		prices = append(prices, int(price))
	}
	if len(prices) == 0 {
		return []int{0}
	}
	return prices
}

func coerceSizes(value any) []string {
	var sizes []string
	switch v := value.(type) {
	case nil:
	case []any:
		for _, item := range v {
			if item == nil {
				continue
			}
			sizes = append(sizes, strings.TrimSpace(coerceString(item)))
		}
	case []string:
		for _, item := range v {
			sizes = append(sizes, strings.TrimSpace(item))
		}
	default:
		if s := strings.TrimSpace(coerceString(v)); s != "" {
			sizes = []string{s}
		}
	}
	if len(sizes) == 0 {
		return []string{domain.DefaultSize}
	}
	return sizes
}

func alignVariants(prices []int, sizes []string) ([]int, []string) {
	for len(sizes) < len(prices) {
		sizes = append(sizes, fmt.Sprintf("Option %d", len(sizes)+1))
	}
	for len(prices) < len(sizes) {
		prices = append(prices, prices[len(prices)-1])
	}
	return prices, sizes
}

func coerceDetails(value any) []domain.Detail {
	switch v := value.(type) {
	case []any:
		out := make([]domain.Detail, 0, len(v))
		for _, item := range v {
			switch entry := item.(type) {
			case map[string]any:
				key := cleanText(entry["key"])
				if key == "" {
					key = cleanText(entry["label"])
				}
				if key == "" {
					continue
				}
				out = append(out, domain.Detail{Key: key, Value: cleanText(entry["value"])})
			case string:
				if text := cleanText(entry); text != "" {
					out = append(out, domain.Detail{Key: text})
				}
			}
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		out := make([]domain.Detail, 0, len(keys))
		for _, key := range keys {
			out = append(out, domain.Detail{Key: cleanText(key), Value: cleanText(v[key])})
		}
		return out
	default:
		return []domain.Detail{}
	}
}

func coerceInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int64(v), true
	case float32:
		return coerceInt64(float64(v))
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true
		}
		if f, err := v.Float64(); err == nil {
			return coerceInt64(f)
		}
		return 0, false
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, false
		}
		if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return coerceInt64(f)
		}
		return 0, false
	default:
		return 0, false
	}
}

func coerceString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

func coerceBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		return b
	default:
		return false
	}
}

func cleanText(value any) string {
	return strings.TrimSpace(norm.NFC.String(coerceString(value)))
}
