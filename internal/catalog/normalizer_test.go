package catalog

import (
	"encoding/json"
	"reflect"
	"testing"

	domain "github.com/homeservices-storefront/api/internal/domain"
)

func TestNormalizeCoercesPricesAndSizes(t *testing.T) {
	offering := Normalize(map[string]any{
		"id":       float64(5),
		"name":     "  Carpet clean ",
		"price":    []any{"100", float64(150), "abc", nil, float64(-3)},
		"size":     []any{"S", "L"},
		"provider": "Cleaners",
	})

	if offering.ID != 5 {
		t.Fatalf("expected id 5, got %d", offering.ID)
	}
	if offering.Name != "Carpet clean" {
		t.Fatalf("unexpected name %q", offering.Name)
	}
	if !reflect.DeepEqual(offering.Price, []int{100, 150}) {
		t.Fatalf("unexpected prices %v", offering.Price)
	}
	if !reflect.DeepEqual(offering.Size, []string{"S", "L"}) {
		t.Fatalf("unexpected sizes %v", offering.Size)
	}
	if offering.Provider != domain.ProviderCleaning {
		t.Fatalf("unexpected provider %q", offering.Provider)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	offering := Normalize(map[string]any{"name": "Mystery"})

	if !reflect.DeepEqual(offering.Price, []int{0}) {
		t.Fatalf("expected fallback price [0], got %v", offering.Price)
	}
	if !reflect.DeepEqual(offering.Size, []string{domain.DefaultSize}) {
		t.Fatalf("expected fallback size, got %v", offering.Size)
	}
	if offering.ID <= 0 || offering.ID >= fallbackIDRange {
		t.Fatalf("fallback id out of range: %d", offering.ID)
	}
	if offering.Details == nil {
		t.Fatalf("expected non-nil details")
	}
	if offering.Provider != domain.ProviderOther {
		t.Fatalf("expected other provider, got %q", offering.Provider)
	}
}

func TestNormalizeAlignsVariantLengths(t *testing.T) {
	offering := Normalize(map[string]any{
		"id":    "9",
		"price": []any{float64(10), float64(20), float64(30)},
		"size":  []any{"Small"},
	})
	if len(offering.Price) != len(offering.Size) {
		t.Fatalf("price/size length mismatch: %v %v", offering.Price, offering.Size)
	}

	offering = Normalize(map[string]any{
		"id":    float64(9),
		"price": float64(40),
		"size":  []any{"A", "B"},
	})
	if !reflect.DeepEqual(offering.Price, []int{40, 40}) {
		t.Fatalf("expected padded prices, got %v", offering.Price)
	}
}

func TestFallbackIDIsDeterministic(t *testing.T) {
	a := map[string]any{"name": "Gutter clean", "price": []any{float64(1)}}
	b := map[string]any{"price": []any{float64(1)}, "name": "Gutter clean"}
	if FallbackID(a) != FallbackID(b) {
		t.Fatalf("expected equal records to hash equally")
	}
	c := map[string]any{"name": "Window clean"}
	if FallbackID(a) == FallbackID(c) {
		t.Fatalf("expected different records to produce different ids")
	}
	if Normalize(a).ID != Normalize(b).ID {
		t.Fatalf("normalised fallback ids differ")
	}
}

func TestNormalizeDetails(t *testing.T) {
	offering := Normalize(map[string]any{
		"id": float64(1),
		"details": []any{
			map[string]any{"key": "Duration", "value": "2h"},
			map[string]any{"value": "orphan"},
			"Eco friendly",
		},
	})
	want := []domain.Detail{{Key: "Duration", Value: "2h"}, {Key: "Eco friendly"}}
	if !reflect.DeepEqual(offering.Details, want) {
		t.Fatalf("unexpected details %+v", offering.Details)
	}
}

func TestDecodeSpecialtiesAcceptsBothCasings(t *testing.T) {
	for _, payload := range []string{
		`{"Specialties":[{"id":5,"name":"Plumbing call-out","price":[100,150],"size":["S","L"]}]}`,
		`{"specialties":[{"id":5,"name":"Plumbing call-out","price":[100,150],"size":["S","L"]}]}`,
	} {
		offerings, err := DecodeSpecialties([]byte(payload))
		if err != nil {
			t.Fatalf("decode %s: %v", payload, err)
		}
		if len(offerings) != 1 || offerings[0].ID != 5 {
			t.Fatalf("unexpected offerings %+v", offerings)
		}
		selected := offerings[0].WithSize("L")
		if selected.ActualPrice() != 150 {
			t.Fatalf("expected price 150, got %d", selected.ActualPrice())
		}
	}

	offerings, err := DecodeSpecialties([]byte(`{}`))
	if err != nil {
		t.Fatalf("decode empty: %v", err)
	}
	if len(offerings) != 0 {
		t.Fatalf("expected no offerings")
	}
}

func TestNormalizeJSONNumbers(t *testing.T) {
	var raw map[string]any
	decoder := json.NewDecoder(stringsReader(`{"id": 12, "price": [99.9, "120"]}`))
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	offering := Normalize(raw)
	if offering.ID != 12 {
		t.Fatalf("expected id 12, got %d", offering.ID)
	}
	if !reflect.DeepEqual(offering.Price, []int{99, 120}) {
		t.Fatalf("unexpected prices %v", offering.Price)
	}
}
