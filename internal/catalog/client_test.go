package catalog

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func stringsReader(s string) io.Reader { return strings.NewReader(s) }

func newCatalogServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/categories/cleaning", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"Specialties":[{"id":1,"name":"Deep clean","price":["300"],"provider":"cleaning"}]}`)
	})
	mux.HandleFunc("/v1/services/deep-clean", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/providers/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestClientListSpecialties(t *testing.T) {
	server := newCatalogServer(t)
	client, err := NewClient(ClientConfig{BaseURL: server.URL + "/v1/"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	offerings, err := client.ListSpecialties(context.Background(), "cleaning")
	if err != nil {
		t.Fatalf("list specialties: %v", err)
	}
	if len(offerings) != 1 || offerings[0].Name != "Deep clean" || offerings[0].ActualPrice() != 300 {
		t.Fatalf("unexpected offerings %+v", offerings)
	}

	if _, err := client.ListSpecialties(context.Background(), "unknown"); !errors.Is(err, ErrCategoryNotFound) {
		t.Fatalf("expected ErrCategoryNotFound, got %v", err)
	}
}

func TestClientExistenceChecks(t *testing.T) {
	server := newCatalogServer(t)
	client, err := NewClient(ClientConfig{BaseURL: server.URL + "/v1", RequestsPerSecond: 100, Burst: 10})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	exists, err := client.ServiceExists(ctx, "deep-clean")
	if err != nil || !exists {
		t.Fatalf("expected service to exist, got %v %v", exists, err)
	}
	exists, err = client.ServiceExists(ctx, "missing")
	if err != nil || exists {
		t.Fatalf("expected missing service, got %v %v", exists, err)
	}

	_, err = client.ProviderExists(ctx, "broken")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusBadGateway {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Fatalf("expected error for empty base url")
	}
}
