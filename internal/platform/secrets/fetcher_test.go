package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	errors map[string]error
	calls  map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values: map[string]string{},
		errors: map[string]error{},
		calls:  map[string]int{},
	}
}

func (f *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.GetName()]++
	if err, ok := f.errors[req.GetName()]; ok {
		return nil, err
	}
	value, ok := f.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "missing")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    req.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (f *fakeSecretClient) Close() error { return nil }

func (f *fakeSecretClient) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/storefront/secrets/gateway-secret-key/versions/latest"
	client.values[resource] = "sk_live"

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithDefaultProject("storefront"), WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	for i := 0; i < 2; i++ {
		got, err := fetcher.ResolveSecret(ctx, "secret://gateway-secret-key")
		if err != nil || got != "sk_live" {
			t.Fatalf("unexpected resolve result %q %v", got, err)
		}
	}
	if calls := client.callCount(resource); calls != 1 {
		t.Fatalf("expected one remote fetch, got %d", calls)
	}
}

func TestResolveHonoursVersionAndProject(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values["projects/other/secrets/redis-password/versions/4"] = "pinned"

	fetcher, _ := NewFetcher(ctx, WithSecretManagerClient(client), WithDefaultProject("storefront"))
	got, err := fetcher.Resolve(ctx, "secret://redis-password?version=4&project=other")
	if err != nil || got != "pinned" {
		t.Fatalf("unexpected result %q %v", got, err)
	}
}

func TestResolveFallsBackWhenPermissionDenied(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte("GATEWAY_SECRET_KEY=local-secret\n"), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}

	client := newFakeSecretClient()
	client.errors["projects/storefront/secrets/gateway-secret-key/versions/latest"] = status.Error(codes.PermissionDenied, "denied")

	fetcher, _ := NewFetcher(ctx, WithSecretManagerClient(client), WithDefaultProject("storefront"), WithFallbackFile(path))
	got, err := fetcher.Resolve(ctx, "secret://gateway-secret-key")
	if err != nil || got != "local-secret" {
		t.Fatalf("expected fallback value, got %q %v", got, err)
	}
}

func TestResolveDoesNotFallbackOnNotFound(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	_ = os.WriteFile(path, []byte("GATEWAY_SECRET_KEY=local-secret\n"), 0o600)

	fetcher, _ := NewFetcher(ctx, WithSecretManagerClient(newFakeSecretClient()), WithDefaultProject("storefront"), WithFallbackFile(path))
	_, err := fetcher.Resolve(ctx, "secret://gateway-secret-key")
	if status.Code(errors.Unwrap(err)) != codes.NotFound {
		t.Fatalf("expected not found to surface, got %v", err)
	}
}

func TestOfflineFetcherUsesFallbackOnly(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	_ = os.WriteFile(path, []byte("REDIS_PASSWORD=dev\n"), 0o600)

	fetcher, _ := NewFetcher(ctx, WithoutSecretManager(), WithFallbackFile(path))
	got, err := fetcher.Resolve(ctx, "secret://redis.password")
	if err != nil || got != "dev" {
		t.Fatalf("unexpected result %q %v", got, err)
	}
	if _, err := fetcher.Resolve(ctx, "secret://missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestParseReferenceRejectsBadInput(t *testing.T) {
	for _, ref := range []string{"", "https://x", "secret://", "secret://a/b"} {
		if _, err := parseReference(ref); err == nil {
			t.Fatalf("expected %q to be rejected", ref)
		}
	}
}
