package repositories

import (
	"context"
	"errors"
	"time"

	domain "github.com/homeservices-storefront/api/internal/domain"
)

// ErrOrderIDTaken is returned by OrderRepository.CreateLedgers when the global ledger already
// holds a document with the requested order id.
var ErrOrderIDTaken = errors.New("order repository: order id already exists")

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// AddressRepository is the per-user remote address collection (users/{uid}/addresses).
type AddressRepository interface {
	// List returns every address for the user, newest first.
	List(ctx context.Context, userID string) ([]domain.Address, error)
	// Create inserts addr and returns it carrying the remote-assigned id.
	Create(ctx context.Context, userID string, addr domain.Address) (domain.Address, error)
	SetSelected(ctx context.Context, userID string, addressID string, selected bool) error
	Delete(ctx context.Context, userID string, addressID string) error
}

// AddressCache is the single-slot device-local address cache.
type AddressCache interface {
	// Load returns nil when the device has no cached address.
	Load(ctx context.Context, deviceID string) (*domain.Address, error)
	Save(ctx context.Context, deviceID string, addr domain.Address) error
	Clear(ctx context.Context, deviceID string) error
}

// CartMutation edits a cart in place. Returning an error aborts the write.
type CartMutation func(cart *domain.Cart) error

// CartStateRepository persists the whole device cart under one key.
type CartStateRepository interface {
	// Load returns an empty cart when nothing is stored.
	Load(ctx context.Context, deviceID string) (domain.Cart, error)
	// Mutate runs fn against the latest stored state and persists the result atomically.
	Mutate(ctx context.Context, deviceID string, fn CartMutation) (domain.Cart, error)
	Clear(ctx context.Context, deviceID string) error
}

// OrderRepository owns the global order ledger and the per-user order ledgers.
type OrderRepository interface {
	// CreateLedgers writes doc to orders/{orderID} and users/{ownerID}/orders/{orderID} in one
	// transaction. An existing global document yields ErrOrderIDTaken.
	CreateLedgers(ctx context.Context, orderID string, ownerID string, doc map[string]any) error
	Get(ctx context.Context, ownerID string, orderID string) (domain.Order, error)
	UpdatePaymentStatus(ctx context.Context, ownerID string, orderID string, update domain.PaymentStatusUpdate) error
}

// ProfileRepository reads and writes identity store profiles.
type ProfileRepository interface {
	Get(ctx context.Context, uid string) (domain.UserProfile, error)
	Upsert(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error)
}

// ExistenceCache memoises catalog existence checks.
type ExistenceCache interface {
	// Lookup reports the cached answer; found is false on a cache miss.
	Lookup(ctx context.Context, key string) (exists bool, found bool, err error)
	Store(ctx context.Context, key string, exists bool, ttl time.Duration) error
}

// ReadinessRepository reports dependency health for readiness probes.
type ReadinessRepository interface {
	Collect(ctx context.Context) (domain.ReadinessReport, error)
}

// IsNotFound reports whether err is a repository not-found error.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsUnavailable reports whether err is a transient repository failure.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
