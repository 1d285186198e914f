package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/homeservices-storefront/api/internal/domain"
	pfirestore "github.com/homeservices-storefront/api/internal/platform/firestore"
	"github.com/homeservices-storefront/api/internal/repositories"
)

const (
	usersCollection     = "users"
	addressesCollection = "addresses"
)

// AddressRepository persists user addresses under users/{uid}/addresses.
type AddressRepository struct {
	base *pfirestore.BaseRepository[addressDocument]
	now  func() time.Time
}

var _ repositories.AddressRepository = (*AddressRepository)(nil)

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{
		base: pfirestore.NewBaseRepository[addressDocument](provider, addressesCollection, nil),
		now:  time.Now,
	}, nil
}

// List returns all addresses for the user ordered newest first.
func (r *AddressRepository) List(ctx context.Context, userID string) ([]domain.Address, error) {
	repo, err := r.forUser(userID)
	if err != nil {
		return nil, err
	}
	docs, err := repo.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("timestamp", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}
	addresses := make([]domain.Address, 0, len(docs))
	for _, doc := range docs {
		addresses = append(addresses, doc.Data.toDomain(doc.ID))
	}
	return addresses, nil
}

// Create inserts a new address document with a Firestore-generated id.
func (r *AddressRepository) Create(ctx context.Context, userID string, addr domain.Address) (domain.Address, error) {
	repo, err := r.forUser(userID)
	if err != nil {
		return domain.Address{}, err
	}
	ref, err := repo.NewDocumentRef(ctx)
	if err != nil {
		return domain.Address{}, err
	}
	doc := newAddressDocument(addr, r.now().UTC())
	if _, err := ref.Create(ctx, doc); err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.create", err)
	}
	return doc.toDomain(ref.ID), nil
}

// SetSelected flips the selected flag of a single address document.
func (r *AddressRepository) SetSelected(ctx context.Context, userID string, addressID string, selected bool) error {
	repo, err := r.forUser(userID)
	if err != nil {
		return err
	}
	return repo.Update(ctx, strings.TrimSpace(addressID), []firestore.Update{
		{Path: "selected", Value: selected},
		{Path: "updatedAt", Value: r.now().UTC()},
	})
}

// Delete removes the address document.
func (r *AddressRepository) Delete(ctx context.Context, userID string, addressID string) error {
	repo, err := r.forUser(userID)
	if err != nil {
		return err
	}
	return repo.Delete(ctx, strings.TrimSpace(addressID))
}

func (r *AddressRepository) forUser(userID string) (*pfirestore.BaseRepository[addressDocument], error) {
	if r == nil || r.base == nil {
		return nil, errors.New("address repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("address repository: user id is required")
	}
	return r.base.Scoped(usersCollection, uid)
}

type addressDocument struct {
	Street         string    `firestore:"street"`
	Suburb         string    `firestore:"suburb"`
	Town           string    `firestore:"town"`
	Country        string    `firestore:"country"`
	Zip            string    `firestore:"zip"`
	AdditionalInfo string    `firestore:"additionalInfo"`
	Label          string    `firestore:"label"`
	Selected       bool      `firestore:"selected"`
	Lat            float64   `firestore:"lat"`
	Lng            float64   `firestore:"lng"`
	IsValid        bool      `firestore:"isValid"`
	Timestamp      time.Time `firestore:"timestamp"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

func newAddressDocument(addr domain.Address, now time.Time) addressDocument {
	timestamp := addr.Timestamp.UTC()
	if addr.Timestamp.IsZero() {
		timestamp = now
	}
	return addressDocument{
		Street:         addr.Street,
		Suburb:         addr.Suburb,
		Town:           addr.Town,
		Country:        addr.Country,
		Zip:            addr.Zip,
		AdditionalInfo: addr.AdditionalInfo,
		Label:          addr.Label,
		Selected:       addr.Selected,
		Lat:            addr.Lat,
		Lng:            addr.Lng,
		IsValid:        addr.IsValid,
		Timestamp:      timestamp,
		UpdatedAt:      now,
	}
}

func (d addressDocument) toDomain(id string) domain.Address {
	return domain.Address{
		ID:             id,
		Street:         d.Street,
		Suburb:         d.Suburb,
		Town:           d.Town,
		Country:        d.Country,
		Zip:            d.Zip,
		AdditionalInfo: d.AdditionalInfo,
		Label:          d.Label,
		Selected:       d.Selected,
		Lat:            d.Lat,
		Lng:            d.Lng,
		IsValid:        d.IsValid,
		Timestamp:      d.Timestamp,
	}
}
