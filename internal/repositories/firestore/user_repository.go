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

// ProfileRepository stores customer profiles on users/{uid}.
type ProfileRepository struct {
	base *pfirestore.BaseRepository[profileDocument]
	now  func() time.Time
}

var _ repositories.ProfileRepository = (*ProfileRepository)(nil)

// NewProfileRepository constructs a Firestore-backed profile repository.
func NewProfileRepository(provider *pfirestore.Provider) (*ProfileRepository, error) {
	if provider == nil {
		return nil, errors.New("profile repository requires firestore provider")
	}
	return &ProfileRepository{
		base: pfirestore.NewBaseRepository[profileDocument](provider, usersCollection, nil),
		now:  time.Now,
	}, nil
}

// Get loads the profile for uid.
func (r *ProfileRepository) Get(ctx context.Context, uid string) (domain.UserProfile, error) {
	if r == nil || r.base == nil {
		return domain.UserProfile{}, errors.New("profile repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(uid))
	if err != nil {
		return domain.UserProfile{}, err
	}
	profile := doc.Data.toDomain(doc.ID)
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = doc.UpdateTime
	}
	return profile, nil
}

// Upsert merges the profile fields into users/{uid}, leaving unrelated fields intact.
func (r *ProfileRepository) Upsert(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error) {
	if r == nil || r.base == nil {
		return domain.UserProfile{}, errors.New("profile repository not initialised")
	}
	ref, err := r.base.DocumentRef(ctx, strings.TrimSpace(profile.UID))
	if err != nil {
		return domain.UserProfile{}, err
	}
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = r.now().UTC()
	}
	doc := profileDocument{
		DisplayName: strings.TrimSpace(profile.DisplayName),
		Email:       strings.TrimSpace(profile.Email),
		Phone:       strings.TrimSpace(profile.Phone),
		UpdatedAt:   profile.UpdatedAt,
	}
	if _, err := ref.Set(ctx, doc.fields(), firestore.MergeAll); err != nil {
		return domain.UserProfile{}, pfirestore.WrapError("users.upsert", err)
	}
	return doc.toDomain(ref.ID), nil
}

type profileDocument struct {
	DisplayName string    `firestore:"displayName"`
	Email       string    `firestore:"email"`
	Phone       string    `firestore:"phone"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func (d profileDocument) fields() map[string]any {
	return map[string]any{
		"displayName": d.DisplayName,
		"email":       d.Email,
		"phone":       d.Phone,
		"updatedAt":   d.UpdatedAt,
	}
}

func (d profileDocument) toDomain(uid string) domain.UserProfile {
	return domain.UserProfile{
		UID:         uid,
		DisplayName: d.DisplayName,
		Email:       d.Email,
		Phone:       d.Phone,
		UpdatedAt:   d.UpdatedAt,
	}
}
