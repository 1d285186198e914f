package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/homeservices-storefront/api/internal/repositories"
)

var (
	// ErrProfileInvalidInput indicates the patch failed validation.
	ErrProfileInvalidInput = errors.New("profile: invalid input")
	// ErrProfileInvalidPhone indicates the phone number is malformed.
	ErrProfileInvalidPhone = errors.New("profile: invalid phone number")
	// ErrProfileUnavailable indicates the identity store could not be reached.
	ErrProfileUnavailable = errors.New("profile: unavailable")

	phonePattern = regexp.MustCompile(`^\+?[0-9()\-\s]{6,20}$`)
)

// ProfileServiceDeps wires the identity store.
type ProfileServiceDeps struct {
	Profiles repositories.ProfileRepository
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type profileService struct {
	profiles repositories.ProfileRepository
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
	sanitize *bluemonday.Policy
}

// NewProfileService constructs the profile service.
func NewProfileService(deps ProfileServiceDeps) (ProfileService, error) {
	if deps.Profiles == nil {
		return nil, errors.New("profile service: profile repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &profileService{
		profiles: deps.Profiles,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
		sanitize: bluemonday.StrictPolicy(),
	}, nil
}

// GetUserProfile returns nil without error when the user has no profile yet.
func (s *profileService) GetUserProfile(ctx context.Context, uid string) (*UserProfile, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, ErrProfileInvalidInput
	}
	profile, err := s.profiles.Get(ctx, uid)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrProfileUnavailable, err)
	}
	return &profile, nil
}

func (s *profileService) UpdateProfile(ctx context.Context, uid string, patch ProfilePatch) (UserProfile, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return UserProfile{}, ErrProfileInvalidInput
	}
	existing, err := s.GetUserProfile(ctx, uid)
	if err != nil {
		return UserProfile{}, err
	}
	profile := UserProfile{UID: uid}
	if existing != nil {
		profile = *existing
	}

	changed := false
	if patch.DisplayName != nil {
		name := strings.TrimSpace(s.sanitize.Sanitize(*patch.DisplayName))
		if length := utf8.RuneCountInString(name); length < 2 || length > 100 {
			return UserProfile{}, fmt.Errorf("%w: display name must be 2-100 characters", ErrProfileInvalidInput)
		}
		changed = changed || name != profile.DisplayName
		profile.DisplayName = name
	}
	if patch.Phone != nil {
		phone := strings.TrimSpace(*patch.Phone)
		if phone != "" && !phonePattern.MatchString(phone) {
			return UserProfile{}, ErrProfileInvalidPhone
		}
		changed = changed || phone != profile.Phone
		profile.Phone = phone
	}
	if !changed && existing != nil {
		return profile, nil
	}

	profile.UpdatedAt = s.now()
	saved, err := s.profiles.Upsert(ctx, profile)
	if err != nil {
		return UserProfile{}, fmt.Errorf("%w: %v", ErrProfileUnavailable, err)
	}
	s.logger(ctx, "profile.updated", map[string]any{"userId": uid, "complete": ProfileComplete(&saved)})
	return saved, nil
}

// ProfileComplete reports whether the profile has the name and phone checkout needs.
func ProfileComplete(profile *UserProfile) bool {
	if profile == nil {
		return false
	}
	return strings.TrimSpace(profile.DisplayName) != "" && strings.TrimSpace(profile.Phone) != ""
}
