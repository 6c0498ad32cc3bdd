package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/southernsense/storefront/internal/domain"
	pfirestore "github.com/southernsense/storefront/internal/platform/firestore"
	"github.com/southernsense/storefront/internal/repositories"
)

const userCollection = "users"

// UserRepository persists customer profiles in Firestore.
type UserRepository struct {
	base *pfirestore.BaseRepository[userDocument]
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{
		base: pfirestore.NewBaseRepository[userDocument](provider, userCollection, nil),
	}, nil
}

// FindByID loads the user profile by UID.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.UserProfile, error) {
	if r == nil || r.base == nil {
		return domain.UserProfile{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(userID) == "" {
		return domain.UserProfile{}, errors.New("user id is required")
	}

	doc, err := r.base.Get(ctx, strings.TrimSpace(userID))
	if err != nil {
		return domain.UserProfile{}, err
	}
	profile := toDomainProfile(doc.Data)
	profile.ID = doc.ID
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = doc.CreateTime.UTC()
	}
	return profile, nil
}

// Create stores a new profile. An existing document is reported as a conflict.
func (r *UserRepository) Create(ctx context.Context, profile domain.UserProfile) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	id := strings.TrimSpace(profile.ID)
	if id == "" {
		return errors.New("profile id is required")
	}
	return r.base.Create(ctx, id, fromDomainProfile(profile))
}

type userDocument struct {
	UserID    string    `firestore:"userId"`
	Email     string    `firestore:"email"`
	FirstName string    `firestore:"firstName"`
	LastName  string    `firestore:"lastName"`
	Role      string    `firestore:"role"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func fromDomainProfile(profile domain.UserProfile) userDocument {
	return userDocument{
		UserID:    strings.TrimSpace(profile.ID),
		Email:     strings.TrimSpace(profile.Email),
		FirstName: strings.TrimSpace(profile.FirstName),
		LastName:  strings.TrimSpace(profile.LastName),
		Role:      strings.TrimSpace(profile.Role),
		CreatedAt: profile.CreatedAt.UTC(),
	}
}

func toDomainProfile(doc userDocument) domain.UserProfile {
	return domain.UserProfile{
		ID:        doc.UserID,
		Email:     doc.Email,
		FirstName: doc.FirstName,
		LastName:  doc.LastName,
		Role:      doc.Role,
		CreatedAt: doc.CreatedAt.UTC(),
	}
}
