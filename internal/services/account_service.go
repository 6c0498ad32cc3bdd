package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	domain "github.com/southernsense/storefront/internal/domain"
	"github.com/southernsense/storefront/internal/repositories"
)

// CustomerRole is assigned to every self-registered account.
const CustomerRole = "customer"

var (
	// ErrAccountInvalidInput indicates registration data failed validation.
	ErrAccountInvalidInput = errors.New("account service: invalid input")
	// ErrAccountNotFound indicates the signed-in user has no profile yet.
	ErrAccountNotFound = errors.New("account service: profile not found")
	// ErrAccountUnavailable indicates the profile store could not be reached.
	ErrAccountUnavailable = errors.New("account service: unavailable")
)

type firebaseUserGetter interface {
	GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)
}

// AccountServiceDeps bundles collaborators for the account service.
type AccountServiceDeps struct {
	Users    repositories.UserRepository
	Firebase firebaseUserGetter
	Clock    func() time.Time
	Logger   func(context.Context, string, map[string]any)
}

type accountService struct {
	users    repositories.UserRepository
	firebase firebaseUserGetter
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
}

var _ AccountService = (*accountService)(nil)

// NewAccountService constructs an AccountService. Firebase is optional and only used to fill in
// names and email the client left out.
func NewAccountService(deps AccountServiceDeps) (AccountService, error) {
	if deps.Users == nil {
		return nil, errors.New("account service: user repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &accountService{
		users:    deps.Users,
		firebase: deps.Firebase,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// Register creates users/{uid}. Calling it again returns the existing profile and created=false.
func (s *accountService) Register(ctx context.Context, cmd RegisterAccountCommand) (UserProfile, bool, error) {
	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return UserProfile{}, false, ErrAccountInvalidInput
	}

	existing, err := s.users.FindByID(ctx, uid)
	if err == nil {
		return existing, false, nil
	}
	if !isRepoNotFound(err) {
		return UserProfile{}, false, fmt.Errorf("%w: %v", ErrAccountUnavailable, err)
	}

	profile := domain.UserProfile{
		ID:        uid,
		Email:     strings.ToLower(cleanFormField(cmd.Email)),
		FirstName: cleanFormField(cmd.FirstName),
		LastName:  cleanFormField(cmd.LastName),
		Role:      CustomerRole,
		CreatedAt: s.now(),
	}
	s.fillFromFirebase(ctx, &profile)

	if profile.FirstName == "" || profile.LastName == "" || !validEmail(profile.Email) {
		return UserProfile{}, false, ErrAccountInvalidInput
	}
	if !maxRunes(maxNameLength)(profile.FirstName) || !maxRunes(maxNameLength)(profile.LastName) {
		return UserProfile{}, false, ErrAccountInvalidInput
	}

	if err := s.users.Create(ctx, profile); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			if current, findErr := s.users.FindByID(ctx, uid); findErr == nil {
				return current, false, nil
			}
		}
		return UserProfile{}, false, fmt.Errorf("%w: %v", ErrAccountUnavailable, err)
	}

	s.logger(ctx, "account.registered", map[string]any{
		"userID": uid,
		"email":  profile.Email,
	})
	return profile, true, nil
}

func (s *accountService) Profile(ctx context.Context, userID string) (UserProfile, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return UserProfile{}, ErrAccountInvalidInput
	}
	profile, err := s.users.FindByID(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return UserProfile{}, ErrAccountNotFound
		}
		return UserProfile{}, fmt.Errorf("%w: %v", ErrAccountUnavailable, err)
	}
	return profile, nil
}

func (s *accountService) fillFromFirebase(ctx context.Context, profile *domain.UserProfile) {
	if s.firebase == nil || (profile.Email != "" && profile.FirstName != "" && profile.LastName != "") {
		return
	}
	record, err := s.firebase.GetUser(ctx, profile.ID)
	if err != nil || record == nil || record.UserInfo == nil {
		if err != nil {
			s.logger(ctx, "account.firebase.lookup_failed", map[string]any{
				"userID": profile.ID,
				"error":  err.Error(),
			})
		}
		return
	}
	if profile.Email == "" {
		profile.Email = strings.ToLower(strings.TrimSpace(record.Email))
	}
	first, last, _ := strings.Cut(cleanFormField(record.DisplayName), " ")
	if profile.FirstName == "" {
		profile.FirstName = first
	}
	if profile.LastName == "" {
		profile.LastName = strings.TrimSpace(last)
	}
}
