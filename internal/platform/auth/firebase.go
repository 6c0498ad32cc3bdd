package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/southernsense/storefront/internal/platform/config"
)

var errVerifierNotInitialised = errors.New("firebase verifier not initialised")

// FirebaseVerifier verifies shopper ID tokens and loads user records for registration.
type FirebaseVerifier struct {
	client       *firebaseauth.Client
	timeout      time.Duration
	checkRevoked bool
}

// FirebaseOption customises FirebaseVerifier instances.
type FirebaseOption func(*FirebaseVerifier)

// WithFirebaseTimeout overrides the timeout used for Admin SDK calls.
func WithFirebaseTimeout(d time.Duration) FirebaseOption {
	return func(v *FirebaseVerifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// NewFirebaseVerifier constructs a FirebaseVerifier backed by the Admin SDK. The SDK honours
// FIREBASE_AUTH_EMULATOR_HOST on its own.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig, opts ...FirebaseOption) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}

	verifier := &FirebaseVerifier{
		client:       client,
		timeout:      defaultVerifyTimeout,
		checkRevoked: cfg.CheckRevoked,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(verifier)
		}
	}
	return verifier, nil
}

// VerifyIDToken checks signature, expiry and audience. With revocation checks enabled it also
// rejects tokens issued before the user's last sign-out-everywhere or account disable.
func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if v == nil || v.client == nil {
		return nil, errVerifierNotInitialised
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	var (
		token *firebaseauth.Token
		err   error
	)
	if v.checkRevoked {
		token, err = v.client.VerifyIDTokenAndCheckRevoked(ctx, idToken)
	} else {
		token, err = v.client.VerifyIDToken(ctx, idToken)
	}
	switch {
	case err == nil:
		return token, nil
	case firebaseauth.IsIDTokenExpired(err):
		return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case firebaseauth.IsIDTokenRevoked(err), firebaseauth.IsUserDisabled(err):
		return nil, fmt.Errorf("%w: %v", ErrTokenRevoked, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return nil, err
	default:
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
}

// GetUser loads the Firebase user record for uid.
func (v *FirebaseVerifier) GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
	if v == nil || v.client == nil {
		return nil, errVerifierNotInitialised
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	return v.client.GetUser(ctx, uid)
}
