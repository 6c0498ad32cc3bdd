package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/southernsense/storefront/internal/services"
)

func TestMeHandlersGetProfile(t *testing.T) {
	created := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	accounts := &stubAccountService{
		profileFunc: func(ctx context.Context, userID string) (services.UserProfile, error) {
			if userID != "user-1" {
				t.Fatalf("unexpected user %q", userID)
			}
			return services.UserProfile{ID: "user-1", Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace", Role: "customer", CreatedAt: created}, nil
		},
	}
	handler := NewMeHandlers(nil, accounts, nil)
	router := chi.NewRouter()
	router.Route("/me", handler.Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodGet, "/me", nil), "user-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp profileResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Profile.FirstName != "Ada" || resp.Profile.CreatedAt != "2024-03-01T08:00:00Z" {
		t.Fatalf("unexpected profile %#v", resp.Profile)
	}
}

func TestMeHandlersGetProfileErrors(t *testing.T) {
	accounts := &stubAccountService{
		profileFunc: func(context.Context, string) (services.UserProfile, error) {
			return services.UserProfile{}, services.ErrAccountNotFound
		},
	}
	handler := NewMeHandlers(nil, accounts, nil)

	rr := httptest.NewRecorder()
	handler.getProfile(rr, httptest.NewRequest(http.MethodGet, "/me", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.getProfile(rr, withUser(httptest.NewRequest(http.MethodGet, "/me", nil), "user-1"))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestMeHandlersStreamCart(t *testing.T) {
	carts := &stubCartService{
		watchFunc: func(ctx context.Context, userID string, fn func(services.CartView) error) error {
			if userID != "user-1" {
				t.Errorf("unexpected user %q", userID)
			}
			if err := fn(services.CartView{Cart: services.Cart{Key: "user:user-1"}}); err != nil {
				return err
			}
			if err := fn(sampleCartView("user:user-1")); err != nil {
				return err
			}
			<-ctx.Done()
			return ctx.Err()
		},
	}
	handler := NewMeHandlers(nil, nil, carts, WithStreamHeartbeat(time.Hour))
	router := chi.NewRouter()
	router.Route("/me", handler.Routes)

	server := httptest.NewServer(withTestUser(router, "user-1"))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/me/cart/stream", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %q", ct)
	}

	totals := make([]string, 0, 2)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() && len(totals) < 2 {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var payload cartPayload
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &payload); err != nil {
			t.Fatalf("failed to decode event: %v", err)
		}
		totals = append(totals, payload.Totals.Total)
	}
	if len(totals) != 2 || totals[0] != "0.00" || totals[1] != "39.25" {
		t.Fatalf("unexpected event totals %v", totals)
	}
}

func TestMeHandlersStreamCartWatchFailure(t *testing.T) {
	carts := &stubCartService{
		watchFunc: func(context.Context, string, func(services.CartView) error) error {
			return services.ErrCartUnavailable
		},
	}
	handler := NewMeHandlers(nil, nil, carts)

	rr := httptest.NewRecorder()
	handler.streamCart(rr, withUser(httptest.NewRequest(http.MethodGet, "/me/cart/stream", nil), "user-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected stream to open, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "event: error") {
		t.Fatalf("expected error event, got %q", rr.Body.String())
	}
}

func withTestUser(next http.Handler, uid string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, withUser(r, uid))
	})
}

type stubAccountService struct {
	registerFunc func(ctx context.Context, cmd services.RegisterAccountCommand) (services.UserProfile, bool, error)
	profileFunc  func(ctx context.Context, userID string) (services.UserProfile, error)
}

func (s *stubAccountService) Register(ctx context.Context, cmd services.RegisterAccountCommand) (services.UserProfile, bool, error) {
	if s.registerFunc != nil {
		return s.registerFunc(ctx, cmd)
	}
	return services.UserProfile{}, false, errors.New("not implemented")
}

func (s *stubAccountService) Profile(ctx context.Context, userID string) (services.UserProfile, error) {
	if s.profileFunc != nil {
		return s.profileFunc(ctx, userID)
	}
	return services.UserProfile{}, errors.New("not implemented")
}
