package services

import (
	"path"
	"strings"
)

// Navigation paths shared with the static site.
const (
	AccountPath  = "/account/"
	LoginPath    = "/login/"
	RegisterPath = "/register/"
)

// Link identifiers toggled by auth state.
const (
	LinkLogin    = "login"
	LinkRegister = "register"
	LinkAccount  = "account"
	LinkLogout   = "logout"
)

type navigationService struct{}

var _ NavigationService = navigationService{}

// NewNavigationService returns the stateless navigation rule set.
func NewNavigationService() NavigationService {
	return navigationService{}
}

// Evaluate recomputes the full decision from path and user. Repeated calls with the same input give the
// same answer, so redundant auth emissions are harmless.
func (navigationService) Evaluate(rawPath string, user *NavigationUser) NavigationDecision {
	p := NormalizePagePath(rawPath)
	signedIn := user != nil && strings.TrimSpace(user.UID) != ""

	decision := NavigationDecision{Path: p}
	if signedIn {
		decision.VisibleLinks = []string{LinkAccount, LinkLogout}
	} else {
		decision.VisibleLinks = []string{LinkLogin, LinkRegister}
	}

	switch {
	case !signedIn && requiresAuth(p):
		decision.Redirect = LoginPath
	case signedIn && forbidsAuth(p):
		decision.Redirect = AccountPath
	}
	return decision
}

// NormalizePagePath maps "/account", "/account.html" and "/account/?x=1" to "/account/".
func NormalizePagePath(raw string) string {
	p := strings.TrimSpace(raw)
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	p = path.Clean("/" + p)
	switch {
	case p == "/index.html":
		return "/"
	case strings.HasSuffix(p, "/index.html"):
		p = strings.TrimSuffix(p, "index.html")
	case strings.HasSuffix(p, ".html"):
		p = strings.TrimSuffix(p, ".html") + "/"
	case path.Ext(p) == "" && !strings.HasSuffix(p, "/"):
		p += "/"
	}
	return p
}

func requiresAuth(p string) bool {
	return strings.HasPrefix(p, AccountPath)
}

func forbidsAuth(p string) bool {
	return p == LoginPath || p == RegisterPath
}
