package session

import (
	"net/http"
	"strings"

	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/config"
)

// Endpoints are the identity provider paths. Matching is by path suffix so
// the same table works behind any API base path.
type Endpoints struct {
	Login   string
	Refresh string
	Me      string
	Logout  string
}

// DefaultEndpoints matches the HMS backend's routes.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Login:   "/auth/login",
		Refresh: "/auth/refresh",
		Me:      "/auth/me",
		Logout:  "/auth/logout",
	}
}

// EndpointsFromConfig copies the configured paths.
func EndpointsFromConfig(cfg config.EndpointsConfig) Endpoints {
	return Endpoints{Login: cfg.Login, Refresh: cfg.Refresh, Me: cfg.Me, Logout: cfg.Logout}
}

func matchEndpoint(path, endpoint string) bool {
	if endpoint == "" {
		return false
	}
	path = strings.TrimSuffix(path, "/")
	return strings.HasSuffix(path, strings.TrimSuffix(endpoint, "/"))
}

// IsRefresh reports whether path is the renewal endpoint.
func (e Endpoints) IsRefresh(path string) bool { return matchEndpoint(path, e.Refresh) }

// IsVerify reports whether path is the "who am I" endpoint.
func (e Endpoints) IsVerify(path string) bool { return matchEndpoint(path, e.Me) }

// IsAuth reports whether path belongs to the identity provider itself.
// A 401 from these never triggers renewal.
func (e Endpoints) IsAuth(path string) bool {
	return matchEndpoint(path, e.Login) || matchEndpoint(path, e.Logout) ||
		e.IsVerify(path) || e.IsRefresh(path)
}

// Failure describes a request that did not succeed.
type Failure struct {
	Path   string
	Status int   // 0 when no response arrived
	Err    error // transport error, if any
}

// Classifier maps failures to classes for one endpoint table.
type Classifier struct {
	endpoints Endpoints
}

// NewClassifier returns a classifier for ep.
func NewClassifier(ep Endpoints) Classifier {
	return Classifier{endpoints: ep}
}

// Endpoints returns the endpoint table.
func (c Classifier) Endpoints() Endpoints { return c.endpoints }

// Classify applies the rules in priority order:
//  1. network failure or 5xx: Transient
//  2. 401 outside the identity provider endpoints: AuthExpired
//  3. 400 or 403 from the renewal endpoint: AuthInvalid
//  4. 403 from the verify endpoint: AuthInvalid
//  5. anything else: Retryable
func (c Classifier) Classify(f Failure) Class {
	switch {
	case f.Err != nil || f.Status == 0 || f.Status >= http.StatusInternalServerError:
		return Transient
	case f.Status == http.StatusUnauthorized && !c.endpoints.IsAuth(f.Path):
		return AuthExpired
	case (f.Status == http.StatusBadRequest || f.Status == http.StatusForbidden) && c.endpoints.IsRefresh(f.Path):
		return AuthInvalid
	case f.Status == http.StatusForbidden && c.endpoints.IsVerify(f.Path):
		return AuthInvalid
	default:
		return Retryable
	}
}
