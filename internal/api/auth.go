package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"roadbook/internal/config"
	"roadbook/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

const (
	permBookingsWrite = "bookings:write"
	permRosterRead    = "roster:read"
)

var (
	errUnauthenticated  = errors.New("authentication required")
	errPermissionDenied = errors.New("permission denied")
)

// Claims is the session token payload issued after account redemption.
type Claims struct {
	TenantID string `json:"tid"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// HTTPAuth resolves the caller: admin API keys bound to a tenant, or JWT sessions for users.
type HTTPAuth struct {
	cfg     config.APIAuthConfig
	clients map[string]config.APIClientKey
	now     func() time.Time
}

func NewHTTPAuth(cfg config.APIAuthConfig) *HTTPAuth {
	m := make(map[string]config.APIClientKey, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		m[k.Key] = k
	}
	return &HTTPAuth{cfg: cfg, clients: m, now: time.Now}
}

// IssueToken signs a session token for user.
func (a *HTTPAuth) IssueToken(user *models.User) (string, error) {
	now := a.now()
	claims := Claims{
		TenantID: user.TenantID,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    a.cfg.JWTIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.cfg.JWTTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a session token and returns the actor it names.
func (a *HTTPAuth) ParseToken(raw string) (models.Actor, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(_ *jwt.Token) (interface{}, error) {
		return []byte(a.cfg.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.cfg.JWTIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return models.Actor{}, fmt.Errorf("%w: %v", errUnauthenticated, err)
	}
	if claims.Subject == "" || claims.TenantID == "" {
		return models.Actor{}, fmt.Errorf("%w: incomplete claims", errUnauthenticated)
	}
	return models.Actor{UserID: claims.Subject, TenantID: claims.TenantID, Role: claims.Role}, nil
}

// apiKeyActor authenticates the admin API key header, if present.
func (a *HTTPAuth) apiKeyActor(r *http.Request, permission string) (models.Actor, bool, error) {
	apiKey := strings.TrimSpace(r.Header.Get(a.cfg.HeaderAPIKey))
	if apiKey == "" {
		return models.Actor{}, false, nil
	}

	client, ok := a.lookupKey(apiKey)
	if !ok {
		return models.Actor{}, true, fmt.Errorf("%w: invalid api key", errUnauthenticated)
	}
	if !hasPermission(client, permission) {
		return models.Actor{}, true, errPermissionDenied
	}
	return models.Actor{UserID: "apikey:" + client.Name, TenantID: client.TenantID, Role: models.UserRoleAdmin}, true, nil
}

func (a *HTTPAuth) lookupKey(apiKey string) (config.APIClientKey, bool) {
	for key, client := range a.clients {
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			return client, true
		}
	}
	return config.APIClientKey{}, false
}

// Actor resolves the caller from an API key or a Bearer session token.
func (a *HTTPAuth) Actor(r *http.Request, permission string) (models.Actor, error) {
	if actor, present, err := a.apiKeyActor(r, permission); present {
		return actor, err
	}

	header := strings.TrimSpace(r.Header.Get("Authorization"))
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return models.Actor{}, errUnauthenticated
	}
	return a.ParseToken(strings.TrimSpace(token))
}

// Admin requires an admin API key with permission.
func (a *HTTPAuth) Admin(r *http.Request, permission string) (models.Actor, error) {
	actor, present, err := a.apiKeyActor(r, permission)
	if !present {
		return models.Actor{}, errUnauthenticated
	}
	return actor, err
}

// Пустой список прав означает полный доступ
func hasPermission(client config.APIClientKey, required string) bool {
	if required == "" || len(client.Permissions) == 0 {
		return true
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return true
		}
	}
	return false
}
