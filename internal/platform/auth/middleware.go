package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const callerKey contextKey = "caller"

// Caller is the authenticated identity behind a request. ID is the doctor or
// patient profile id; admins may carry any id, including uuid.Nil.
type Caller struct {
	ID   uuid.UUID
	Role string
}

func (c Caller) IsAdmin() bool   { return c.Role == RoleAdmin }
func (c Caller) IsDoctor() bool  { return c.Role == RoleDoctor }
func (c Caller) IsPatient() bool { return c.Role == RolePatient }

type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

type JWTConfig struct {
	Issuer     string
	Audience   string
	SigningKey []byte
	// Skipper bypasses authentication for matching requests. Defaults to AuthSkipper.
	Skipper func(echo.Context) bool
}

// WithCaller stores c in ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFromContext returns the caller set by the auth middleware.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey).(Caller)
	return c, ok
}

func setCaller(c echo.Context, caller Caller) {
	c.Set("caller_id", caller.ID.String())
	c.Set("caller_role", caller.Role)
	c.SetRequest(c.Request().WithContext(WithCaller(c.Request().Context(), caller)))
}

// ParseToken verifies an HS256 bearer token and returns its caller.
func ParseToken(cfg JWTConfig, tokenStr string) (Caller, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return cfg.SigningKey, nil
	}, opts...)
	if err != nil || !token.Valid {
		return Caller{}, fmt.Errorf("invalid token: %w", err)
	}

	if !ValidRole(claims.Role) {
		return Caller{}, fmt.Errorf("invalid role claim %q", claims.Role)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Caller{}, fmt.Errorf("invalid subject: %w", err)
	}
	return Caller{ID: id, Role: claims.Role}, nil
}

// IssueToken signs an HS256 token for caller that expires after ttl.
func IssueToken(cfg JWTConfig, caller Caller, ttl time.Duration) (string, error) {
	if len(cfg.SigningKey) == 0 {
		return "", fmt.Errorf("signing key is required")
	}
	if !ValidRole(caller.Role) {
		return "", fmt.Errorf("invalid role %q", caller.Role)
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.ID.String(),
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: caller.Role,
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.SigningKey)
}

func bearerToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	if cfg.Skipper == nil {
		cfg.Skipper = AuthSkipper
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper(c) {
				return next(c)
			}

			tokenStr, err := bearerToken(c)
			if err != nil {
				return err
			}
			caller, err := ParseToken(cfg, tokenStr)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			setCaller(c, caller)
			return next(c)
		}
	}
}

// Headers honoured by DevAuthMiddleware when no bearer token is sent.
const (
	DevCallerIDHeader   = "X-Dev-Caller-ID"
	DevCallerRoleHeader = "X-Dev-Caller-Role"
)

// DevAuthMiddleware is a permissive middleware for development. Without an
// Authorization header the caller is taken from the X-Dev-Caller-* headers,
// falling back to an admin with a nil id. A bearer token is still verified
// when a signing key is configured.
func DevAuthMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	jwtMW := JWTMiddleware(cfg)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		withJWT := jwtMW(next)
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") != "" && len(cfg.SigningKey) > 0 {
				return withJWT(c)
			}

			caller := Caller{ID: uuid.Nil, Role: RoleAdmin}
			if role := c.Request().Header.Get(DevCallerRoleHeader); role != "" {
				if !ValidRole(role) {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid dev caller role")
				}
				caller.Role = role
			}
			if raw := c.Request().Header.Get(DevCallerIDHeader); raw != "" {
				id, err := uuid.Parse(raw)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid dev caller id")
				}
				caller.ID = id
			}

			setCaller(c, caller)
			return next(c)
		}
	}
}
