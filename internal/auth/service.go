// Package auth provides authentication for the dashboard API and UI.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/narvanalabs/build-feed/internal/store"
)

// Common errors returned by the auth service.
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrMissingClaims    = errors.New("missing required claims")
	ErrInvalidSignature = errors.New("invalid token signature")
)

// Claims represents the JWT claims structure.
type Claims struct {
	UserID string    `json:"user_id"`
	Email  string    `json:"email"`
	Name   string    `json:"name,omitempty"`
	Exp    time.Time `json:"exp"`
}

// Config holds authentication configuration.
type Config struct {
	JWTSecret   []byte
	TokenExpiry time.Duration
}

// Service issues and validates tokens for users in a UserStore.
type Service struct {
	jwtSecret   []byte
	tokenExpiry time.Duration
	users       store.UserStore
	logger      *slog.Logger
}

// NewService creates a new authentication service. users may be nil when
// only token validation is needed.
func NewService(cfg *Config, users store.UserStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		jwtSecret:   cfg.JWTSecret,
		tokenExpiry: cfg.TokenExpiry,
		users:       users,
		logger:      logger,
	}
}

// Login checks credentials and returns a signed token for the user.
func (s *Service) Login(ctx context.Context, email, password string) (string, *store.User, error) {
	if s.users == nil {
		return "", nil, store.ErrInvalidCredentials
	}

	user, err := s.users.Authenticate(ctx, strings.TrimSpace(email), password)
	if err != nil {
		s.logger.Debug("login rejected", "email", email, "error", err)
		return "", nil, err
	}

	token, err := s.GenerateToken(user.ID, user.Email, user.Name)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// Register creates a user and returns a token for it.
func (s *Service) Register(ctx context.Context, email, password, name string) (string, *store.User, error) {
	if s.users == nil {
		return "", nil, errors.New("registration unavailable")
	}

	user, err := s.users.Create(ctx, strings.TrimSpace(email), password, name)
	if err != nil {
		return "", nil, err
	}

	token, err := s.GenerateToken(user.ID, user.Email, user.Name)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// GenerateToken creates a new JWT token for the given user.
func (s *Service) GenerateToken(userID, email, name string) (string, error) {
	if userID == "" {
		return "", ErrMissingClaims
	}

	now := time.Now()
	exp := now.Add(s.tokenExpiry)

	claims := jwt.MapClaims{
		"sub":   userID,
		"email": email,
		"iat":   now.Unix(),
		"exp":   exp.Unix(),
		"nbf":   now.Unix(),
	}
	if name != "" {
		claims["name"] = name
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(s.jwtSecret)
	if err != nil {
		s.logger.Error("failed to sign token", "error", err)
		return "", fmt.Errorf("signing token: %w", err)
	}

	return signedToken, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		if errors.Is(err, jwt.ErrSignatureInvalid) {
			return nil, ErrInvalidSignature
		}
		return nil, ErrInvalidToken
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	userID, ok := mapClaims["sub"].(string)
	if !ok || userID == "" {
		return nil, ErrMissingClaims
	}

	email, _ := mapClaims["email"].(string)
	name, _ := mapClaims["name"].(string)

	expFloat, ok := mapClaims["exp"].(float64)
	if !ok {
		return nil, ErrMissingClaims
	}

	return &Claims{
		UserID: userID,
		Email:  email,
		Name:   name,
		Exp:    time.Unix(int64(expFloat), 0),
	}, nil
}

// ExtractBearerToken extracts the token from a Bearer authorization header.
func ExtractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// DisplayName returns the name shown for the claims' user.
func (c *Claims) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if at := strings.IndexByte(c.Email, '@'); at > 0 {
		return c.Email[:at]
	}
	return c.Email
}
