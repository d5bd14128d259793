// Package auth provides user authentication backed by the store and
// stateless JWT session tokens.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"meridian-router.dev/meridian/internal/clock"
	"meridian-router.dev/meridian/internal/config"
	"meridian-router.dev/meridian/internal/logging"
	"meridian-router.dev/meridian/internal/store"
)

// Roles.
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

// ErrInvalidCredentials is returned for unknown users and wrong passwords
// alike, so responses do not leak which usernames exist.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Claims is the JWT payload for a logged-in user.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Service authenticates users and issues tokens.
type Service struct {
	store  *store.Store
	secret []byte
	ttl    time.Duration
	logger *logging.Logger
}

// NewService creates the auth service. An empty jwt_secret gets a random
// one, which invalidates all tokens on restart.
func NewService(st *store.Store, cfg *config.APIConfig, logger *logging.Logger) (*Service, error) {
	if logger == nil {
		logger = logging.Default().WithComponent("auth")
	}

	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generating jwt secret: %w", err)
		}
		secret = []byte(hex.EncodeToString(buf))
		logger.Warn("no jwt_secret configured, sessions will not survive a restart")
	}

	return &Service{
		store:  st,
		secret: secret,
		ttl:    cfg.TokenTTL(),
		logger: logger,
	}, nil
}

// Login verifies the password and returns a signed token.
func (s *Service) Login(ctx context.Context, username, password, clientIP string) (string, *store.User, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		// Burn a comparison anyway to keep timing uniform.
		CheckPassword("$2a$10$000000000000000000000u0000000000000000000000000000000", password)
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}

	if !CheckPassword(user.PasswordHash, password) {
		s.recordActivity(ctx, username, "login_failed", "", clientIP)
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.IssueToken(user)
	if err != nil {
		return "", nil, err
	}

	if err := s.store.TouchUserLogin(ctx, user.ID); err != nil {
		s.logger.Warn("failed to record login time", "user", username, "error", err)
	}
	s.recordActivity(ctx, username, "login", "", clientIP)
	s.logger.Audit("user logged in", "user", username, "ip", clientIP)
	return token, user, nil
}

// IssueToken signs a JWT for the user.
func (s *Service) IssueToken(user *store.User) (string, error) {
	now := clock.Now().UTC()
	claims := Claims{
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ParseToken validates a token and returns its claims.
func (s *Service) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return clock.Now() }))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// EnsureAdmin seeds the initial admin account when the user table is empty.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) error {
	count, err := s.store.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if username == "" {
		username = "admin"
	}
	generated := false
	if password == "" {
		password, err = GeneratePassword(16)
		if err != nil {
			return err
		}
		generated = true
	}

	if err := s.CreateUser(ctx, username, password, RoleAdmin); err != nil {
		return err
	}
	if generated {
		// One-time print so the operator can log in at all.
		s.logger.Warn("created initial admin user", "user", username, "password", password)
	} else {
		s.logger.Info("created initial admin user", "user", username)
	}
	return nil
}

// CreateUser adds a user with the given role.
func (s *Service) CreateUser(ctx context.Context, username, password, role string) error {
	if role != RoleAdmin && role != RoleViewer {
		return fmt.Errorf("unknown role %q", role)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return s.store.CreateUser(ctx, &store.User{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
	})
}

// ChangePassword verifies the old password and sets a new one.
func (s *Service) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	if !CheckPassword(user.PasswordHash, oldPassword) {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.UpdateUserPassword(ctx, user.ID, hash); err != nil {
		return err
	}
	s.logger.Audit("password changed", "user", username)
	return nil
}

// RecordActivity writes an audit trail row.
func (s *Service) RecordActivity(ctx context.Context, username, action, resource, detail, clientIP string) {
	err := s.store.InsertActivity(ctx, &store.UserActivity{
		Username: username,
		Action:   action,
		Resource: resource,
		Detail:   detail,
		ClientIP: clientIP,
	})
	if err != nil {
		s.logger.Warn("failed to record activity", "error", err)
	}
}

func (s *Service) recordActivity(ctx context.Context, username, action, resource, clientIP string) {
	s.RecordActivity(ctx, username, action, resource, "", clientIP)
}
