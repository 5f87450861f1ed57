// Package identity authenticates users and issues API tokens.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/supplychain/backend/internal/domain/identity"
	"github.com/supplychain/backend/internal/domain/shared"
	"github.com/supplychain/backend/internal/infrastructure/auth"
)

// TokenIssuer signs and validates token pairs
type TokenIssuer interface {
	GenerateTokenPair(sub auth.Subject) (*auth.TokenPair, error)
	ValidateRefreshToken(token string) (*auth.Claims, error)
}

// AuthServiceConfig contains configuration for the auth service
type AuthServiceConfig struct {
	MaxLoginAttempts int           // failed attempts before the account locks
	LockDuration     time.Duration // how long a locked account stays locked
}

// DefaultAuthServiceConfig returns default configuration
func DefaultAuthServiceConfig() AuthServiceConfig {
	return AuthServiceConfig{
		MaxLoginAttempts: 5,
		LockDuration:     15 * time.Minute,
	}
}

// AuthService handles authentication operations
type AuthService struct {
	userRepo  identity.UserRepository
	tokens    TokenIssuer
	blacklist auth.TokenBlacklist
	config    AuthServiceConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewAuthService creates a new authentication service
func NewAuthService(
	userRepo identity.UserRepository,
	tokens TokenIssuer,
	blacklist auth.TokenBlacklist,
	config AuthServiceConfig,
	logger *zap.Logger,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxLoginAttempts <= 0 {
		config.MaxLoginAttempts = DefaultAuthServiceConfig().MaxLoginAttempts
	}
	if config.LockDuration <= 0 {
		config.LockDuration = DefaultAuthServiceConfig().LockDuration
	}
	return &AuthService{
		userRepo:  userRepo,
		tokens:    tokens,
		blacklist: blacklist,
		config:    config,
		logger:    logger,
		now:       time.Now,
	}
}

var errInvalidCredentials = shared.WrapDomainError(shared.CodeUnauthorized, "Invalid username or password", identity.ErrInvalidCredentials)

// Login authenticates a user and returns tokens
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*TokenResult, error) {
	username := strings.ToLower(strings.TrimSpace(input.Username))

	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			s.logger.Warn("Login for unknown user", zap.String("username", username))
			return nil, errInvalidCredentials
		}
		return nil, err
	}

	if !user.CanLogin() {
		s.logger.Warn("Login attempt for inactive account",
			zap.String("username", username),
			zap.String("status", string(user.Status)))
		if user.IsLocked() {
			return nil, shared.WrapDomainError(shared.CodeForbidden, "Account is locked. Please try again later", identity.ErrUserInactive)
		}
		return nil, shared.WrapDomainError(shared.CodeForbidden, "Account has been deactivated", identity.ErrUserInactive)
	}

	if !user.VerifyPassword(input.Password) {
		locked := user.RecordLoginFailure(s.config.MaxLoginAttempts, s.config.LockDuration)
		if err := s.userRepo.Update(ctx, user); err != nil {
			s.logger.Error("Failed to update user after login failure", zap.Error(err))
		}
		if locked {
			s.logger.Warn("Account locked after too many failed attempts",
				zap.String("username", username),
				zap.Int("attempts", user.FailedAttempts))
			return nil, shared.WrapDomainError(shared.CodeForbidden, "Too many failed login attempts. Account has been locked", identity.ErrUserInactive)
		}
		s.logger.Warn("Invalid password attempt",
			zap.String("username", username),
			zap.Int("failed_attempts", user.FailedAttempts))
		return nil, errInvalidCredentials
	}

	pair, err := s.issue(user)
	if err != nil {
		return nil, err
	}

	user.RecordLoginSuccess()
	if err := s.userRepo.Update(ctx, user); err != nil {
		// the tokens are valid; a stale last-login is not worth failing for
		s.logger.Error("Failed to update user after successful login", zap.Error(err))
	}

	s.logger.Info("User logged in",
		zap.String("user_id", user.ID.String()),
		zap.String("tenant_id", user.TenantID.String()))

	pair.User = ToUserInfo(user)
	return pair, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new pair issued
func (s *AuthService) Refresh(ctx context.Context, input RefreshInput) (*TokenResult, error) {
	claims, err := s.tokens.ValidateRefreshToken(input.RefreshToken)
	if err != nil {
		s.logger.Debug("Refresh token rejected", zap.Error(err))
		if errors.Is(err, auth.ErrExpiredToken) {
			return nil, shared.WrapDomainError(shared.CodeUnauthorized, "Refresh token has expired", err)
		}
		return nil, shared.WrapDomainError(shared.CodeUnauthorized, "Invalid refresh token", err)
	}

	if s.blacklist != nil && claims.ID != "" {
		revoked, err := s.blacklist.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, err
		}
		if revoked {
			s.logger.Warn("Revoked refresh token presented", zap.String("user_id", claims.UserID))
			return nil, shared.WrapDomainError(shared.CodeUnauthorized, "Refresh token has been revoked", auth.ErrTokenRevoked)
		}
	}

	user, err := s.userRepo.FindByID(ctx, claims.UserUUID())
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, shared.WrapDomainError(shared.CodeUnauthorized, "User no longer exists", err)
		}
		return nil, err
	}
	if !user.CanLogin() {
		return nil, shared.WrapDomainError(shared.CodeForbidden, "Account is no longer active", identity.ErrUserInactive)
	}

	if s.blacklist != nil && claims.ID != "" {
		if err := s.blacklist.Revoke(ctx, claims.ID, claims.RemainingTTL(s.now())); err != nil {
			return nil, err
		}
	}

	pair, err := s.issue(user)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Token refreshed", zap.String("user_id", user.ID.String()))
	return pair, nil
}

// Me returns the current user
func (s *AuthService) Me(ctx context.Context, userID uuid.UUID) (*UserInfo, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, shared.NewDomainError(shared.CodeNotFound, "User not found")
		}
		return nil, err
	}
	return ToUserInfo(user), nil
}

// BootstrapAdmin creates the initial administrator unless the username exists.
// Returns true when a user was created.
func (s *AuthService) BootstrapAdmin(ctx context.Context, tenantID uuid.UUID, username, password string) (bool, error) {
	if username == "" || password == "" {
		return false, nil
	}
	if tenantID == uuid.Nil {
		return false, shared.NewDomainError(shared.CodeInvalidInput, "Bootstrap tenant ID is required")
	}
	exists, err := s.userRepo.ExistsByUsername(ctx, strings.ToLower(strings.TrimSpace(username)))
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	user, err := identity.NewUser(tenantID, username, password, identity.RoleAdmin)
	if err != nil {
		return false, err
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return false, err
	}
	s.logger.Info("Bootstrap administrator created",
		zap.String("username", user.Username),
		zap.String("tenant_id", tenantID.String()))
	return true, nil
}

func (s *AuthService) issue(user *identity.User) (*TokenResult, error) {
	pair, err := s.tokens.GenerateTokenPair(auth.Subject{
		TenantID: user.TenantID,
		UserID:   user.ID,
		Username: user.Username,
		Role:     string(user.Role),
	})
	if err != nil {
		s.logger.Error("Failed to generate token pair", zap.Error(err))
		return nil, err
	}
	return &TokenResult{
		AccessToken:           pair.AccessToken,
		RefreshToken:          pair.RefreshToken,
		AccessTokenExpiresAt:  pair.AccessTokenExpiresAt,
		RefreshTokenExpiresAt: pair.RefreshTokenExpiresAt,
		TokenType:             pair.TokenType,
	}, nil
}
