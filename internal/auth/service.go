package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/password"
	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/token"
	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/user/repo"
)

// UserStore is the persistence the session flows need. Implementations live in
// internal/user/repo and report userrepo.ErrNotFound / userrepo.ErrDuplicateEmail.
type UserStore interface {
	Create(ctx context.Context, u *entity.User) error
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	FindByRefreshToken(ctx context.Context, token string) (*entity.User, error)
	SetRefreshToken(ctx context.Context, id string, token *string) error
	SwapRefreshToken(ctx context.Context, id, old, next string) (bool, error)
}

// TokenCodec mints and verifies signed tokens.
type TokenCodec interface {
	Issue(userID, role string, kind token.Kind) (string, error)
	VerifyKind(tokenString string, kind token.Kind) (*token.Claims, error)
	TTL(kind token.Kind) time.Duration
}

// IDGenerator hands out new user ids.
type IDGenerator interface {
	NewID() string
}

var (
	ErrDuplicateEmail      = errors.New("email already exists")
	ErrUserNotFound        = errors.New("email not found")
	ErrInvalidCredentials  = errors.New("incorrect password")
	ErrMissingToken        = errors.New("refresh token is required")
	ErrInvalidRefreshToken = errors.New("refresh token is not valid")
	ErrTokenVerification   = errors.New("token verification failed")
)

// Options tunes session behaviour.
type Options struct {
	// RotateRefresh replaces the refresh token on every refresh.
	RotateRefresh bool
}

// Service orchestrates registration, login, refresh and logout.
type Service struct {
	users  UserStore
	hasher password.Hasher
	tokens TokenCodec
	ids    IDGenerator
	opts   Options
}

func NewService(users UserStore, hasher password.Hasher, tokens TokenCodec, ids IDGenerator, opts Options) *Service {
	return &Service{users: users, hasher: hasher, tokens: tokens, ids: ids, opts: opts}
}

// LoginResult is what a successful login hands back to the caller.
type LoginResult struct {
	UserID       string
	Name         string
	AccessToken  string
	RefreshToken string
}

// RefreshResult carries the new access token; RefreshToken is set only when
// rotation is enabled.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a USER account. It never logs the user in.
func (s *Service) Register(ctx context.Context, email, name, pw string) (*entity.User, error) {
	email = normalizeEmail(email)
	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, userrepo.ErrNotFound) {
		return nil, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := s.hasher.Hash(pw)
	if err != nil {
		if errors.Is(err, password.ErrTooLong) {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return nil, err
	}
	u := &entity.User{
		ID:           s.ids.NewID(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		Role:         entity.RoleUser,
	}
	if err := s.users.Create(ctx, u); err != nil {
		// lost a race with a concurrent registration of the same email
		if errors.Is(err, userrepo.ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// Login verifies the password and issues an access/refresh pair. The refresh
// token overwrites the user's slot, revoking whatever was there before.
func (s *Service) Login(ctx context.Context, email, pw string) (*LoginResult, error) {
	u, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup email: %w", err)
	}
	if !s.hasher.Verify(pw, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	access, err := s.tokens.Issue(u.ID, u.Role, token.KindAccess)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.Issue(u.ID, u.Role, token.KindRefresh)
	if err != nil {
		return nil, err
	}
	if err := s.users.SetRefreshToken(ctx, u.ID, &refresh); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return &LoginResult{UserID: u.ID, Name: u.Name, AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh exchanges a stored, valid refresh token for a new access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if refreshToken == "" {
		return nil, ErrMissingToken
	}
	u, err := s.users.FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("lookup refresh token: %w", err)
	}
	claims, err := s.tokens.VerifyKind(refreshToken, token.KindRefresh)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenVerification, err)
	}
	if claims.Subject != u.ID {
		return nil, ErrInvalidRefreshToken
	}

	access, err := s.tokens.Issue(u.ID, u.Role, token.KindAccess)
	if err != nil {
		return nil, err
	}
	res := &RefreshResult{AccessToken: access}
	if !s.opts.RotateRefresh {
		return res, nil
	}

	next, err := s.tokens.Issue(u.ID, u.Role, token.KindRefresh)
	if err != nil {
		return nil, err
	}
	ok, err := s.users.SwapRefreshToken(ctx, u.ID, refreshToken, next)
	if err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
	if !ok {
		// a concurrent login or refresh replaced the slot first
		return nil, ErrInvalidRefreshToken
	}
	res.RefreshToken = next
	return res, nil
}

// Logout clears the stored refresh token of userID. Unknown users are ignored.
func (s *Service) Logout(ctx context.Context, userID string) error {
	if err := s.users.SetRefreshToken(ctx, userID, nil); err != nil && !errors.Is(err, userrepo.ErrNotFound) {
		return fmt.Errorf("clear refresh token: %w", err)
	}
	return nil
}

// LogoutByRefreshToken clears the slot holding refreshToken, if any.
func (s *Service) LogoutByRefreshToken(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	u, err := s.users.FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("lookup refresh token: %w", err)
	}
	return s.Logout(ctx, u.ID)
}

// Authenticate verifies an access token presented on a protected request.
func (s *Service) Authenticate(accessToken string) (*token.Claims, error) {
	if accessToken == "" {
		return nil, ErrMissingToken
	}
	claims, err := s.tokens.VerifyKind(accessToken, token.KindAccess)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenVerification, err)
	}
	return claims, nil
}

// AccessTTL is the lifetime of access tokens, used for the cookie max-age.
func (s *Service) AccessTTL() time.Duration {
	return s.tokens.TTL(token.KindAccess)
}
