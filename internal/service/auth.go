// Package service contains application services for accounts and chat history.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/talko/internal/crypto"
	"github.com/and161185/talko/internal/errs"
	"github.com/and161185/talko/internal/limiter"
	"github.com/and161185/talko/internal/model"
	"github.com/and161185/talko/internal/repository"
	"github.com/and161185/talko/internal/validation"
)

// tokenLeeway tolerates small clock skew between issuer and verifier.
const tokenLeeway = 30 * time.Second

// Credentials is the register/login payload.
type Credentials struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

// AuthService registers users, checks passwords and issues/verifies bearer tokens.
type AuthService struct {
	users     repository.UserRepository
	signKey   []byte
	accessTTL time.Duration
	lim       limiter.Limiter
	log       *zap.Logger
	now       func() time.Time
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(users repository.UserRepository, signKey []byte, accessTTL time.Duration, lim limiter.Limiter, log *zap.Logger) *AuthService {
	if lim == nil {
		lim = limiter.Nop{}
	}
	return &AuthService{users: users, signKey: signKey, accessTTL: accessTTL, lim: lim, log: log, now: time.Now}
}

// Register creates a user and signs them in.
func (s *AuthService) Register(ctx context.Context, c Credentials) (model.User, model.Tokens, error) {
	if err := validation.Struct(&c); err != nil {
		return model.User{}, model.Tokens{}, err
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return model.User{}, model.Tokens{}, err
	}
	hash, err := pkgcrypto.HashPassword(c.Password)
	if err != nil {
		return model.User{}, model.Tokens{}, fmt.Errorf("hash password: %w", err)
	}

	u := &model.User{ID: uid, Username: c.Username, PasswordHash: hash}
	if err := s.users.Create(ctx, u); err != nil {
		return model.User{}, model.Tokens{}, err
	}

	tok, err := s.issueAccessToken(u.ID)
	if err != nil {
		return model.User{}, model.Tokens{}, err
	}
	s.log.Info("user registered", zap.String("user_id", u.ID.String()))
	return *u, tok, nil
}

// Login authenticates with rate limiting by (username, ip).
func (s *AuthService) Login(ctx context.Context, c Credentials, ip string) (model.User, model.Tokens, error) {
	if err := validation.Struct(&c); err != nil {
		return model.User{}, model.Tokens{}, err
	}
	ipHash := limiter.HashIP(ip)

	allowed, wait, err := s.lim.Allow(ctx, c.Username, ipHash)
	if err != nil {
		return model.User{}, model.Tokens{}, fmt.Errorf("limiter: %w", err)
	}
	if !allowed {
		return model.User{}, model.Tokens{}, &errs.RetryAfter{Wait: wait}
	}

	u, err := s.users.GetByUsername(ctx, c.Username)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.User{}, model.Tokens{}, err
	}
	ok := false
	if err == nil {
		ok, err = pkgcrypto.VerifyPassword(c.Password, u.PasswordHash)
		if err != nil {
			s.log.Error("stored password hash unreadable", zap.String("user_id", u.ID.String()), zap.Error(err))
			ok = false
		}
	}
	if !ok {
		blocked, wait, ferr := s.lim.Failure(ctx, c.Username, ipHash)
		if ferr != nil {
			s.log.Warn("limiter failure not recorded", zap.Error(ferr))
		} else if blocked {
			return model.User{}, model.Tokens{}, &errs.RetryAfter{Wait: wait}
		}
		return model.User{}, model.Tokens{}, errs.ErrUnauthorized
	}

	if err := s.lim.Success(ctx, c.Username, ipHash); err != nil {
		s.log.Warn("limiter reset failed", zap.Error(err))
	}

	now := s.now()
	if err := s.users.TouchLastSeen(ctx, u.ID, now); err != nil {
		s.log.Warn("touch last_seen", zap.String("user_id", u.ID.String()), zap.Error(err))
	} else {
		u.LastSeen = now
	}

	tok, err := s.issueAccessToken(u.ID)
	if err != nil {
		return model.User{}, model.Tokens{}, err
	}
	return *u, tok, nil
}

// VerifyToken checks an HS256 bearer token and resolves its subject to a stored user.
// Every failure is reported as errs.ErrUnauthorized; a vanished user additionally matches errs.ErrNotFound.
func (s *AuthService) VerifyToken(ctx context.Context, token string) (model.User, error) {
	id, err := s.parseSubject(token)
	if err != nil {
		return model.User{}, fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
	}
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		return model.User{}, fmt.Errorf("%w: user %w", errs.ErrUnauthorized, errs.ErrNotFound)
	}
	if err != nil {
		return model.User{}, err
	}
	return *u, nil
}

func (s *AuthService) parseSubject(tok string) (uuid.UUID, error) {
	if tok == "" {
		return uuid.Nil, errors.New("empty token")
	}
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(*jwt.Token) (any, error) {
		return s.signKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(tokenLeeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return uuid.Nil, errors.New("invalid token")
	}
	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return uuid.Nil, errors.New("bad subject")
	}
	return id, nil
}

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (s *AuthService) issueAccessToken(userID uuid.UUID) (model.Tokens, error) {
	now := s.now()
	exp := now.Add(s.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
	if err != nil {
		return model.Tokens{}, fmt.Errorf("sign token: %w", err)
	}
	return model.Tokens{AccessToken: signed, ExpiresAt: exp}, nil
}
