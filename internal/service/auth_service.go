package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// Common auth errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLoginInvalidated   = errors.New("login invalidated by a newer login")
)

// TokenType distinguishes participant vs admin tokens.
type TokenType string

const (
	TokenTypeParticipant TokenType = "participant"
	TokenTypeAdmin       TokenType = "admin"
)

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type"`
	UserID    int       `json:"user_id"`
}

// AuthService resolves bearer credentials to identities. Only the most recent
// participant login is valid, so one participant drives a session from one
// device at a time.
type AuthService struct {
	cfg          *config.Config
	rdb          *redis.Client
	participants *repository.ParticipantRepository
	admins       *repository.AdminRepository
}

// NewAuthService creates a new AuthService.
func NewAuthService(
	cfg *config.Config,
	rdb *redis.Client,
	participants *repository.ParticipantRepository,
	admins *repository.AdminRepository,
) *AuthService {
	return &AuthService{cfg: cfg, rdb: rdb, participants: participants, admins: admins}
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func (s *AuthService) CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// LoginParticipant verifies credentials and issues a participant token. A new
// login replaces the previous one.
func (s *AuthService) LoginParticipant(ctx context.Context, req *model.ParticipantLoginRequest) (*model.ParticipantLoginResponse, error) {
	p, err := s.participants.GetByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get participant: %w", err)
	}
	if err := s.CheckPassword(p.PasswordHash, req.Password); err != nil {
		return nil, err
	}

	token, err := s.GenerateParticipantToken(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return &model.ParticipantLoginResponse{Token: token, Participant: *p}, nil
}

// LoginAdmin verifies credentials and issues an admin token.
func (s *AuthService) LoginAdmin(ctx context.Context, req *model.AdminLoginRequest) (*model.AdminLoginResponse, error) {
	a, err := s.admins.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get admin: %w", err)
	}
	if err := s.CheckPassword(a.PasswordHash, req.Password); err != nil {
		return nil, err
	}

	token, err := s.GenerateAdminToken(a.ID)
	if err != nil {
		return nil, err
	}
	return &model.AdminLoginResponse{Token: token, Admin: *a}, nil
}

// GenerateParticipantToken creates a JWT for a participant and records its
// JTI as the active login.
func (s *AuthService) GenerateParticipantToken(ctx context.Context, userID int) (string, error) {
	jti := uuid.New().String()
	signed, err := s.sign(jti, TokenTypeParticipant, userID)
	if err != nil {
		return "", err
	}

	if err := s.rdb.Set(ctx, config.CacheKey.ParticipantLoginKey(userID), jti, s.cfg.JWTExpiry).Err(); err != nil {
		return "", fmt.Errorf("store login: %w", err)
	}
	return signed, nil
}

// GenerateAdminToken creates a JWT for an admin.
func (s *AuthService) GenerateAdminToken(adminID int) (string, error) {
	return s.sign(uuid.New().String(), TokenTypeAdmin, adminID)
}

func (s *AuthService) sign(jti string, typ TokenType, userID int) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   strconv.Itoa(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		TokenType: typ,
		UserID:    userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID <= 0 {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// ValidateParticipantLogin checks that the token's JTI is the participant's
// active login.
func (s *AuthService) ValidateParticipantLogin(ctx context.Context, userID int, jti string) error {
	stored, err := s.rdb.Get(ctx, config.CacheKey.ParticipantLoginKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrLoginInvalidated
		}
		return fmt.Errorf("check login: %w", err)
	}
	if stored != jti {
		return ErrLoginInvalidated
	}
	return nil
}

// Logout drops a participant's active login.
func (s *AuthService) Logout(ctx context.Context, userID int) error {
	return s.rdb.Del(ctx, config.CacheKey.ParticipantLoginKey(userID)).Err()
}
