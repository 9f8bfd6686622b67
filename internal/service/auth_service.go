package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/stemsi/kontrol-backend/internal/config"
)

// Common auth errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrConsoleDisabled    = errors.New("console token is not configured")
	ErrSessionInvalidated = errors.New("device session invalidated")
)

// TokenType distinguishes device tokens from anything else signed with the secret.
type TokenType string

const TokenTypeDevice TokenType = "device"

// Claims extends JWT standard claims with the device id.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type"`
	DeviceID  string    `json:"device_id"`
}

// DeviceToken is an issued device credential.
type DeviceToken struct {
	Token     string    `json:"token"`
	DeviceID  string    `json:"device_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuthService issues device tokens and checks the console token.
type AuthService struct {
	cfg *config.Config
	// rdb is nil with the memory store; device sessions are then not revocable.
	rdb *redis.Client
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config, rdb *redis.Client) *AuthService {
	return &AuthService{cfg: cfg, rdb: rdb}
}

// HashToken hashes a console token with the configured bcrypt cost.
func (s *AuthService) HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), s.cfg.BcryptCost)
	return string(hash), err
}

// CheckConsoleToken compares a presented console token against the configured hash.
func (s *AuthService) CheckConsoleToken(token string) error {
	if s.cfg.ConsoleTokenHash == "" {
		return ErrConsoleDisabled
	}
	if token == "" {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.ConsoleTokenHash), []byte(token)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// IssueDeviceToken creates a JWT for a device. An empty deviceID mints a new
// one; a known id is re-issued, which invalidates its previous token.
func (s *AuthService) IssueDeviceToken(ctx context.Context, deviceID string) (DeviceToken, error) {
	if deviceID == "" {
		deviceID = uuid.New().String()
	}
	jti := uuid.New().String()
	now := time.Now()
	expires := now.Add(s.cfg.JWTExpiry)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   deviceID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		TokenType: TokenTypeDevice,
		DeviceID:  deviceID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return DeviceToken{}, fmt.Errorf("sign token: %w", err)
	}

	if s.rdb != nil {
		if err := s.rdb.Set(ctx, config.CacheKey.DeviceSessionKey(deviceID), jti, s.cfg.JWTExpiry).Err(); err != nil {
			return DeviceToken{}, fmt.Errorf("store device session: %w", err)
		}
	}

	return DeviceToken{Token: signed, DeviceID: deviceID, ExpiresAt: expires}, nil
}

// ValidateToken parses and validates a device JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.TokenType != TokenTypeDevice || claims.DeviceID == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// ValidateDeviceSession checks that the token's JTI is the device's latest.
func (s *AuthService) ValidateDeviceSession(ctx context.Context, deviceID, jti string) error {
	if s.rdb == nil {
		return nil
	}
	stored, err := s.rdb.Get(ctx, config.CacheKey.DeviceSessionKey(deviceID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrSessionInvalidated
		}
		return fmt.Errorf("check device session: %w", err)
	}
	if stored != jti {
		return ErrSessionInvalidated
	}
	return nil
}

// RevokeDevice removes a device session so its token stops working.
func (s *AuthService) RevokeDevice(ctx context.Context, deviceID string) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Del(ctx, config.CacheKey.DeviceSessionKey(deviceID)).Err()
}
