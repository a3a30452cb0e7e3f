// Package usergrant verifies the short-lived tokens the chat front end
// presents on behalf of a user. A grant is an EdDSA-signed JWT binding the
// caller to one user id; the gateway only trusts the user id it carries,
// never one supplied alongside it.
package usergrant

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/ferrolab/agentgate/internal/platform/errors"
)

// Environment variable names for user grant verification.
const (
	EnvUserGrantIssuer    = "AGENTGATE_USER_GRANT_ISSUER"
	EnvUserGrantAudience  = "AGENTGATE_USER_GRANT_AUDIENCE"
	EnvUserGrantPublicKey = "AGENTGATE_USER_GRANT_PUBLIC_KEY"
)

// grantEnv holds raw env values before post-parse validation.
type grantEnv struct {
	Issuer    string `env:"AGENTGATE_USER_GRANT_ISSUER"`
	Audience  string `env:"AGENTGATE_USER_GRANT_AUDIENCE"`
	PublicKey string `env:"AGENTGATE_USER_GRANT_PUBLIC_KEY"`
}

// Config defines how user grants are verified.
type Config struct {
	Issuer   string
	Audience string
	Key      ed25519.PublicKey
	Now      func() time.Time
}

// Claims captures validated user grant claims.
type Claims struct {
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	NotBefore time.Time
	IssuedAt  time.Time
	JWTID     string
	UserID    string
}

// grantClaims is the internal claims type used for JWT parsing.
type grantClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// LoadConfigFromEnv reads user grant verification configuration. It returns
// a zero Config and no error when none of the variables are set, so the
// gateway can run open in development.
func LoadConfigFromEnv(now func() time.Time) (Config, bool, error) {
	var raw grantEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, false, fmt.Errorf("parse user grant env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	publicKey := strings.TrimSpace(raw.PublicKey)
	if issuer == "" && audience == "" && publicKey == "" {
		return Config{}, false, nil
	}
	if issuer == "" {
		return Config{}, false, fmt.Errorf("AGENTGATE_USER_GRANT_ISSUER is required")
	}
	if audience == "" {
		return Config{}, false, fmt.Errorf("AGENTGATE_USER_GRANT_AUDIENCE is required")
	}
	if publicKey == "" {
		return Config{}, false, fmt.Errorf("AGENTGATE_USER_GRANT_PUBLIC_KEY is required")
	}
	keyBytes, err := decodeBase64(publicKey)
	if err != nil {
		return Config{}, false, fmt.Errorf("decode user grant public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return Config{}, false, fmt.Errorf("user grant public key must be %d bytes", ed25519.PublicKeySize)
	}
	if now == nil {
		now = time.Now
	}
	return Config{
		Issuer:   issuer,
		Audience: audience,
		Key:      ed25519.PublicKey(keyBytes),
		Now:      now,
	}, true, nil
}

// Validate verifies a user grant token and returns its claims. The caller
// compares Claims.UserID against the request's user id.
func Validate(grant string, cfg Config) (Claims, error) {
	grant = strings.TrimSpace(grant)
	if grant == "" {
		return Claims{}, apperrors.New(apperrors.CodeUserGrantInvalid, "user grant is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Issuer == "" || cfg.Audience == "" || len(cfg.Key) != ed25519.PublicKeySize {
		return Claims{}, errors.New("user grant verifier is not configured")
	}

	var parsed grantClaims
	_, err := jwt.ParseWithClaims(grant, &parsed, func(token *jwt.Token) (any, error) {
		return cfg.Key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if parsed.Issuer == "" || parsed.Issuer != cfg.Issuer {
		return Claims{}, apperrors.WithMetadata(
			apperrors.CodeUserGrantMismatch,
			"user grant issuer mismatch",
			map[string]string{"Field": "issuer"},
		)
	}
	if !audienceContains(parsed.Audience, cfg.Audience) {
		return Claims{}, apperrors.WithMetadata(
			apperrors.CodeUserGrantMismatch,
			"user grant audience mismatch",
			map[string]string{"Field": "audience"},
		)
	}
	if parsed.ID == "" {
		return Claims{}, apperrors.New(apperrors.CodeUserGrantInvalid, "user grant jti is required")
	}
	if parsed.ExpiresAt == nil {
		return Claims{}, apperrors.New(apperrors.CodeUserGrantInvalid, "user grant exp is required")
	}

	now := cfg.Now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return Claims{}, apperrors.New(apperrors.CodeUserGrantExpired, "user grant is expired")
	}
	if parsed.NotBefore != nil {
		nbf := parsed.NotBefore.Time.UTC()
		if now.Before(nbf) {
			return Claims{}, apperrors.New(apperrors.CodeUserGrantInvalid, "user grant not active yet")
		}
	}
	if strings.TrimSpace(parsed.UserID) == "" {
		return Claims{}, apperrors.New(apperrors.CodeUserGrantInvalid, "user grant user id is required")
	}

	claims := Claims{
		Issuer:    parsed.Issuer,
		Audience:  []string(parsed.Audience),
		ExpiresAt: exp,
		JWTID:     parsed.ID,
		UserID:    parsed.UserID,
	}
	if parsed.NotBefore != nil {
		claims.NotBefore = parsed.NotBefore.Time.UTC()
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.New(apperrors.CodeUserGrantInvalid, "user grant signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeUserGrantInvalid, "user grant alg is invalid")
	}
	return apperrors.New(apperrors.CodeUserGrantInvalid, "user grant is invalid")
}

// audienceContains reports whether the audience list contains the given value.
func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
