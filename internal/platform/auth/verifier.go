package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

var (
	// ErrTokenExpired signals that the provided SSO token has expired.
	ErrTokenExpired = errors.New("auth: sso token expired")
	// ErrTokenInvalid signals that the provided SSO token failed verification.
	ErrTokenInvalid = errors.New("auth: sso token invalid")
)

// Claims carries the identity attributes extracted from a verified SSO token.
type Claims struct {
	Subject      string
	Name         string
	PhoneticName string
	Email        string
	Phone        string
	Permissions  []string
}

// TokenVerifier verifies campus SSO bearer tokens.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*Claims, error)
}

// SSOVerifier validates RS256-signed campus SSO tokens against a JWKS cache.
type SSOVerifier struct {
	cache    *JWKSCache
	issuer   string
	audience string
	logger   Logger
	metrics  MetricsRecorder
	now      func() time.Time
}

// SSOOption customises the verifier.
type SSOOption func(*SSOVerifier)

// WithSSOLogger overrides the verifier logger.
func WithSSOLogger(logger Logger) SSOOption {
	return func(v *SSOVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithSSOMetrics sets the metrics recorder.
func WithSSOMetrics(recorder MetricsRecorder) SSOOption {
	return func(v *SSOVerifier) {
		v.metrics = recorder
	}
}

// WithSSOClock injects a custom clock (primarily for testing).
func WithSSOClock(now func() time.Time) SSOOption {
	return func(v *SSOVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewSSOVerifier constructs a verifier bound to the given issuer and audience.
func NewSSOVerifier(cache *JWKSCache, issuer, audience string, opts ...SSOOption) *SSOVerifier {
	verifier := &SSOVerifier{
		cache:    cache,
		issuer:   strings.TrimSpace(issuer),
		audience: strings.TrimSpace(audience),
		logger:   log.Default(),
		now:      time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(verifier)
		}
	}

	return verifier
}

// VerifyToken parses and validates the token, returning the extracted claims.
func (v *SSOVerifier) VerifyToken(ctx context.Context, token string) (*Claims, error) {
	if v == nil || v.cache == nil {
		return nil, fmt.Errorf("%w: verifier not configured", ErrTokenInvalid)
	}
	start := v.now()

	// Claims are validated after the parse so the injected clock applies.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(token, claims, v.cache.Keyfunc(ctx)); err != nil {
		if v.logger != nil {
			v.logger.Printf("auth: sso verification failed (token_invalid): %v", err)
		}
		v.record(ctx, false, "token_invalid", start)
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	now := v.now().Unix()
	if !claims.VerifyExpiresAt(now, true) {
		if v.logger != nil {
			v.logger.Printf("auth: sso verification failed (token_expired)")
		}
		v.record(ctx, false, "token_expired", start)
		return nil, fmt.Errorf("%w: token expired", ErrTokenExpired)
	}
	if !claims.VerifyNotBefore(now, false) || !claims.VerifyIssuedAt(now, false) {
		v.record(ctx, false, "token_not_yet_valid", start)
		return nil, fmt.Errorf("%w: token used before valid", ErrTokenInvalid)
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		if v.logger != nil {
			v.logger.Printf("auth: sso issuer mismatch, got %q", claimAsString(claims, "iss"))
		}
		v.record(ctx, false, "issuer_mismatch", start)
		return nil, fmt.Errorf("%w: issuer mismatch", ErrTokenInvalid)
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		if v.logger != nil {
			v.logger.Printf("auth: sso audience mismatch")
		}
		v.record(ctx, false, "audience_mismatch", start)
		return nil, fmt.Errorf("%w: audience mismatch", ErrTokenInvalid)
	}

	subject, _ := claims["sub"].(string)
	if strings.TrimSpace(subject) == "" {
		v.record(ctx, false, "subject_missing", start)
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	out := &Claims{
		Subject:      subject,
		Name:         claimAsString(claims, "name"),
		PhoneticName: claimAsString(claims, "phonetic_name"),
		Email:        claimAsString(claims, "email"),
		Phone:        claimAsString(claims, "phone_number"),
		Permissions:  permissionsFromClaims(claims),
	}

	v.record(ctx, true, "ok", start)
	return out, nil
}

func (v *SSOVerifier) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v == nil || v.metrics == nil {
		return
	}
	v.metrics.RecordVerification(ctx, "sso", success, reason, v.now().Sub(start))
}

func permissionsFromClaims(claims jwt.MapClaims) []string {
	raw, ok := claims["permissions"]
	if !ok {
		return nil
	}

	normalise := func(value string) string {
		return strings.ToLower(strings.TrimSpace(value))
	}

	switch v := raw.(type) {
	case string:
		permission := normalise(v)
		if permission == "" {
			return nil
		}
		return []string{permission}
	case []any:
		out := make([]string, 0, len(v))
		seen := make(map[string]struct{}, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				continue
			}
			permission := normalise(str)
			if permission == "" {
				continue
			}
			if _, exists := seen[permission]; exists {
				continue
			}
			seen[permission] = struct{}{}
			out = append(out, permission)
		}
		return out
	case []string:
		out := make([]string, 0, len(v))
		seen := make(map[string]struct{}, len(v))
		for _, item := range v {
			permission := normalise(item)
			if permission == "" {
				continue
			}
			if _, exists := seen[permission]; exists {
				continue
			}
			seen[permission] = struct{}{}
			out = append(out, permission)
		}
		return out
	default:
		return nil
	}
}

func claimAsString(claims map[string]any, key string) string {
	raw, ok := claims[key]
	if !ok {
		return ""
	}
	if str, ok := raw.(string); ok {
		return strings.TrimSpace(str)
	}
	return ""
}
