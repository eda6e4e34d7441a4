package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
)

var (
	errNoKeyConfigured   = errors.New("no verification key configured for signing method")
	errMissingExpiry     = errors.New("token has no expiry")
	errIssuerMismatch    = errors.New("token issuer mismatch")
	errUnexpectedSigning = errors.New("unexpected signing method")
)

// KeySource resolves the RSA public key identified by a JWT "kid" header.
type KeySource interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

type JWTVerifierConfig struct {
	Keys       KeySource
	HMACSecret string
	Issuer     string
}

// JWTVerifier verifies RS* tokens against a KeySource and, when a shared
// secret is configured, HS256 tokens.
type JWTVerifier struct {
	keys       KeySource
	hmacSecret []byte
	issuer     string
	parser     *jwt.Parser
}

func NewJWTVerifier(cfg JWTVerifierConfig) (*JWTVerifier, error) {
	methods := make([]string, 0, 4)
	if cfg.Keys != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg(), jwt.SigningMethodRS384.Alg(), jwt.SigningMethodRS512.Alg())
	}
	if strings.TrimSpace(cfg.HMACSecret) != "" {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if len(methods) == 0 {
		return nil, errors.New("jwt verifier requires a jwks url or an hmac secret")
	}

	return &JWTVerifier{
		keys:       cfg.Keys,
		hmacSecret: []byte(cfg.HMACSecret),
		issuer:     strings.TrimSpace(cfg.Issuer),
		parser:     &jwt.Parser{ValidMethods: methods},
	}, nil
}

func (v *JWTVerifier) Verify(ctx context.Context, raw string) (Claims, error) {
	token, err := v.parser.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodRSA:
			if v.keys == nil {
				return nil, errNoKeyConfigured
			}
			kid, _ := t.Header["kid"].(string)
			return v.keys.Key(ctx, kid)
		case *jwt.SigningMethodHMAC:
			if len(v.hmacSecret) == 0 {
				return nil, errNoKeyConfigured
			}
			return v.hmacSecret, nil
		default:
			return nil, fmt.Errorf("%w: %v", errUnexpectedSigning, t.Header["alg"])
		}
	})
	if err != nil {
		return Claims{}, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return Claims{}, errors.New("token is not valid")
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, errors.New("unexpected claims type")
	}

	expiresAt, ok := numericDate(mapClaims["exp"])
	if !ok {
		return Claims{}, errMissingExpiry
	}

	if v.issuer != "" && !mapClaims.VerifyIssuer(v.issuer, true) {
		return Claims{}, errIssuerMismatch
	}

	subject, _ := mapClaims["sub"].(string)
	username, _ := mapClaims["username"].(string)

	return Claims{
		Subject:   subject,
		Username:  username,
		Roles:     mapClaims["roles"],
		ExpiresAt: expiresAt,
	}, nil
}

func numericDate(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case float64:
		return time.Unix(int64(v), 0).UTC(), true
	case int64:
		return time.Unix(v, 0).UTC(), true
	case json.Number:
		seconds, err := v.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(seconds, 0).UTC(), true
	default:
		return time.Time{}, false
	}
}
