package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const (
	defaultJWKSRefreshInterval = 5 * time.Minute
	defaultJWKSTimeout         = 5 * time.Second
)

var ErrKeyNotFound = errors.New("signing key not found")

type jsonWebKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jsonWebKeySet struct {
	Keys []jsonWebKey `json:"keys"`
}

// JWKSKeySet caches the RSA keys published by the identity provider. An
// unknown kid triggers a refetch, at most once per refresh interval.
type JWKSKeySet struct {
	client          *resty.Client
	url             string
	refreshInterval time.Duration

	mu          sync.RWMutex
	keys        map[string]*rsa.PublicKey
	lastFetched time.Time

	refreshMu sync.Mutex
}

func NewJWKSKeySet(url string, refreshInterval time.Duration) *JWKSKeySet {
	if refreshInterval <= 0 {
		refreshInterval = defaultJWKSRefreshInterval
	}

	return &JWKSKeySet{
		client:          resty.New().SetTimeout(defaultJWKSTimeout),
		url:             strings.TrimSpace(url),
		refreshInterval: refreshInterval,
		keys:            make(map[string]*rsa.PublicKey),
	}
}

func (s *JWKSKeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key, ok := s.lookup(kid); ok {
		return key, nil
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	// another caller may have refreshed while this one waited
	if key, ok := s.lookup(kid); ok {
		return key, nil
	}

	s.mu.RLock()
	stale := time.Since(s.lastFetched) >= s.refreshInterval
	s.mu.RUnlock()

	if stale {
		if err := s.refresh(ctx); err != nil {
			return nil, err
		}
		if key, ok := s.lookup(kid); ok {
			return key, nil
		}
	}

	return nil, fmt.Errorf("%w: kid=%q", ErrKeyNotFound, kid)
}

// Refresh refetches the key set regardless of the refresh interval.
func (s *JWKSKeySet) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	return s.refresh(ctx)
}

func (s *JWKSKeySet) lookup(kid string) (*rsa.PublicKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if kid == "" && len(s.keys) == 1 {
		for _, key := range s.keys {
			return key, true
		}
	}

	key, ok := s.keys[kid]
	return key, ok
}

func (s *JWKSKeySet) refresh(ctx context.Context) error {
	var set jsonWebKeySet
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetResult(&set).
		Get(s.url)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode())
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.Kty != "RSA" || (jwk.Use != "" && jwk.Use != "sig") {
			continue
		}

		key, err := parseRSAKey(jwk)
		if err != nil {
			logrus.WithError(err).WithField("kid", jwk.Kid).Warn("skipping malformed jwk")
			continue
		}
		keys[jwk.Kid] = key
	}

	s.mu.Lock()
	s.keys = keys
	s.lastFetched = time.Now()
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"url":  s.url,
		"keys": len(keys),
	}).Info("jwks refreshed")

	return nil
}

func parseRSAKey(jwk jsonWebKey) (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	if len(n) == 0 || len(e) == 0 {
		return nil, errors.New("empty modulus or exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(new(big.Int).SetBytes(e).Int64()),
	}, nil
}
