package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJWKSServer(t *testing.T, kid string, key *rsa.PublicKey, hits *atomic.Int32) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jsonWebKeySet{Keys: []jsonWebKey{{
			Kid: kid,
			Kty: "RSA",
			Use: "sig",
			N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
	t.Cleanup(server.Close)

	return server
}

func signRS256(t *testing.T, kid string, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestJWTVerifier_JWKS(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	var hits atomic.Int32
	server := newJWKSServer(t, "key-1", &privateKey.PublicKey, &hits)

	verifier, err := NewJWTVerifier(JWTVerifierConfig{
		Keys:   NewJWKSKeySet(server.URL, time.Hour),
		Issuer: "finstream-sso",
	})
	require.NoError(t, err)

	claims := jwt.MapClaims{
		"sub":   "7",
		"iss":   "finstream-sso",
		"roles": []string{"USER"},
		"exp":   time.Now().Add(time.Hour).Unix(),
	}

	got, err := verifier.Verify(context.Background(), signRS256(t, "key-1", privateKey, claims))
	require.NoError(t, err)
	assert.Equal(t, "7", got.Subject)
	assert.Equal(t, []any{"USER"}, got.Roles)

	_, err = verifier.Verify(context.Background(), signRS256(t, "key-1", privateKey, claims))
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "keys are cached")

	// an unknown kid inside the refresh interval does not refetch
	_, err = verifier.Verify(context.Background(), signRS256(t, "key-2", privateKey, claims))
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.Equal(t, int32(1), hits.Load())

	claims["iss"] = "someone-else"
	_, err = verifier.Verify(context.Background(), signRS256(t, "key-1", privateKey, claims))
	assert.Error(t, err)
}

func TestJWTVerifier_RejectsHMACWithoutSecret(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	var hits atomic.Int32
	server := newJWKSServer(t, "key-1", &privateKey.PublicKey, &hits)

	verifier, err := NewJWTVerifier(JWTVerifierConfig{Keys: NewJWKSKeySet(server.URL, time.Hour)})
	require.NoError(t, err)

	_, err = verifier.Verify(context.Background(), signHS256(t, validClaims(), testSecret))
	assert.Error(t, err)
}

func TestNewJWTVerifier_RequiresKeyMaterial(t *testing.T) {
	_, err := NewJWTVerifier(JWTVerifierConfig{})
	assert.Error(t, err)
}
