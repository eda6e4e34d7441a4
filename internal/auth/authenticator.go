package auth

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/krobus00/price-stream-service/internal/entity"
	"github.com/sirupsen/logrus"
)

// Claims is the verified claim set returned by a TokenVerifier. Roles holds
// the raw roles claim as decoded.
type Claims struct {
	Subject   string
	Username  string
	Roles     any
	ExpiresAt time.Time
}

type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}

type Authenticator struct {
	verifier TokenVerifier
}

func NewAuthenticator(verifier TokenVerifier) *Authenticator {
	return &Authenticator{verifier: verifier}
}

// Authenticate runs once per connection attempt. A non-nil error is always a
// *RejectionError carrying MISSING_TOKEN or INVALID_TOKEN.
func (a *Authenticator) Authenticate(ctx context.Context, src CredentialSource) (entity.Principal, error) {
	token, ok := ExtractToken(src)
	if !ok {
		return entity.Principal{}, reject(ReasonMissingToken, nil)
	}

	claims, err := a.verifier.Verify(ctx, token)
	if err != nil {
		logrus.WithError(err).Debug("token verification failed")
		return entity.Principal{}, reject(ReasonInvalidToken, err)
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return entity.Principal{}, reject(ReasonInvalidToken, errors.New("token has no subject"))
	}

	return entity.Principal{
		UserID:    subject,
		Username:  claims.Username,
		Roles:     rolesFromClaim(claims.Roles),
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

func rolesFromClaim(raw any) []string {
	roles := make([]string, 0)

	switch v := raw.(type) {
	case nil:
	case string:
		if role := strings.TrimSpace(v); role != "" {
			roles = append(roles, role)
		}
	case []string:
		for _, role := range v {
			if role = strings.TrimSpace(role); role != "" {
				roles = append(roles, role)
			}
		}
	case []any:
		for _, item := range v {
			if role, ok := item.(string); ok {
				if role = strings.TrimSpace(role); role != "" {
					roles = append(roles, role)
				}
			}
		}
	}

	slices.Sort(roles)
	return slices.Compact(roles)
}
