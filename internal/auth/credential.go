package auth

import (
	"net/http"
	"strings"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderAuthToken     = "X-Auth-Token"
	ParamToken          = "token"

	bearerPrefix = "bearer "
)

// CredentialSource exposes whatever the transport carried on its connect
// event.
type CredentialSource interface {
	Header(name string) string
	Query(name string) string
}

type requestCredentials struct {
	r *http.Request
}

// FromRequest reads credentials from an HTTP handshake request.
func FromRequest(r *http.Request) CredentialSource {
	return requestCredentials{r: r}
}

func (c requestCredentials) Header(name string) string {
	return c.r.Header.Get(name)
}

func (c requestCredentials) Query(name string) string {
	return c.r.URL.Query().Get(name)
}

// NativeHeaders is a CredentialSource for transports that deliver connect
// headers as a flat map, such as a STOMP CONNECT frame.
type NativeHeaders map[string]string

func (h NativeHeaders) Header(name string) string {
	if v, ok := h[name]; ok {
		return v
	}
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func (h NativeHeaders) Query(name string) string {
	return h.Header(name)
}

// ExtractToken applies the lookup order Authorization bearer, token
// parameter, X-Auth-Token header. The first non-empty candidate wins.
func ExtractToken(src CredentialSource) (string, bool) {
	if src == nil {
		return "", false
	}

	if header := strings.TrimSpace(src.Header(HeaderAuthorization)); len(header) > len(bearerPrefix) &&
		strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		if token := strings.TrimSpace(header[len(bearerPrefix):]); token != "" {
			return token, true
		}
	}

	if token := strings.TrimSpace(src.Query(ParamToken)); token != "" {
		return token, true
	}
	if token := strings.TrimSpace(src.Header(ParamToken)); token != "" {
		return token, true
	}

	if token := strings.TrimSpace(src.Header(HeaderAuthToken)); token != "" {
		return token, true
	}

	return "", false
}
