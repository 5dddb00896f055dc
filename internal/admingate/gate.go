// Package admingate checks the static administrator secret. It is independent
// of user sessions: a Bearer token never satisfies it.
package admingate

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

const (
	HeaderName = "X-Admin-Secret"
	QueryParam = "admin_secret"
)

var ErrUnauthorized = errors.New("admin secret missing or invalid")

// Channel reports how a secret was presented.
type Channel string

const (
	ChannelNone   Channel = ""
	ChannelHeader Channel = "header"
	// ChannelQuery is weaker: URLs end up in access logs, proxies and browser history.
	ChannelQuery Channel = "query"
)

// Options configures a Gate.
type Options struct {
	Secret           string
	AllowQuerySecret bool
}

// Gate authorizes administrative reads against one shared secret.
type Gate struct {
	digest     [sha256.Size]byte
	configured bool
	allowQuery bool
}

// New builds a gate. An empty secret yields a gate that rejects everything.
func New(opts Options) *Gate {
	secret := strings.TrimSpace(opts.Secret)
	g := &Gate{allowQuery: opts.AllowQuerySecret}
	if secret != "" {
		g.digest = sha256.Sum256([]byte(secret))
		g.configured = true
	}
	return g
}

// Authorize compares a presented secret in constant time.
func (g *Gate) Authorize(presented string) error {
	if g == nil || !g.configured || presented == "" {
		return ErrUnauthorized
	}
	// Hash both sides so the comparison length does not depend on the input.
	got := sha256.Sum256([]byte(presented))
	if subtle.ConstantTimeCompare(got[:], g.digest[:]) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// AuthorizeRequest extracts the secret from the header, or from the query string
// when allowed, and authorizes it. The returned channel is set even on failure.
func (g *Gate) AuthorizeRequest(r *http.Request) (Channel, error) {
	if v := strings.TrimSpace(r.Header.Get(HeaderName)); v != "" {
		return ChannelHeader, g.Authorize(v)
	}
	if v := strings.TrimSpace(r.URL.Query().Get(QueryParam)); v != "" {
		if g == nil || !g.allowQuery {
			return ChannelQuery, ErrUnauthorized
		}
		return ChannelQuery, g.Authorize(v)
	}
	return ChannelNone, ErrUnauthorized
}
