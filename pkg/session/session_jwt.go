package session

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is the fixed validity window of a session token.
const DefaultTTL = 7 * 24 * time.Hour

// Verification failures. The HTTP layer reports all of them as "unauthorized".
var (
	ErrTokenMissing      = errors.New("session token missing")
	ErrTokenMalformed    = errors.New("session token malformed")
	ErrTokenExpired      = errors.New("session token expired")
	ErrTokenBadSignature = errors.New("session token signature invalid")
)

// Identity is the subject carried by a session token.
type Identity struct {
	ID       int64
	Username string
}

// Claims is the signed claim set: id, username, iat and exp.
type Claims struct {
	UserID   int64  `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Options configures the issuer. Zero values select defaults.
type Options struct {
	TTL time.Duration
	Now func() time.Time
}

// Issuer signs and verifies HS256 session tokens. It holds no mutable state.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer bound to the given signing secret.
func NewIssuer(secret string, opts Options) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("session signing secret is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Issuer{
		secret: []byte(secret),
		ttl:    opts.TTL,
		now:    opts.Now,
	}, nil
}

// TTL returns the validity window of issued tokens.
func (s *Issuer) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for the identity, valid from now until now+TTL.
func (s *Issuer) Issue(id Identity) (string, error) {
	if id.ID <= 0 || strings.TrimSpace(id.Username) == "" {
		return "", errors.New("session identity requires id and username")
	}
	// NumericDate has second precision; truncate so exp is exactly iat+TTL.
	now := s.now().UTC().Truncate(time.Second)
	claims := Claims{
		UserID:   id.ID,
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks signature and expiry and returns the embedded identity.
// The error is one of ErrTokenMissing, ErrTokenMalformed, ErrTokenExpired
// or ErrTokenBadSignature.
func (s *Issuer) Verify(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrTokenMissing
	}
	claims := Claims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return Identity{}, classify(err)
	}
	if !parsed.Valid {
		return Identity{}, ErrTokenMalformed
	}
	if claims.UserID <= 0 || strings.TrimSpace(claims.Username) == "" {
		return Identity{}, ErrTokenMalformed
	}
	return Identity{ID: claims.UserID, Username: claims.Username}, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrTokenBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrTokenMalformed
	}
}
