// Package auth resolves bearer tokens into account identities.
//
// Tokens are HS256 JWTs whose subject is the account ID and whose "role"
// claim is either "user" or "admin".
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("auth: invalid token")
	ErrMissingClaims = errors.New("auth: missing subject or role")
)

// Issuer is the "iss" claim the API issues and expects.
const Issuer = "wallet-api"

// Role distinguishes regular users from administrators.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Claims is the JWT payload.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the authenticated actor for one request.
type Identity struct {
	AccountID string `json:"accountId"`
	Role      Role   `json:"role"`
}

// CanDecideWithdrawals reports whether the actor may approve or reject
// withdrawal requests.
func (i Identity) CanDecideWithdrawals() bool {
	return i.Role == RoleAdmin
}

// Verifier validates tokens and issues new ones with a shared secret.
type Verifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewVerifier creates a Verifier. issuer may be empty.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer, leeway: 5 * time.Second}
}

// Parse validates tokenString and returns the identity it carries.
func (v *Verifier) Parse(tokenString string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !tok.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" || (claims.Role != RoleUser && claims.Role != RoleAdmin) {
		return Identity{}, ErrMissingClaims
	}
	return Identity{AccountID: claims.Subject, Role: claims.Role}, nil
}

// Issue signs a token for accountID with the given role and lifetime.
func (v *Verifier) Issue(accountID string, role Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
