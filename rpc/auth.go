package rpc

import (
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const operatorClockSkew = 2 * time.Minute

var errMissingBearer = errors.New("missing bearer token")

// operatorAuth verifies HS256 bearer tokens on operator-only methods.
type operatorAuth struct {
	secret []byte
	issuer string
}

func newOperatorAuth(secret, issuer string) *operatorAuth {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil
	}
	return &operatorAuth{secret: []byte(trimmed), issuer: strings.TrimSpace(issuer)}
}

func (a *operatorAuth) authorize(r *http.Request) error {
	if a == nil {
		return nil
	}
	tokenString := extractBearer(r.Header.Get("Authorization"))
	if tokenString == "" {
		return errMissingBearer
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(operatorClockSkew),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("token invalid")
	}
	return nil
}

func extractBearer(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
