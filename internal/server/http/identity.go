package httpserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenLeeway = 30 * time.Second

// callerID resolves the caller identity. A bearer token is used when the
// server has a signing key and the request carries one; otherwise the
// userId parameter is taken as given. An empty result means no identity.
func (s *Server) callerID(r *http.Request) (string, error) {
	if s.hasBearer(r) {
		tok, err := bearerToken(r)
		if err != nil {
			return "", err
		}
		return s.subjectFromToken(tok)
	}
	return r.FormValue("userId"), nil
}

func (s *Server) hasBearer(r *http.Request) bool {
	return len(s.signKey) > 0 && r.Header.Get("Authorization") != ""
}

// subjectFromToken verifies an HS256 JWT and returns its subject.
func (s *Server) subjectFromToken(tok string) (string, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(*jwt.Token) (any, error) {
		return s.signKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(tokenLeeway),
	)
	if err != nil || !parsed.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("empty subject")
	}
	return claims.Subject, nil
}

func bearerToken(r *http.Request) (string, error) {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
		if t := strings.TrimSpace(v[7:]); t != "" {
			return t, nil
		}
	}
	return "", errors.New("no bearer token")
}
