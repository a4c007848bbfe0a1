package server

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tabletop/internal/tactical"
)

type contextKey string

const actorContextKey contextKey = "actor"

var errInvalidToken = errors.New("invalid token")

// actorClaims identify an actor within one session.
type actorClaims struct {
	SessionID string        `json:"session_id"`
	Role      tactical.Role `json:"role"`
	Name      string        `json:"name"`
	jwt.RegisteredClaims
}

// tokenIssuer signs and verifies HS256 actor tokens.
type tokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func newTokenIssuer(secret string, ttl time.Duration) (tokenIssuer, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return tokenIssuer{}, fmt.Errorf("generate token secret: %w", err)
		}
	}
	return tokenIssuer{secret: key, ttl: ttl, now: time.Now}, nil
}

func (t tokenIssuer) issue(sessionID string, actor tactical.Actor) (string, error) {
	now := t.now()
	claims := actorClaims{
		SessionID: sessionID,
		Role:      actor.Role,
		Name:      actor.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign actor token: %w", err)
	}
	return signed, nil
}

func (t tokenIssuer) verify(raw string) (string, tactical.Actor, error) {
	var claims actorClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", tactical.Actor{}, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	role, err := tactical.ParseRole(string(claims.Role))
	if err != nil || claims.Subject == "" || claims.SessionID == "" {
		return "", tactical.Actor{}, errInvalidToken
	}
	return claims.SessionID, tactical.Actor{ID: claims.Subject, Name: claims.Name, Role: role}, nil
}

// requireActor authenticates the bearer token, or the token query parameter
// for websocket upgrades, and checks it was issued for the session in the path.
func (s *Server) requireActor(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := parseToken(r.Header.Get("Authorization"))
		if raw == "" {
			raw = r.URL.Query().Get("token")
		}
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}

		sessionID, actor, err := s.tokens.verify(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if id := r.PathValue("id"); id != "" && id != sessionID {
			writeError(w, http.StatusForbidden, "token was issued for another session")
			return
		}

		ctx := context.WithValue(r.Context(), actorContextKey, actor)
		next(w, r.WithContext(ctx))
	}
}

func parseToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return header
}

func actorFromContext(ctx context.Context) tactical.Actor {
	if v := ctx.Value(actorContextKey); v != nil {
		if a, ok := v.(tactical.Actor); ok {
			return a
		}
	}
	return tactical.Actor{}
}
