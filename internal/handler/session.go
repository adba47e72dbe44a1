package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/canteenhq/grouporder/internal/domain/grouporder"
)

// memberKey is the context key for the authenticated member.
type memberKey struct{}

// MemberFromContext extracts the session's member from the request context.
func MemberFromContext(ctx context.Context) (grouporder.Member, bool) {
	m, ok := ctx.Value(memberKey{}).(grouporder.Member)
	return m, ok
}

// sessionClaims are the JWT claims carried by a session token.
type sessionClaims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// SessionManager issues and validates signed session tokens. Sessions are
// lightweight: members identify themselves with a display name when opening a
// group link, there is no password flow here.
type SessionManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionManager creates a SessionManager signing with the given secret.
func NewSessionManager(secret []byte, ttl time.Duration) *SessionManager {
	return &SessionManager{secret: secret, ttl: ttl, now: time.Now}
}

// Issue creates a signed token for the member. A fresh member id is minted
// when none is supplied, so the same device keeps its identity across orders
// by re-presenting its token.
func (s *SessionManager) Issue(m grouporder.Member) (grouporder.Member, string, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := s.now()
	claims := sessionClaims{
		Name: m.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   m.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return grouporder.Member{}, "", err
	}
	return m, token, nil
}

// Validate parses and verifies a session token, returning its member.
func (s *SessionManager) Validate(token string) (grouporder.Member, error) {
	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return grouporder.Member{}, jwt.ErrTokenInvalidClaims
	}
	return grouporder.Member{ID: claims.Subject, Name: claims.Name}, nil
}

// Require is a middleware that rejects requests without a valid session
// token. The token comes from the Authorization header, or from the "token"
// query parameter for websocket upgrades where browsers cannot set headers.
// Missing or expired sessions force re-authentication rather than a silent
// retry.
func (s *SessionManager) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "session required")
			return
		}

		m, err := s.Validate(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}

		ctx := context.WithValue(r.Context(), memberKey{}, m)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CreateSessionRequest is the input for opening a session.
type CreateSessionRequest struct {
	Name string `json:"name"`
}

// CreateSessionResponse returns the minted member identity and its token.
type CreateSessionResponse struct {
	Member grouporder.Member `json:"member"`
	Token  string            `json:"token"`
}

// CreateSession handles POST /session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusUnprocessableEntity, "name required")
		return
	}

	m, token, err := h.sessions.Issue(grouporder.Member{Name: strings.TrimSpace(req.Name)})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateSessionResponse{Member: m, Token: token})
}
