package internal

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"huddle/internal/presence"
)

var (
	errUnauthorized = errors.New("unauthorized")
	errForbidden    = errors.New("forbidden")
)

type authContext struct {
	UserID presence.UserID
	Token  string
}

// sessionCache remembers recently validated tokens so websocket upgrades and
// presence queries skip the database.
type sessionCache struct {
	entries *expirable.LRU[string, cachedSession]
}

type cachedSession struct {
	userID    presence.UserID
	expiresAt time.Time
}

func newSessionCache(size int, ttl time.Duration) *sessionCache {
	return &sessionCache{entries: expirable.NewLRU[string, cachedSession](size, nil, ttl)}
}

func (c *sessionCache) get(token string) (presence.UserID, bool) {
	entry, ok := c.entries.Get(token)
	if !ok {
		return 0, false
	}
	if time.Now().After(entry.expiresAt) {
		c.entries.Remove(token)
		return 0, false
	}
	return entry.userID, true
}

func (c *sessionCache) put(token string, userID presence.UserID, expiresAt time.Time) {
	c.entries.Add(token, cachedSession{userID: userID, expiresAt: expiresAt})
}

func (c *sessionCache) forget(token string) {
	c.entries.Remove(token)
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func (s *Server) authenticateRequest(r *http.Request) (authContext, error) {
	token := bearerToken(r)
	if token == "" {
		return authContext{}, errUnauthorized
	}
	if userID, ok := s.sessions.get(token); ok {
		return authContext{UserID: userID, Token: token}, nil
	}
	session, err := s.store.GetSession(r.Context(), token)
	if err != nil {
		return authContext{}, err
	}
	if session == nil || time.Now().After(session.ExpiresAt) {
		return authContext{}, errUnauthorized
	}
	userID := presence.UserID(session.UserID)
	s.sessions.put(token, userID, session.ExpiresAt)
	return authContext{UserID: userID, Token: token}, nil
}
