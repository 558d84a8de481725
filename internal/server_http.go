package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"huddle/internal/presence"
	"huddle/internal/storage"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

type createGroupRequest struct {
	Name string `json:"name"`
}

type groupDTO struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
	Live int    `json:"live"`
}

type addMemberRequest struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type memberDTO struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Online   bool   `json:"online"`
}

func (s *Server) HandleSignup(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.Allow(s.clientIP(r)) {
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	req, err := decodeCredentials(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	id, err := s.store.CreateUser(r.Context(), req.Username, hash)
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			writeError(w, http.StatusConflict, errors.New("username already taken"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.metrics.IncSignup()
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "username": req.Username})
}

func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.Allow(s.clientIP(r)) {
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	req, err := decodeCredentials(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := s.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, errors.New("invalid credentials"))
		return
	}

	token := uuid.NewString()
	expiresAt := time.Now().Add(s.tokenTTL)
	if err := s.store.CreateSession(r.Context(), user.ID, token, expiresAt); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.sessions.put(token, presence.UserID(user.ID), expiresAt)
	s.metrics.IncLogin()
	writeJSON(w, http.StatusOK, loginResponse{Token: token, UserID: user.ID, Username: user.Username, ExpiresAt: expiresAt})
}

func (s *Server) HandleLogout(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	s.sessions.forget(authCtx.Token)
	if err := s.store.DeleteSession(r.Context(), authCtx.Token); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandleCreateGroup(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	var req createGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, errors.New("group name required"))
		return
	}
	id, err := s.store.CreateGroup(r.Context(), int64(authCtx.UserID), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("create group: %w", err))
		return
	}
	writeJSON(w, http.StatusCreated, groupDTO{ID: id, Name: name, Role: string(storage.RoleOwner)})
}

// HandleListGroups returns the caller's groups with their live counts.
func (s *Server) HandleListGroups(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	ids, err := s.store.GroupIDsForUser(r.Context(), int64(authCtx.UserID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	groups := make([]groupDTO, 0, len(ids))
	for _, id := range ids {
		group, err := s.store.GetGroup(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if group == nil {
			continue
		}
		role, err := s.store.MemberRole(r.Context(), id, int64(authCtx.UserID))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		groups = append(groups, groupDTO{
			ID:   group.ID,
			Name: group.Name,
			Role: string(role),
			Live: s.engine.GroupLiveCount(presence.GroupID(group.ID)),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

func (s *Server) HandleListMembers(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	groupID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := s.requireRole(r, groupID, authCtx.UserID); err != nil {
		writeAuthError(w, err)
		return
	}
	members, err := s.store.ListGroupMembers(r.Context(), groupID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]memberDTO, 0, len(members))
	for _, m := range members {
		out = append(out, memberDTO{
			UserID:   m.UserID,
			Username: m.Username,
			Role:     string(m.Role),
			Online:   s.engine.IsOnline(presence.UserID(m.UserID)),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": out})
}

// HandleAddMember lets an owner or moderator add a user to the group.
// Only owners may grant the moderator role.
func (s *Server) HandleAddMember(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	groupID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	callerRole, err := s.requireRole(r, groupID, authCtx.UserID, storage.RoleOwner, storage.RoleModerator)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	var req addMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	role := storage.Role(strings.TrimSpace(req.Role))
	if role == "" {
		role = storage.RoleMember
	}
	if role == storage.RoleOwner || !role.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid role %q", req.Role))
		return
	}
	if role == storage.RoleModerator && callerRole != storage.RoleOwner {
		writeAuthError(w, errForbidden)
		return
	}
	user, err := s.store.GetUserByUsername(r.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if user == nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	existing, err := s.store.MemberRole(r.Context(), groupID, user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if existing == storage.RoleOwner {
		writeError(w, http.StatusConflict, errors.New("user owns this group"))
		return
	}
	if err := s.store.AddGroupMember(r.Context(), groupID, user.ID, role); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.engine.Tracker.MemberAdded(presence.UserID(user.ID), presence.GroupID(groupID))
	writeJSON(w, http.StatusOK, memberDTO{
		UserID:   user.ID,
		Username: user.Username,
		Role:     string(role),
		Online:   s.engine.IsOnline(presence.UserID(user.ID)),
	})
}

// HandleRemoveMember removes a member. Members may remove themselves; owners
// and moderators may remove others. The owner cannot be removed. The removed
// user's connections stop receiving the group's events at once.
func (s *Server) HandleRemoveMember(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	groupID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	targetID, ok := pathID(w, r, "uid")
	if !ok {
		return
	}
	allowed := []storage.Role{storage.RoleOwner, storage.RoleModerator}
	if targetID == int64(authCtx.UserID) {
		allowed = nil
	}
	if _, err := s.requireRole(r, groupID, authCtx.UserID, allowed...); err != nil {
		writeAuthError(w, err)
		return
	}
	targetRole, err := s.store.MemberRole(r.Context(), groupID, targetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if targetRole == storage.RoleOwner {
		writeError(w, http.StatusBadRequest, errors.New("the owner cannot leave the group"))
		return
	}
	if err := s.store.RemoveGroupMember(r.Context(), groupID, targetID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	target, group := presence.UserID(targetID), presence.GroupID(groupID)
	s.engine.Tracker.MemberRemoved(target, group)
	s.hub.EvictUser(target, presence.GroupRoom(group), presence.VideoRoom(group))
	w.WriteHeader(http.StatusNoContent)
}

// HandleUserOnline answers from the in-memory registry.
func (s *Server) HandleUserOnline(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAuth(w, r); !ok {
		return
	}
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"online": s.engine.IsOnline(presence.UserID(userID))})
}

func (s *Server) HandleGroupLive(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	groupID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := s.requireRole(r, groupID, authCtx.UserID); err != nil {
		writeAuthError(w, err)
		return
	}
	group := presence.GroupID(groupID)
	writeJSON(w, http.StatusOK, map[string]int{
		"count": s.engine.GroupLiveCount(group),
		"video": s.engine.VideoPeerCount(group),
	})
}

func (s *Server) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"version":     Version,
		"connections": s.hub.ClientCount(),
	})
}

func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) (authContext, bool) {
	authCtx, err := s.authenticateRequest(r)
	if err != nil {
		writeAuthError(w, err)
		return authContext{}, false
	}
	return authCtx, true
}

// requireRole returns the caller's role in the group. With no roles given,
// any membership is enough.
func (s *Server) requireRole(r *http.Request, groupID int64, userID presence.UserID, roles ...storage.Role) (storage.Role, error) {
	role, err := s.store.MemberRole(r.Context(), groupID, int64(userID))
	if err != nil {
		return "", err
	}
	if !role.Valid() {
		return "", errForbidden
	}
	if len(roles) == 0 {
		return role, nil
	}
	for _, allowed := range roles {
		if role == allowed {
			return role, nil
		}
	}
	return "", errForbidden
}

func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errUnauthorized):
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	case errors.Is(err, errForbidden):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid %s", name))
		return 0, false
	}
	return id, true
}

func decodeCredentials(r *http.Request) (credentialsRequest, error) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		return req, err
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Password = strings.TrimSpace(req.Password)
	if req.Username == "" || req.Password == "" {
		return req, errors.New("username and password are required")
	}
	return req, nil
}

func decodeJSON(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
