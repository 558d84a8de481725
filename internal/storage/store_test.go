package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUserLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateUser(ctx, "alice", []byte("hash"))
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected id > 0")
	}
	if _, err := store.CreateUser(ctx, "alice", []byte("hash2")); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	user, err := store.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if user == nil || user.Username != "alice" {
		t.Fatalf("unexpected user: %+v", user)
	}
	missing, err := store.GetUserByID(ctx, id+100)
	if err != nil || missing != nil {
		t.Fatalf("expected nil user for unknown id, got %+v, err=%v", missing, err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID, err := store.CreateUser(ctx, "bob", []byte("hash"))
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	exp := time.Now().Add(time.Hour)
	if err := store.CreateSession(ctx, userID, "token123", exp); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	session, err := store.GetSession(ctx, "token123")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session == nil || session.UserID != userID {
		t.Fatalf("unexpected session: %+v", session)
	}
	if err := store.DeleteSession(ctx, "token123"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	session, err = store.GetSession(ctx, "token123")
	if err != nil {
		t.Fatalf("GetSession after delete: %v", err)
	}
	if session != nil {
		t.Fatalf("expected nil session after delete")
	}
}

func TestGroupMembership(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	aliceID, _ := store.CreateUser(ctx, "alice", []byte("hash1"))
	bobID, _ := store.CreateUser(ctx, "bob", []byte("hash2"))
	carolID, _ := store.CreateUser(ctx, "carol", []byte("hash3"))

	general, err := store.CreateGroup(ctx, aliceID, "general")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	random, err := store.CreateGroup(ctx, bobID, "random")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if err := store.AddGroupMember(ctx, general, bobID, RoleModerator); err != nil {
		t.Fatalf("AddGroupMember: %v", err)
	}
	if err := store.AddGroupMember(ctx, general, carolID, RoleMember); err != nil {
		t.Fatalf("AddGroupMember: %v", err)
	}

	groups, err := store.GroupIDsForUser(ctx, bobID)
	if err != nil {
		t.Fatalf("GroupIDsForUser: %v", err)
	}
	if len(groups) != 2 || groups[0] != general || groups[1] != random {
		t.Fatalf("unexpected groups for bob: %v", groups)
	}

	role, err := store.MemberRole(ctx, general, aliceID)
	if err != nil || role != RoleOwner {
		t.Fatalf("expected owner role, got %q err=%v", role, err)
	}

	// Re-adding updates the role instead of duplicating the row.
	if err := store.AddGroupMember(ctx, general, carolID, RoleModerator); err != nil {
		t.Fatalf("AddGroupMember update: %v", err)
	}
	members, err := store.ListGroupMembers(ctx, general)
	if err != nil {
		t.Fatalf("ListGroupMembers: %v", err)
	}
	if len(members) != 3 || members[2].Username != "carol" || members[2].Role != RoleModerator {
		t.Fatalf("unexpected members: %+v", members)
	}

	if err := store.RemoveGroupMember(ctx, general, carolID); err != nil {
		t.Fatalf("RemoveGroupMember: %v", err)
	}
	groups, err = store.GroupIDsForUser(ctx, carolID)
	if err != nil || len(groups) != 0 {
		t.Fatalf("expected no groups for carol, got %v err=%v", groups, err)
	}
}

func TestAddGroupMemberRejectsUnknownGroup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	aliceID, _ := store.CreateUser(ctx, "alice", []byte("hash1"))
	if err := store.AddGroupMember(ctx, 999, aliceID, RoleMember); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.AddGroupMember(ctx, 1, aliceID, Role("admin")); err == nil {
		t.Fatalf("expected invalid role error")
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := "sqlite://file:" + t.Name() + "?mode=memory&cache=shared"
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var version int
	if err := store.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		t.Fatalf("user_version: %v", err)
	}
	if version != len(migrations) {
		t.Fatalf("expected schema version %d, got %d", len(migrations), version)
	}
}

func TestDeleteExpiredSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID, err := store.CreateUser(ctx, "carol", []byte("hash"))
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	now := time.Now()
	if err := store.CreateSession(ctx, userID, "stale", now.Add(-time.Hour)); err != nil {
		t.Fatalf("CreateSession stale: %v", err)
	}
	if err := store.CreateSession(ctx, userID, "fresh", now.Add(time.Hour)); err != nil {
		t.Fatalf("CreateSession fresh: %v", err)
	}
	removed, err := store.DeleteExpiredSessions(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpiredSessions: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed session, got %d", removed)
	}
	if session, _ := store.GetSession(ctx, "fresh"); session == nil {
		t.Fatalf("fresh session should survive")
	}
	if session, _ := store.GetSession(ctx, "stale"); session != nil {
		t.Fatalf("stale session should be gone")
	}
}
