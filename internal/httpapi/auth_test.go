package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"boutiquepos/backend/internal/domain"
	"boutiquepos/backend/internal/store"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, exists := s.users[username]
	if !exists {
		return nil, store.ErrNotFound
	}
	clone := user
	return &clone, nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	stub := &userStoreStub{
		users: map[string]domain.UserAccount{
			"owner": {
				Username:  "owner",
				Password:  "owner123",
				Role:      domain.RoleOwner,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, stub)
	_, err := manager.Login(domain.LoginRequest{
		Username: "owner",
		Password: "owner123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := stub.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].Password == "owner123" {
		t.Fatalf("expected password to be upgraded from plain-text")
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
}

func TestCreateStaffStoresPasswordHash(t *testing.T) {
	stub := &userStoreStub{
		users: map[string]domain.UserAccount{
			"owner": {
				Username:  "owner",
				Password:  "owner123",
				Role:      domain.RoleOwner,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, stub)
	user, err := manager.CreateStaff(domain.StaffCreateRequest{
		Username: "fatima",
		Password: "pass1234",
	})
	if err != nil {
		t.Fatalf("create staff failed: %v", err)
	}
	if user.Username != "fatima" {
		t.Fatalf("unexpected username %s", user.Username)
	}
	if user.Role != domain.RoleStaff {
		t.Fatalf("expected default staff role, got %s", user.Role)
	}

	users, err := stub.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	var found *domain.UserAccount
	for i := range users {
		if users[i].Username == "fatima" {
			found = &users[i]
			break
		}
	}
	if found == nil {
		t.Fatalf("expected staff account to be saved")
	}
	if found.Password == "pass1234" {
		t.Fatalf("expected staff password to be hashed")
	}
	if !strings.HasPrefix(found.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", found.Password)
	}

	_, err = manager.Login(domain.LoginRequest{
		Username: "fatima",
		Password: "pass1234",
	})
	if err != nil {
		t.Fatalf("login with hashed staff account failed: %v", err)
	}
}

func TestCreateStaffRejectsUnknownRole(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, &userStoreStub{})

	_, err := manager.CreateStaff(domain.StaffCreateRequest{
		Username: "ghada",
		Password: "pass1234",
		Role:     "superadmin",
	})
	if err == nil {
		t.Fatalf("expected unknown role to be rejected")
	}
}

func TestLoginPicksUpExternallyCreatedUser(t *testing.T) {
	stub := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager("test-secret", time.Hour, stub)

	// Account appears in the store after the manager was built.
	hash, err := hashPassword("late1234")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := stub.CreateUser(context.Background(), domain.UserAccount{
		Username:  "latecomer",
		Password:  hash,
		Role:      domain.RoleStaff,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	if _, err := manager.Login(domain.LoginRequest{Username: "latecomer", Password: "late1234"}); err != nil {
		t.Fatalf("expected login to read through to the store: %v", err)
	}
}

func TestParseTokenRoundTrip(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, nil)

	token, err := manager.sign("owner", domain.RoleOwner, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	actor, err := manager.ParseToken(token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "owner" || actor.Role != domain.RoleOwner {
		t.Fatalf("unexpected actor %+v", actor)
	}

	if _, err := manager.ParseToken(token + "tampered"); err == nil {
		t.Fatalf("expected tampered token to be rejected")
	}
}
