package store

import (
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := New(db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func stdioProfile(name string) *Profile {
	return &Profile{
		UserID:  "alice",
		Name:    name,
		Type:    "stdio",
		Command: "mcp-server-files",
		Args:    []string{"--root", "/srv"},
		Env:     map[string]string{"LOG_LEVEL": "debug"},
	}
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)

	p := stdioProfile("files")
	if err := s.Create(p); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.ID == "" {
		t.Fatal("Create did not assign an id")
	}
	if p.CreatedAt.IsZero() || p.UpdatedAt.IsZero() {
		t.Error("Create did not set timestamps")
	}

	got, err := s.Get("alice", p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "files" || got.Type != "stdio" || got.Command != "mcp-server-files" {
		t.Errorf("Get = %+v", got)
	}
	if len(got.Args) != 2 || got.Args[1] != "/srv" {
		t.Errorf("Args = %v", got.Args)
	}
	if got.Env["LOG_LEVEL"] != "debug" {
		t.Errorf("Env = %v", got.Env)
	}
}

func TestCreateValidation(t *testing.T) {
	s := newTestStore(t)

	if err := s.Create(&Profile{UserID: "alice", Type: "stdio"}); err == nil {
		t.Error("expected error for missing name")
	}
	if err := s.Create(&Profile{UserID: "alice", Name: "x", Type: "carrier-pigeon"}); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestDuplicateName(t *testing.T) {
	s := newTestStore(t)

	if err := s.Create(stdioProfile("files")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := s.Create(stdioProfile("files"))
	if !errors.Is(err, ErrDuplicateName) {
		t.Errorf("error = %v, want ErrDuplicateName", err)
	}

	// Same name under a different user is fine.
	other := stdioProfile("files")
	other.UserID = "bob"
	if err := s.Create(other); err != nil {
		t.Errorf("Create for other user: %v", err)
	}
}

func TestGetNotFoundVsUnauthorized(t *testing.T) {
	s := newTestStore(t)

	p := stdioProfile("files")
	if err := s.Create(p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := s.Get("alice", "no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing id: error = %v, want ErrNotFound", err)
	}
	if _, err := s.Get("bob", p.ID); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("wrong user: error = %v, want ErrUnauthorized", err)
	}
}

func TestListOrderAndActiveFilter(t *testing.T) {
	s := newTestStore(t)

	a := stdioProfile("alpha")
	b := &Profile{UserID: "alice", Name: "beta", Type: "sse", SSEURL: "http://localhost:9000/sse"}
	for _, p := range []*Profile{a, b} {
		if err := s.Create(p); err != nil {
			t.Fatalf("Create %s: %v", p.Name, err)
		}
	}
	if err := s.SetInactive("alice", b.ID, true); err != nil {
		t.Fatalf("SetInactive: %v", err)
	}

	all, err := s.List("alice", false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 || all[0].Name != "alpha" || all[1].Name != "beta" {
		t.Errorf("List = %+v", all)
	}
	if !all[1].Inactive {
		t.Error("beta should be inactive")
	}

	active, err := s.List("alice", true)
	if err != nil {
		t.Fatalf("List active: %v", err)
	}
	if len(active) != 1 || active[0].Name != "alpha" {
		t.Errorf("active List = %+v", active)
	}

	empty, err := s.List("bob", false)
	if err != nil {
		t.Fatalf("List for bob: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("bob sees %d profiles", len(empty))
	}
}

func TestUpdate(t *testing.T) {
	s := newTestStore(t)

	p := stdioProfile("files")
	if err := s.Create(p); err != nil {
		t.Fatalf("Create: %v", err)
	}
	created := p.CreatedAt

	p.Name = "file-server"
	p.Args = []string{"--root", "/data"}
	if err := s.Update("alice", p); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := s.Get("alice", p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "file-server" || got.Args[1] != "/data" {
		t.Errorf("after update = %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt changed: %v -> %v", created, got.CreatedAt)
	}

	if err := s.Update("bob", p); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Update as bob: error = %v, want ErrUnauthorized", err)
	}
}

func TestUpdateDuplicateName(t *testing.T) {
	s := newTestStore(t)

	a := stdioProfile("alpha")
	b := stdioProfile("beta")
	for _, p := range []*Profile{a, b} {
		if err := s.Create(p); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	b.Name = "alpha"
	if err := s.Update("alice", b); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("error = %v, want ErrDuplicateName", err)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)

	p := stdioProfile("files")
	if err := s.Create(p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.Delete("bob", p.ID); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Delete as bob: error = %v, want ErrUnauthorized", err)
	}
	if err := s.Delete("alice", p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("alice", p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete: error = %v, want ErrNotFound", err)
	}
	if err := s.Delete("alice", p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete: error = %v, want ErrNotFound", err)
	}
}
