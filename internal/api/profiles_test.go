package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/Uttam1728/mcp-toolkit/internal/store"
)

func newProfileServer(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	profiles, err := store.New(db)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return newTestServer(t, &fakeChat{}, nil, profiles)
}

func doJSON(t *testing.T, method, url, user, body string) *http.Response {
	t.Helper()
	var req *http.Request
	var err error
	if body == "" {
		req, err = http.NewRequest(method, url, nil)
	} else {
		req, err = http.NewRequest(method, url, strings.NewReader(body))
	}
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestProfileCRUD(t *testing.T) {
	srv := newProfileServer(t)

	// Create
	resp := doJSON(t, "POST", srv.URL+"/v1/servers", "alice",
		`{"name":"files","type":"stdio","command":"mcp-server-files","args":["--root","/srv"]}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created store.Profile
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" || created.Name != "files" {
		t.Fatalf("created = %+v", created)
	}

	// Get
	resp = doJSON(t, "GET", srv.URL+"/v1/servers/"+created.ID, "alice", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}

	// List
	resp = doJSON(t, "GET", srv.URL+"/v1/servers", "alice", "")
	var list struct {
		Count   int              `json:"count"`
		Servers []*store.Profile `json:"servers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 1 || list.Servers[0].Command != "mcp-server-files" {
		t.Errorf("list = %+v", list)
	}

	// Update
	resp = doJSON(t, "PUT", srv.URL+"/v1/servers/"+created.ID, "alice",
		`{"name":"file-server","type":"stdio","command":"mcp-server-files"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", resp.StatusCode)
	}
	var updated store.Profile
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.Name != "file-server" {
		t.Errorf("updated = %+v", updated)
	}

	// Toggle inactive
	resp = doJSON(t, "POST", srv.URL+"/v1/servers/"+created.ID+"/toggle", "alice", `{"inactive":true}`)
	var toggled store.Profile
	if err := json.NewDecoder(resp.Body).Decode(&toggled); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !toggled.Inactive {
		t.Errorf("toggled = %+v", toggled)
	}

	// Delete
	resp = doJSON(t, "DELETE", srv.URL+"/v1/servers/"+created.ID, "alice", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp = doJSON(t, "GET", srv.URL+"/v1/servers/"+created.ID, "alice", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d", resp.StatusCode)
	}
}

func TestProfileOwnership(t *testing.T) {
	srv := newProfileServer(t)

	resp := doJSON(t, "POST", srv.URL+"/v1/servers", "alice",
		`{"name":"files","type":"stdio","command":"mcp-server-files"}`)
	var created store.Profile
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// Another user cannot see or delete it.
	resp = doJSON(t, "GET", srv.URL+"/v1/servers/"+created.ID, "bob", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("get as bob status = %d, want 403", resp.StatusCode)
	}
	resp = doJSON(t, "DELETE", srv.URL+"/v1/servers/"+created.ID, "bob", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("delete as bob status = %d, want 403", resp.StatusCode)
	}

	// Bob's list is empty.
	resp = doJSON(t, "GET", srv.URL+"/v1/servers", "bob", "")
	var list struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Count != 0 {
		t.Errorf("bob sees %d servers", list.Count)
	}
}

func TestProfileDuplicateName(t *testing.T) {
	srv := newProfileServer(t)

	body := `{"name":"files","type":"stdio","command":"mcp-server-files"}`
	doJSON(t, "POST", srv.URL+"/v1/servers", "alice", body)
	resp := doJSON(t, "POST", srv.URL+"/v1/servers", "alice", body)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate create status = %d, want 409", resp.StatusCode)
	}
}

func TestProfileStoreNotConfigured(t *testing.T) {
	srv := newTestServer(t, &fakeChat{}, nil, nil)

	resp := doJSON(t, "GET", srv.URL+"/v1/servers", "alice", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestProfileInvalidBody(t *testing.T) {
	srv := newProfileServer(t)

	resp := doJSON(t, "POST", srv.URL+"/v1/servers", "alice", "not json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
