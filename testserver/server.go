// Package testserver provides a small fake REST API that publishes its own
// OpenAPI description, used as a simulation target in tests and demos.
package testserver

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// User is the resource served under /users.
type User struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Status    string `json:"status,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Server is the fake API.
type Server struct {
	mux *http.ServeMux

	// FailRate is the percentage (0-100) of resource requests answered 500.
	FailRate int
	// RequireAuth rejects /users requests without an Authorization header.
	RequireAuth bool

	mu     sync.Mutex
	users  map[int]User
	nextID int

	requests atomic.Int64
	tokens   atomic.Int64
	seen     sync.Map // request path -> count
}

// NewServer creates a server seeded with a few users.
func NewServer() *Server {
	s := &Server{
		mux:   http.NewServeMux(),
		users: make(map[int]User),
	}
	for _, name := range []string{"Ada Lovelace", "Grace Hopper", "Alan Turing"} {
		s.nextID++
		s.users[s.nextID] = User{ID: s.nextID, Name: name, Email: fmt.Sprintf("user%d@example.com", s.nextID), Status: "active"}
	}
	s.registerHandlers()
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		n, _ := s.seen.LoadOrStore(r.Method+" "+r.URL.Path, new(atomic.Int64))
		n.(*atomic.Int64).Add(1)
		s.mux.ServeHTTP(w, r)
	})
}

// Requests is the number of requests served, the document fetch included.
func (s *Server) Requests() int64 { return s.requests.Load() }

// TokensIssued is the number of tokens the token endpoint has handed out.
func (s *Server) TokensIssued() int64 { return s.tokens.Load() }

// Hits returns how often "METHOD path" was requested.
func (s *Server) Hits(key string) int64 {
	if n, ok := s.seen.Load(key); ok {
		return n.(*atomic.Int64).Load()
	}
	return 0
}

func (s *Server) registerHandlers() {
	s.mux.HandleFunc("GET /openapi.json", s.handleSpec)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /status/{code}", s.handleStatus)
	s.mux.HandleFunc("GET /delay/{ms}", s.handleDelay)
	s.mux.HandleFunc("POST /oauth/token", s.handleToken)
	s.mux.HandleFunc("GET /users", s.guard(s.handleListUsers))
	s.mux.HandleFunc("POST /users", s.guard(s.handleCreateUser))
	s.mux.HandleFunc("GET /users/{id}", s.guard(s.handleGetUser))
	s.mux.HandleFunc("PUT /users/{id}", s.guard(s.handleUpdateUser))
	s.mux.HandleFunc("DELETE /users/{id}", s.guard(s.handleDeleteUser))
}

// guard applies RequireAuth and FailRate to resource handlers.
func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.RequireAuth && r.Header.Get("Authorization") == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing credentials"})
			return
		}
		if s.FailRate > 0 && rand.Intn(100) < s.FailRate {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "simulated failure"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleSpec(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Document("http://"+r.Host))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus returns the status code in the path: GET /status/404.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(r.PathValue("code"))
	if err != nil || code < 100 || code > 599 {
		http.Error(w, "invalid status code", http.StatusBadRequest)
		return
	}
	w.WriteHeader(code)
	fmt.Fprintf(w, "%d %s", code, http.StatusText(code))
}

// handleDelay waits before responding: GET /delay/100 waits 100ms.
func (s *Server) handleDelay(w http.ResponseWriter, r *http.Request) {
	ms, err := strconv.Atoi(r.PathValue("ms"))
	if err != nil || ms < 0 {
		http.Error(w, "invalid delay", http.StatusBadRequest)
		return
	}
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
	case <-r.Context().Done():
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "delayed %dms", ms)
}

// handleToken implements the client-credentials grant for any non-empty
// client id and secret.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	id, secret, ok := r.BasicAuth()
	if !ok {
		id, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	if r.PostForm.Get("grant_type") != "client_credentials" || id == "" || secret == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}
	n := s.tokens.Add(1)
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": fmt.Sprintf("token-%d", n),
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]User, 0, len(s.users))
	for id := 1; id <= s.nextID; id++ {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	s.mu.Unlock()

	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit >= 0 && limit < len(out) {
		out = out[:limit]
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var u User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if u.Name == "" || u.Email == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "name and email are required"})
		return
	}
	s.mu.Lock()
	s.nextID++
	u.ID = s.nextID
	u.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	s.users[u.ID] = u
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id must be an integer"})
		return 0, false
	}
	return id, true
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	u, found := s.users[id]
	s.mu.Unlock()
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var u User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.users[id]; !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}
	u.ID = id
	s.users[id] = u
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	_, found := s.users[id]
	delete(s.users, id)
	s.mu.Unlock()
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
