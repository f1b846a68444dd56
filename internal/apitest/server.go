// Package apitest provides an in-memory study API for tests.
package apitest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// aliases maps per-user write paths onto the collection they modify.
var aliases = map[string]string{
	"user-subjects":  "subjects",
	"user-questions": "questions",
}

// Server is a fake study API backed by maps.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	collections map[string]map[int64]map[string]any
	nextID      int64
	clock       int64
	offline     bool
	failures    map[string]int
	requests    []string
	identity    map[string]any
	live        []*websocket.Conn
}

// New starts a fake API and stops it when the test ends.
func New(t testing.TB) *Server {
	s := &Server{
		collections: make(map[string]map[int64]map[string]any),
		nextID:      1000,
		clock:       1_700_000_000,
		failures:    make(map[string]int),
		identity: map[string]any{
			"id":          1,
			"name":        "tester",
			"permissions": []string{"study"},
		},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// SetOffline makes every request fail with 503.
func (s *Server) SetOffline(offline bool) {
	s.mu.Lock()
	s.offline = offline
	s.mu.Unlock()
}

// Fail forces status for requests matching "METHOD /path".
func (s *Server) Fail(method, path string, status int) {
	s.mu.Lock()
	s.failures[method+" "+path] = status
	s.mu.Unlock()
}

// SetIdentity replaces the /api/auth/me response.
func (s *Server) SetIdentity(identity map[string]any) {
	s.mu.Lock()
	s.identity = identity
	s.mu.Unlock()
}

// Seed stores records as-is. Each must encode to an object with an id.
func (s *Server) Seed(collection string, records ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		doc := toDoc(r)
		s.table(collection)[docID(doc)] = doc
	}
}

// Record returns a stored record.
func (s *Server) Record(collection string, id int64) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.table(collection)[id]
	return doc, ok
}

// Len returns the number of records in collection.
func (s *Server) Len(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.table(collection))
}

// Requests returns "METHOD /path?query" for every request received.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requests)
}

// ResetRequests forgets recorded requests.
func (s *Server) ResetRequests() {
	s.mu.Lock()
	s.requests = nil
	s.mu.Unlock()
}

// Push sends ev to every live connection.
func (s *Server) Push(ev any) {
	s.mu.Lock()
	conns := slices.Clone(s.live)
	s.mu.Unlock()
	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = wsjson.Write(ctx, c, ev)
		cancel()
	}
}

func (s *Server) table(name string) map[int64]map[string]any {
	if alias, ok := aliases[name]; ok {
		name = alias
	}
	t, ok := s.collections[name]
	if !ok {
		t = make(map[int64]map[string]any)
		s.collections[name] = t
	}
	return t
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	req := r.Method + " " + r.URL.Path
	if r.URL.RawQuery != "" {
		req += "?" + r.URL.RawQuery
	}
	s.requests = append(s.requests, req)
	offline := s.offline
	status, failing := s.failures[r.Method+" "+r.URL.Path]
	s.mu.Unlock()

	if offline {
		http.Error(w, `{"message":"maintenance"}`, http.StatusServiceUnavailable)
		return
	}
	if failing {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": fmt.Sprintf("forced %d", status)})
		return
	}

	switch {
	case r.URL.Path == "/api/auth/me":
		s.mu.Lock()
		identity := s.identity
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, identity)
	case r.URL.Path == "/api/study/ws":
		s.serveLive(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/study/"):
		s.serveCollection(w, r, strings.TrimPrefix(r.URL.Path, "/api/study/"))
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) serveLive(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.live = append(s.live, conn)
	s.mu.Unlock()

	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			break
		}
	}

	s.mu.Lock()
	s.live = slices.DeleteFunc(s.live, func(c *websocket.Conn) bool { return c == conn })
	s.mu.Unlock()
}

func (s *Server) serveCollection(w http.ResponseWriter, r *http.Request, rest string) {
	name, sub, _ := strings.Cut(rest, "/")

	s.mu.Lock()
	defer s.mu.Unlock()
	table := s.table(name)

	since := int64(-1)
	if v, ok := strings.CutPrefix(r.URL.RawQuery, "updated>"); ok {
		since, _ = strconv.ParseInt(v, 10, 64)
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		var out []map[string]any
		for _, doc := range table {
			if docUpdated(doc) > since {
				out = append(out, doc)
			}
		}
		// Unordered on purpose: clients must sort by update time.
		slices.SortFunc(out, func(a, b map[string]any) int { return int(docID(b) - docID(a)) })
		writeJSON(w, http.StatusOK, out)

	case sub == "ids" && r.Method == http.MethodGet:
		var ids []int64
		for id, doc := range table {
			if docUpdated(doc) > since {
				ids = append(ids, id)
			}
		}
		slices.Sort(ids)
		w.Header().Set("Content-Type", "text/plain")
		for _, id := range ids {
			fmt.Fprintf(w, "%d,%d\n", id, docUpdated(table[id]))
		}

	case sub == "" && r.Method == http.MethodPost:
		var doc map[string]any
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
			return
		}
		if _, ok := doc["id"]; ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "id is assigned by the server"})
			return
		}
		s.nextID++
		s.clock++
		doc["id"] = s.nextID
		doc["updated"] = s.clock
		table[s.nextID] = doc
		writeJSON(w, http.StatusCreated, doc)

	default:
		id, err := strconv.ParseInt(sub, 10, 64)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		doc, ok := table[id]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": fmt.Sprintf("%s %d not found", name, id)})
			return
		}

		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, doc)
		case http.MethodPut:
			var patch map[string]any
			if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
				return
			}
			for k, v := range patch {
				doc[k] = v
			}
			s.clock++
			doc["id"] = id
			doc["updated"] = s.clock
			writeJSON(w, http.StatusOK, doc)
		case http.MethodDelete:
			delete(table, id)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func toDoc(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		panic(err)
	}
	return doc
}

func docID(doc map[string]any) int64 {
	return asInt64(doc["id"])
}

func docUpdated(doc map[string]any) int64 {
	return asInt64(doc["updated"])
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}
