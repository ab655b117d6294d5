// Package testutil provides an in-process fake of the accounting API.
package testutil

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Failure is an injected error response.
type Failure struct {
	StatusCode int
	Body       string
	Headers    map[string]string
}

// RequestRecord captures one request seen by the mock.
type RequestRecord struct {
	Method string
	Path   string
	Query  string
	Header http.Header
}

// MockAPI serves paged collections the way the accounting API does: 1-based
// $page, $pagesize, and a Meta/Data envelope. Single items are addressed by
// their "Id" field (or "Number" when there is no Id) and carry an ETag.
type MockAPI struct {
	server *httptest.Server

	mu          sync.Mutex
	collections map[string][]map[string]any
	failures    map[string][]Failure
	handlers    map[string]http.HandlerFunc
	requests    []RequestRecord
	quota       map[string]string
	delay       time.Duration
	token       string
	conditional int
}

// NewMockAPI starts a mock server. The base path is "/v2".
func NewMockAPI() *MockAPI {
	m := &MockAPI{
		collections: make(map[string][]map[string]any),
		failures:    make(map[string][]Failure),
		handlers:    make(map[string]http.HandlerFunc),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

// URL returns the API base URL including the version path.
func (m *MockAPI) URL() string {
	return m.server.URL + "/v2"
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Server returns the underlying test server.
func (m *MockAPI) Server() *httptest.Server {
	return m.server
}

// SetCollection replaces the items of a collection, e.g. "customers".
func (m *MockAPI) SetCollection(name string, items []map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[name] = items
}

// Items returns a copy of a collection.
func (m *MockAPI) Items(name string) []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]any(nil), m.collections[name]...)
}

// FailNext queues failures for a request key. The key is "METHOD /path" for
// items and "GET /collection?page=N" for list pages (1-based, as on the wire).
func (m *MockAPI) FailNext(key string, failures ...Failure) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[key] = append(m.failures[key], failures...)
}

// SetHandler overrides a path (without the /v2 prefix).
func (m *MockAPI) SetHandler(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = h
}

// SetQuota adds quota headers to every response.
func (m *MockAPI) SetQuota(remaining, resetSeconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quota = map[string]string{
		"X-RateLimit-Remaining": strconv.Itoa(remaining),
		"X-RateLimit-Reset":     strconv.Itoa(resetSeconds),
	}
}

// SetDelay delays every response.
func (m *MockAPI) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// RequireToken rejects requests without "Bearer <token>" with 401.
func (m *MockAPI) RequireToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// Requests returns a copy of every request seen so far.
func (m *MockAPI) Requests() []RequestRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RequestRecord(nil), m.requests...)
}

// RequestCount returns the number of requests seen so far.
func (m *MockAPI) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// ConditionalCount returns the number of requests carrying If-None-Match.
func (m *MockAPI) ConditionalCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conditional
}

// Reset clears recorded requests and queued failures.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.failures = make(map[string][]Failure)
	m.conditional = 0
}

func (m *MockAPI) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests = append(m.requests, RequestRecord{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Header: r.Header.Clone(),
	})
	if r.Header.Get("If-None-Match") != "" {
		m.conditional++
	}
	delay := m.delay
	token := m.token
	for k, v := range m.quota {
		w.Header().Set(k, v)
	}
	path := strings.TrimPrefix(r.URL.Path, "/v2")
	handler := m.handlers[path]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
		writeError(w, http.StatusUnauthorized, 4001, "Invalid or expired access token")
		return
	}

	if handler != nil {
		handler(w, r)
		return
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(segments) == 1 && r.Method == http.MethodGet:
		m.list(w, r, segments[0])
	case len(segments) == 1 && r.Method == http.MethodPost:
		m.create(w, r, segments[0])
	case len(segments) == 2:
		m.item(w, r, segments[0], segments[1])
	default:
		writeError(w, http.StatusNotFound, 4004, "Not found")
	}
}

// popFailure returns the next queued failure for key, if any.
func (m *MockAPI) popFailure(key string) (Failure, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := m.failures[key]
	if len(queue) == 0 {
		return Failure{}, false
	}
	m.failures[key] = queue[1:]
	return queue[0], true
}

func (m *MockAPI) writeFailure(w http.ResponseWriter, f Failure) {
	for k, v := range f.Headers {
		w.Header().Set(k, v)
	}
	if f.Body == "" {
		writeError(w, f.StatusCode, 0, http.StatusText(f.StatusCode))
		return
	}
	w.WriteHeader(f.StatusCode)
	fmt.Fprint(w, f.Body)
}

func (m *MockAPI) list(w http.ResponseWriter, r *http.Request, name string) {
	q := r.URL.Query()
	page, err := strconv.Atoi(q.Get("$page"))
	if err != nil || page < 1 {
		page = 1
	}
	size, err := strconv.Atoi(q.Get("$pagesize"))
	if err != nil || size < 1 {
		size = 50
	}

	if f, ok := m.popFailure(fmt.Sprintf("GET /%s?page=%d", name, page)); ok {
		m.writeFailure(w, f)
		return
	}

	m.mu.Lock()
	items, ok := m.collections[name]
	items = append([]map[string]any(nil), items...)
	m.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, 4004, "Unknown resource "+name)
		return
	}

	total := len(items)
	pages := (total + size - 1) / size
	start := min((page-1)*size, total)
	end := min(start+size, total)

	writeJSON(w, http.StatusOK, map[string]any{
		"Meta": map[string]any{
			"CurrentPage":          page,
			"PageSize":             size,
			"TotalNumberOfPages":   pages,
			"TotalNumberOfResults": total,
			"ServerTimeUtc":        time.Now().UTC().Format(time.RFC3339),
		},
		"Data": items[start:end],
	})
}

func itemID(item map[string]any) string {
	if id, ok := item["Id"]; ok {
		return fmt.Sprint(id)
	}
	return fmt.Sprint(item["Number"])
}

func etagOf(item map[string]any) string {
	data, _ := json.Marshal(item)
	sum := sha1.Sum(data)
	return `"` + hex.EncodeToString(sum[:8]) + `"`
}

func (m *MockAPI) item(w http.ResponseWriter, r *http.Request, name, id string) {
	if f, ok := m.popFailure(fmt.Sprintf("%s /%s/%s", r.Method, name, id)); ok {
		m.writeFailure(w, f)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.collections[name]
	idx := -1
	for i, it := range items {
		if itemID(it) == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		writeError(w, http.StatusNotFound, 4004, fmt.Sprintf("%s %s not found", name, id))
		return
	}

	switch r.Method {
	case http.MethodGet:
		etag := etagOf(items[idx])
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", "private, max-age=0")
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		writeJSON(w, http.StatusOK, items[idx])
	case http.MethodPut:
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, 4000, "Malformed JSON")
			return
		}
		body["Id"] = items[idx]["Id"]
		if _, ok := items[idx]["Id"]; !ok {
			delete(body, "Id")
			body["Number"] = items[idx]["Number"]
		}
		items[idx] = body
		writeJSON(w, http.StatusOK, body)
	case http.MethodDelete:
		m.collections[name] = append(items[:idx:idx], items[idx+1:]...)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, 4005, "Method not allowed")
	}
}

func (m *MockAPI) create(w http.ResponseWriter, r *http.Request, name string) {
	if f, ok := m.popFailure("POST /" + name); ok {
		m.writeFailure(w, f)
		return
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, 4000, "Malformed JSON")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := body["Id"]; !ok || body["Id"] == "" {
		body["Id"] = fmt.Sprintf("%s-%d", name, len(m.collections[name])+1)
	}
	m.collections[name] = append(m.collections[name], body)
	writeJSON(w, http.StatusCreated, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status, code int, msg string) {
	writeJSON(w, status, map[string]any{
		"ErrorCode":             code,
		"Message":               msg,
		"DeveloperErrorMessage": msg,
	})
}

// Items builds n items with sequential ids and names for a collection.
func Items(prefix string, n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{
			"Id":   fmt.Sprintf("%s-%d", prefix, i+1),
			"Name": fmt.Sprintf("%s %d", prefix, i+1),
		}
	}
	return out
}
