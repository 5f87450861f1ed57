package apiclient

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"sort"
	"strings"
	"sync"
)

//go:embed fixtures/*.json
var fixtureFS embed.FS

// MockNotFoundCode is the error code of a route without a fixture
const MockNotFoundCode = "MOCK_NOT_FOUND"

// MockRoute is one canned response. Path segments starting with ':' match
// any single segment.
type MockRoute struct {
	Method string          `json:"method"`
	Path   string          `json:"path"`
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`

	segments []string
	static   int
}

// MockServer answers requests from static fixtures without touching the network
type MockServer struct {
	mu     sync.RWMutex
	routes []MockRoute
}

// NewMockServer creates a server with the given routes
func NewMockServer(routes ...MockRoute) *MockServer {
	m := &MockServer{}
	for _, r := range routes {
		m.Register(r)
	}
	return m
}

// DefaultMocks loads the embedded fixtures
func DefaultMocks() (*MockServer, error) {
	m := NewMockServer()
	files, err := fs.Glob(fixtureFS, "fixtures/*.json")
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	for _, name := range files {
		data, err := fixtureFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("reading fixture %s: %w", name, err)
		}
		var routes []MockRoute
		if err := json.Unmarshal(data, &routes); err != nil {
			return nil, fmt.Errorf("parsing fixture %s: %w", name, err)
		}
		for _, r := range routes {
			m.Register(r)
		}
	}
	return m, nil
}

// Register adds or replaces a route
func (m *MockServer) Register(r MockRoute) {
	r.Method = strings.ToUpper(r.Method)
	if r.Status == 0 {
		r.Status = http.StatusOK
	}
	r.segments = splitPath(r.Path)
	r.static = 0
	for _, s := range r.segments {
		if !strings.HasPrefix(s, ":") {
			r.static++
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.routes {
		if existing.Method == r.Method && existing.Path == r.Path {
			m.routes[i] = r
			return
		}
	}
	m.routes = append(m.routes, r)
}

// Routes returns the registered method and path pairs
func (m *MockServer) Routes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.routes))
	for _, r := range m.routes {
		out = append(out, r.Method+" "+r.Path)
	}
	return out
}

// Serve returns the fixture for the request. When several patterns match,
// the one with the most literal segments wins.
func (m *MockServer) Serve(method, path string) *Response {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	segments := splitPath(path)
	method = strings.ToUpper(method)

	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *MockRoute
	for i := range m.routes {
		r := &m.routes[i]
		if r.Method != method || !matchSegments(r.segments, segments) {
			continue
		}
		if best == nil || r.static > best.static {
			best = r
		}
	}
	if best == nil {
		body, _ := json.Marshal(map[string]any{
			"success": false,
			"error": map[string]string{
				"code":    MockNotFoundCode,
				"message": fmt.Sprintf("no mock for %s %s", method, path),
			},
		})
		return &Response{StatusCode: http.StatusNotFound, Body: body, Mocked: true, Headers: http.Header{}}
	}
	return &Response{
		StatusCode: best.Status,
		Body:       append([]byte(nil), best.Body...),
		Mocked:     true,
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
	}
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func matchSegments(pattern, path []string) bool {
	if len(pattern) != len(path) {
		return false
	}
	for i, seg := range pattern {
		if strings.HasPrefix(seg, ":") {
			if path[i] == "" {
				return false
			}
			continue
		}
		if seg != path[i] {
			return false
		}
	}
	return true
}
