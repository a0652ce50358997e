package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portscan/scanner"
)

type scanCall struct {
	host       string
	start, end int
}

type fakeScanner struct {
	mu    sync.Mutex
	calls []scanCall
	err   error
	state scanner.PortState
}

func (f *fakeScanner) Scan(_ context.Context, host string, start, end int) ([]scanner.PortResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, scanCall{host, start, end})
	if f.err != nil {
		return nil, f.err
	}
	state := f.state
	if state == "" {
		state = scanner.StateClosed
	}
	results := make([]scanner.PortResult, 0, end-start+1)
	for p := start; p <= end; p++ {
		results = append(results, scanner.PortResult{Port: uint16(p), State: state})
	}
	return results, nil
}

func (f *fakeScanner) recorded() []scanCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scanCall(nil), f.calls...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(t *testing.T, scan PortScanner, store TaskStore, opts RouterOptions) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if store == nil {
		store = NewMemoryStore(0)
	}
	opts.Logger = discardLogger()
	return NewRouter(NewServer(store, scan, 16, discardLogger()), opts)
}

func do(router http.Handler, method, path string, body []byte, header http.Header) *httptest.ResponseRecorder {
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestScanSinglePort(t *testing.T) {
	fs := &fakeScanner{state: scanner.StateOpen}
	router := newTestRouter(t, fs, nil, RouterOptions{})

	rr := do(router, http.MethodGet, "/scan/127.0.0.1/22", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Equal(t, "[\n    {\n        \"port\": 22,\n        \"state\": \"Open\"\n    }\n]", rr.Body.String())
	assert.Equal(t, []scanCall{{"127.0.0.1", 22, 22}}, fs.recorded())
}

func TestScanRange(t *testing.T) {
	fs := &fakeScanner{}
	router := newTestRouter(t, fs, nil, RouterOptions{})

	rr := do(router, http.MethodGet, "/scan/::1/20/23", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var results []scanner.PortResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &results))
	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, uint16(20+i), r.Port)
		assert.Equal(t, scanner.StateClosed, r.State)
	}
	assert.Equal(t, []scanCall{{"::1", 20, 23}}, fs.recorded())
}

func TestScanRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		path string
		err  error
	}{
		{name: "start not a number", path: "/scan/127.0.0.1/http"},
		{name: "end not a number", path: "/scan/127.0.0.1/1/x"},
		{name: "reversed range", path: "/scan/127.0.0.1/10/1"},
		{name: "port zero", path: "/scan/127.0.0.1/0"},
		{name: "port too large", path: "/scan/127.0.0.1/1/65536"},
		{name: "range too large", path: "/scan/127.0.0.1/1/17"},
		{name: "unresolvable address", path: "/scan/nope.invalid/80", err: fmt.Errorf("%w: no such host", scanner.ErrInvalidTarget)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &fakeScanner{err: tt.err}
			router := newTestRouter(t, fs, nil, RouterOptions{})

			rr := do(router, http.MethodGet, tt.path, nil, nil)
			require.Equal(t, http.StatusBadRequest, rr.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
			if tt.err == nil {
				assert.Empty(t, fs.recorded(), "invalid input never reaches the scanner")
			}
		})
	}
}

func TestScanFailureStatus(t *testing.T) {
	router := newTestRouter(t, &fakeScanner{err: fmt.Errorf("%w: socket: address family not supported", scanner.ErrSystemic)}, nil, RouterOptions{})
	rr := do(router, http.MethodGet, "/scan/127.0.0.1/80", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "address family", "internal details stay in the log")

	router = newTestRouter(t, &fakeScanner{err: scanner.ErrReactorClosed}, nil, RouterOptions{})
	rr = do(router, http.MethodGet, "/scan/127.0.0.1/80", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestScanMethodNotAllowed(t *testing.T) {
	fs := &fakeScanner{}
	router := newTestRouter(t, fs, nil, RouterOptions{})

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		rr := do(router, method, "/scan/127.0.0.1/80/81", nil, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code, method)
	}
	assert.Empty(t, fs.recorded())
}

func TestUnknownRoute(t *testing.T) {
	router := newTestRouter(t, &fakeScanner{}, nil, RouterOptions{})
	rr := do(router, http.MethodGet, "/scan/127.0.0.1/1/2/3", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateAndGetScanTask(t *testing.T) {
	store := NewMemoryStore(0)
	router := newTestRouter(t, &fakeScanner{}, store, RouterOptions{})

	rr := do(router, http.MethodPost, "/scans", []byte(`{"address":"192.0.2.10","port_start":80}`), nil)
	require.Equal(t, http.StatusAccepted, rr.Code)

	var accepted ScanAcceptedResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &accepted))
	assert.Equal(t, StatusPending, accepted.Status)

	queued, err := store.PopFromQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, accepted.ID, queued)

	rr = do(router, http.MethodGet, "/scans/"+accepted.ID, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var task ScanTask
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &task))
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, "192.0.2.10", task.Address)
	assert.Equal(t, 80, task.PortStart)
	assert.Equal(t, 80, task.PortEnd, "single-port tasks end where they start")
}

func TestCreateScanTaskValidation(t *testing.T) {
	router := newTestRouter(t, &fakeScanner{}, nil, RouterOptions{})

	for _, body := range []string{
		`{`,
		`{"port_start":80}`,
		`{"address":"192.0.2.10"}`,
		`{"address":"192.0.2.10","port_start":70000}`,
		`{"address":"192.0.2.10","port_start":90,"port_end":80}`,
		`{"address":"192.0.2.10","port_start":1,"port_end":1000}`,
	} {
		rr := do(router, http.MethodPost, "/scans", []byte(body), nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
	}
}

func TestGetScanTaskErrors(t *testing.T) {
	router := newTestRouter(t, &fakeScanner{}, nil, RouterOptions{})

	rr := do(router, http.MethodGet, "/scans/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(router, http.MethodGet, "/scans/6f1c3a9e-4b7d-4e2a-9c1f-0d8e7b6a5c4d", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, &fakeScanner{}, nil, RouterOptions{APIKey: "secret"})

	rr := do(router, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code, "health is not behind auth")
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestAuthMiddleware(t *testing.T) {
	router := newTestRouter(t, &fakeScanner{}, nil, RouterOptions{APIKey: "secret"})

	rr := do(router, http.MethodGet, "/scan/127.0.0.1/80", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(router, http.MethodGet, "/scan/127.0.0.1/80", nil, http.Header{"Authorization": {"Basic c2VjcmV0"}})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(router, http.MethodGet, "/scan/127.0.0.1/80", nil, http.Header{"Authorization": {"Bearer wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(router, http.MethodGet, "/scan/127.0.0.1/80", nil, http.Header{"Authorization": {"Bearer secret"}})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSecurityHeaders(t *testing.T) {
	router := newTestRouter(t, &fakeScanner{}, nil, RouterOptions{})

	rr := do(router, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Security-Policy"), "default-src 'self'"))
}

func TestBearerToken(t *testing.T) {
	token, ok := bearerToken("Bearer  secret ")
	assert.True(t, ok)
	assert.Equal(t, "secret", token)

	_, ok = bearerToken("Basic c2VjcmV0")
	assert.False(t, ok)
	_, ok = bearerToken("")
	assert.False(t, ok)
}

func TestStatusLevel(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, statusLevel(http.StatusAccepted))
	assert.Equal(t, slog.LevelWarn, statusLevel(http.StatusTooManyRequests))
	assert.Equal(t, slog.LevelError, statusLevel(http.StatusServiceUnavailable))
}
