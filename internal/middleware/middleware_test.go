package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Rorqualx/portal-autologin/internal/types"
)

const testKey = "0123456789abcdef0123"

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestRecoveryMiddleware(t *testing.T) {
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	handler := Recovery(panicHandler)

	req := httptest.NewRequest("POST", "/v1", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
	if w.Header().Get("Content-Type") != "application/json" {
		t.Error("Expected Content-Type application/json")
	}

	var resp types.ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	if resp.Success || resp.Message == "" {
		t.Errorf("Unexpected error response: %+v", resp)
	}
}

func TestRecoveryMiddlewareNoPanic(t *testing.T) {
	handler := Recovery(okHandler())

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestLoggingMiddlewareCapturesStatusCode(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	var captured int
	handler := Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner.ServeHTTP(w, r)
		if rw, ok := w.(*responseWriter); ok {
			captured = rw.statusCode
		}
	}))

	req := httptest.NewRequest("GET", "/missing", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	if captured != http.StatusNotFound {
		t.Errorf("Wrapped writer captured %d, want 404", captured)
	}
}

func TestMaskIP(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"192.168.1.77:5123", "192.168.1.0/24"},
		{"127.0.0.1:8192", "127.0.0.1"},
		{"[2001:db8:1:2::5]:80", "2001:db8:1::/48"},
		{"not-an-ip", "[redacted]"},
	}
	for _, tt := range tests {
		if got := maskIP(tt.addr); got != tt.want {
			t.Errorf("maskIP(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func TestChainMiddleware(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Chain(mark("A"), mark("B"), mark("C"))(okHandler())
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if strings.Join(order, "") != "ABC" {
		t.Errorf("Expected order ABC, got %v", order)
	}
}

func TestAPIKeyMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		key     string
		path    string
		header  string
		want    int
	}{
		{"disabled", false, "", "/v1", "", http.StatusOK},
		{"valid header", true, testKey, "/v1", testKey, http.StatusOK},
		{"invalid key", true, testKey, "/v1", "wrong-key-wrong-key", http.StatusUnauthorized},
		{"missing key", true, testKey, "/v1", "", http.StatusUnauthorized},
		{"status page needs key", true, testKey, "/", "", http.StatusUnauthorized},
		{"health bypass", true, testKey, "/health", "", http.StatusOK},
		{"empty configured key", true, "", "/v1", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := APIKey(tt.enabled, tt.key)(okHandler())

			req := httptest.NewRequest("POST", tt.path, nil)
			if tt.header != "" {
				req.Header.Set(APIKeyHeader, tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestAPIKeyMiddlewareQueryParamRejected(t *testing.T) {
	handler := APIKey(true, testKey)(okHandler())

	req := httptest.NewRequest("POST", "/v1?api_key="+testKey, nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected query parameter key to be rejected, got %d", w.Code)
	}
}
