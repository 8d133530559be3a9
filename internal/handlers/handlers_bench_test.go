package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Rorqualx/portal-autologin/internal/types"
)

// BenchmarkJSONDecodeWithPool measures request decoding through the pooled buffers.
func BenchmarkJSONDecodeWithPool(b *testing.B) {
	reqBody := `{"cmd":"networkError","currentUrl":"https://example.com/page"}`
	reader := strings.NewReader(reqBody)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reader.Reset(reqBody)

		buf := requestBuffers.get()
		_, _ = io.Copy(buf, reader)
		var req types.Request
		if err := json.Unmarshal(buf.Bytes(), &req); err != nil {
			b.Fatal(err)
		}
		requestBuffers.put(buf)
	}
}

// BenchmarkGetStatus measures routing plus status encoding with a full attempt list.
func BenchmarkGetStatus(b *testing.B) {
	h, coord, _ := newTestHandler()
	for i := 0; i < 8; i++ {
		coord.status.Attempts = append(coord.status.Attempts, types.AttemptInfo{
			ID:        fmt.Sprintf("attempt-%d", i),
			TabID:     types.TabID(fmt.Sprintf("tab-%d", i)),
			Status:    types.AttemptSubmitted,
			CreatedAt: time.Now().UnixMilli(),
		})
	}
	reqBody := `{"cmd":"getStatus"}`

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1", strings.NewReader(reqBody))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			b.Fatalf("status = %d", w.Code)
		}
	}
}
