package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"judgerunner/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestTraceContextMiddleware(t *testing.T) {
	cases := []struct {
		name      string
		traceID   string
		wantTrace string
	}{
		{name: "propagates header", traceID: "abc-123", wantTrace: "abc-123"},
		{name: "generates id", traceID: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := gin.New()
			router.Use(TraceContextMiddleware())
			var ctxTrace, ctxRequest any
			router.GET("/", func(c *gin.Context) {
				ctxTrace = c.Request.Context().Value(contextkey.TraceID)
				ctxRequest = c.Request.Context().Value(contextkey.RequestID)
				c.Status(http.StatusNoContent)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.traceID != "" {
				req.Header.Set(traceIDHeader, tc.traceID)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			got := rec.Header().Get(traceIDHeader)
			if got == "" || (tc.wantTrace != "" && got != tc.wantTrace) {
				t.Fatalf("unexpected trace header %q", got)
			}
			if ctxTrace != got {
				t.Fatalf("context trace %v does not match header %q", ctxTrace, got)
			}
			if ctxRequest == nil || rec.Header().Get(requestIDHeader) == "" {
				t.Fatalf("expected request id in context and header")
			}
		})
	}
}

func TestRateLimiterPerIP(t *testing.T) {
	var rejected int
	rl := NewRateLimiter(RateLimitConfig{Enabled: true, PerIPRPS: 0.001, PerIPBurst: 2}, func() { rejected++ })
	router := gin.New()
	router.Use(rl.Middleware())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 4)
	for _, ip := range []string{"10.0.0.1", "10.0.0.1", "10.0.0.1", "10.0.0.2"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":5000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests, http.StatusOK}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("request %d: expected %d, got %d", i, want[i], codes[i])
		}
	}
	if rejected != 1 {
		t.Fatalf("expected one rejection, got %d", rejected)
	}
}

func TestRateLimiterGlobal(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Enabled: true, GlobalRPS: 1}, nil)
	allowed := 0
	for i := 0; i < 5; i++ {
		if rl.Allow("10.0.0.1") {
			allowed++
		}
	}
	if allowed != 2 {
		t.Fatalf("expected burst of 2, got %d", allowed)
	}
}
