package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"judgerunner/pkg/errors"

	"github.com/gin-gonic/gin"
)

func record(t *testing.T, handler gin.HandlerFunc) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/", func(c *gin.Context) {
		c.Set("trace_id", "t-1")
		handler(c)
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec, resp
}

func TestSuccessEnvelope(t *testing.T) {
	rec, resp := record(t, func(c *gin.Context) { Success(c, map[string]bool{"pass": true}) })
	if rec.Code != http.StatusOK || resp.Code != errors.Success || resp.TraceID != "t-1" {
		t.Fatalf("unexpected envelope %d %+v", rec.Code, resp)
	}
}

func TestErrorEnvelope(t *testing.T) {
	rec, resp := record(t, func(c *gin.Context) {
		Error(c, errors.ValidationError("language", "required"))
	})
	if rec.Code != http.StatusBadRequest || resp.Code != errors.ValidationFailed {
		t.Fatalf("unexpected envelope %d %+v", rec.Code, resp)
	}
	details, ok := resp.Details.(map[string]interface{})
	if !ok || details["field"] != "language" {
		t.Fatalf("expected details, got %v", resp.Details)
	}
}

func TestErrorWithCodeDefaultMessage(t *testing.T) {
	rec, resp := record(t, func(c *gin.Context) { ErrorWithCode(c, errors.TooManyRequests, "") })
	if rec.Code != http.StatusTooManyRequests || resp.Message != errors.TooManyRequests.Message() {
		t.Fatalf("unexpected envelope %d %+v", rec.Code, resp)
	}
}
