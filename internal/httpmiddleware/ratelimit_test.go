package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestAllowRefills(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	l := NewTokenBucket(2, 60)
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if !l.Allow("a") {
			t.Fatalf("request %d refused", i+1)
		}
	}
	if l.Allow("a") {
		t.Fatal("third request allowed")
	}
	if !l.Allow("b") {
		t.Fatal("other caller refused")
	}
	now = now.Add(time.Second)
	if !l.Allow("a") {
		t.Fatal("refill did not happen")
	}
}

func TestAllowDisabled(t *testing.T) {
	l := NewTokenBucket(0, 0)
	for i := 0; i < 10; i++ {
		if !l.Allow("a") {
			t.Fatal("disabled limiter refused")
		}
	}
}

func TestMiddlewareRejects(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := NewTokenBucket(1, 1)
	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	codes := []int{http.StatusNoContent, http.StatusTooManyRequests}
	for i, want := range codes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != want {
			t.Fatalf("request %d: status = %d, want %d", i+1, w.Code, want)
		}
	}
}
