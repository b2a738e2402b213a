package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clubhouse-system/internal/lifecycle"
	"clubhouse-system/internal/utils"

	"github.com/gin-gonic/gin"
)

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/whoami", func(c *gin.Context) {
		actor := ActorFrom(c)
		c.String(http.StatusOK, string(actor.Role)+":"+actor.UserID)
	})
	return r
}

func get(r http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuthSetsActor(t *testing.T) {
	r := newRouter(JWTAuth())
	tok, _, err := utils.GenerateToken("user-1", lifecycle.RoleCashier, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	w := get(r, "Bearer "+tok)
	if w.Code != http.StatusOK || w.Body.String() != "CASHIER:user-1" {
		t.Fatalf("got %d %q", w.Code, w.Body.String())
	}
	for _, header := range []string{"", "Basic abc", "Bearer garbage"} {
		if w := get(r, header); w.Code != http.StatusUnauthorized {
			t.Fatalf("%q: got %d", header, w.Code)
		}
	}
}

func TestRequireRole(t *testing.T) {
	r := newRouter(JWTAuth(), RequireRole(lifecycle.RoleAdmin))
	admin, _, _ := utils.GenerateToken("a", lifecycle.RoleAdmin, time.Minute)
	driver, _, _ := utils.GenerateToken("d", lifecycle.RoleDriver, time.Minute)

	if w := get(r, "Bearer "+admin); w.Code != http.StatusOK {
		t.Fatalf("admin: %d", w.Code)
	}
	if w := get(r, "Bearer "+driver); w.Code != http.StatusForbidden {
		t.Fatalf("driver: %d", w.Code)
	}
}

func TestRateLimitRejectsBurst(t *testing.T) {
	r := newRouter(RateLimit("2-M"))
	for i := 0; i < 2; i++ {
		if w := get(r, ""); w.Code != http.StatusOK {
			t.Fatalf("request %d: %d", i, w.Code)
		}
	}
	if w := get(r, ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: %d", w.Code)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	r := newRouter(RequestID())
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-Request-ID", "rid-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "rid-42" {
		t.Fatalf("request id %q", got)
	}
}
