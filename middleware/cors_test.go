package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"cityflow/config"

	"github.com/gin-gonic/gin"
)

func TestSetupCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name     string
		allowed  string
		origin   string
		wantHdr  string
		wantCred string
	}{
		{"wildcard", "*", "http://dash.local", "*", ""},
		{"listed origin", "http://a.local, http://b.local", "http://b.local", "http://b.local", "true"},
		{"unlisted origin", "http://a.local", "http://evil.local", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(SetupCORS(config.CORSConfig{AllowedOrigins: tt.allowed}))
			r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantHdr {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantHdr)
			}
			if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCred {
				t.Errorf("Allow-Credentials = %q, want %q", got, tt.wantCred)
			}
		})
	}
}
