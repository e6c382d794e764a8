package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newSecurityRouter(cfg SecurityHeadersConfig) *gin.Engine {
	r := gin.New()
	r.Use(SecurityHeadersMiddleware(cfg))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func doSecurityRequest(cfg SecurityHeadersConfig) *httptest.ResponseRecorder {
	r := newSecurityRouter(cfg)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	r.ServeHTTP(w, req)
	return w
}

func TestSecurityHeadersMiddleware_APIDefaults(t *testing.T) {
	w := doSecurityRequest(APISecurityHeadersConfig())

	checks := map[string]string{
		"Strict-Transport-Security":         "max-age=31536000; includeSubDomains",
		"X-Frame-Options":                   "DENY",
		"X-Content-Type-Options":            "nosniff",
		"Content-Security-Policy":           "default-src 'none'; frame-ancestors 'none'",
		"Referrer-Policy":                   "no-referrer",
		"X-Permitted-Cross-Domain-Policies": "none",
		"Cross-Origin-Opener-Policy":        "same-origin",
		"Cross-Origin-Resource-Policy":      "same-origin",
	}
	for header, want := range checks {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestSecurityHeadersMiddleware_HSTSDisabled(t *testing.T) {
	cfg := APISecurityHeadersConfig()
	cfg.EnableHSTS = false

	w := doSecurityRequest(cfg)
	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("Strict-Transport-Security = %q, want unset", got)
	}
}

func TestSecurityHeadersMiddleware_HSTSPreload(t *testing.T) {
	cfg := APISecurityHeadersConfig()
	cfg.HSTSPreload = true

	w := doSecurityRequest(cfg)
	got := w.Header().Get("Strict-Transport-Security")
	if !strings.HasSuffix(got, "; preload") {
		t.Errorf("Strict-Transport-Security = %q, want preload suffix", got)
	}
}

func TestSecurityHeadersMiddleware_EmptyPermissionsPolicyOmitted(t *testing.T) {
	w := doSecurityRequest(APISecurityHeadersConfig())
	if got := w.Header().Get("Permissions-Policy"); got != "" {
		t.Errorf("Permissions-Policy = %q, want unset", got)
	}
}

func TestItoa(t *testing.T) {
	cases := map[int]string{
		0:        "0",
		7:        "7",
		42:       "42",
		31536000: "31536000",
		-15:      "-15",
	}
	for in, want := range cases {
		if got := itoa(in); got != want {
			t.Errorf("itoa(%d) = %q, want %q", in, got, want)
		}
	}
}
