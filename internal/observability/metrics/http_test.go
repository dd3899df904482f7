package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

func TestGinMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	m := newHTTPMetrics(registry, Config{ServiceName: "registrar"})

	r := gin.New()
	r.Use(GinMiddleware(m))
	r.GET("/admin/refunds/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, id := range []string{"1", "2"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/refunds/"+id, nil))
	}

	got := counterValue(t, m.requests.WithLabelValues(http.MethodGet, "/admin/refunds/:id", "204"))
	if got != 2 {
		t.Fatalf("expected 2 requests on route template, got %v", got)
	}
}
