// Package gateway fronts the backend services with reverse proxies.
package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opscart/cloudops-cost-optimizer/pkg/logger"
)

// Upstreams holds the base URLs of the proxied services
type Upstreams struct {
	UserService string
	Monitoring  string
	Analytics   string
	Optimizer   string
}

// Gateway routes public paths to backend services
type Gateway struct {
	user       *httputil.ReverseProxy
	monitoring *httputil.ReverseProxy
	analytics  *httputil.ReverseProxy
	optimizer  *httputil.ReverseProxy
	log        *logger.Logger
}

// New builds proxies for every upstream. timeout bounds the wait for
// upstream response headers.
func New(up Upstreams, timeout time.Duration, log *logger.Logger) (*Gateway, error) {
	if log == nil {
		log = logger.NewNop()
	}
	g := &Gateway{log: log.With("component", "gateway")}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	targets := []struct {
		name  string
		raw   string
		proxy **httputil.ReverseProxy
	}{
		{"user-service", up.UserService, &g.user},
		{"monitoring", up.Monitoring, &g.monitoring},
		{"analytics", up.Analytics, &g.analytics},
		{"optimizer", up.Optimizer, &g.optimizer},
	}
	for _, t := range targets {
		target, err := url.Parse(t.raw)
		if err != nil || target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("invalid %s URL %q", t.name, t.raw)
		}
		*t.proxy = g.newProxy(t.name, target, transport)
	}
	return g, nil
}

func (g *Gateway) newProxy(name string, target *url.URL, transport http.RoundTripper) *httputil.ReverseProxy {
	log := g.log.With("upstream", name)
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Error("proxy request failed", "path", r.URL.Path, "error", err)
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "Gateway Error: " + err.Error()})
		},
	}
}

// Register adds the proxied routes
func (g *Gateway) Register(r gin.IRouter) {
	r.POST("/api/auth/login", forward(g.user, func(*gin.Context) string {
		return "/api/user/credentials"
	}))
	r.GET("/api/data/metrics/:userId", forward(g.monitoring, func(c *gin.Context) string {
		return "/api/metrics/" + url.PathEscape(c.Param("userId"))
	}))
	r.Any("/api/analytics/*path", forward(g.analytics, nil))
	r.Any("/api/optimizer/*path", forward(g.optimizer, nil))
}

// forward proxies the request, replacing its path when rewrite is set
func forward(proxy *httputil.ReverseProxy, rewrite func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := c.Request
		if rewrite != nil {
			req = req.Clone(req.Context())
			req.URL.Path = rewrite(c)
			req.URL.RawPath = ""
		}
		proxy.ServeHTTP(c.Writer, req)
	}
}
