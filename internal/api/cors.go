package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowOrigin   string
	AllowMethods  []string
	AllowHeaders  []string
	ExposeHeaders []string
	MaxAge        int
}

// DefaultCORSConfig allows any origin to read the feed and status.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigin:   "*",
		AllowMethods:  []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", "Accept", "Origin", "Cache-Control", "X-Requested-With"},
		ExposeHeaders: []string{"X-Frame-Sequence"},
		MaxAge:        86400,
	}
}

// corsHeaders is the precomputed header set for one config.
type corsHeaders [][2]string

func (c CORSConfig) headers() corsHeaders {
	h := corsHeaders{
		{"Access-Control-Allow-Origin", c.AllowOrigin},
		{"Access-Control-Allow-Methods", strings.Join(c.AllowMethods, ", ")},
		{"Access-Control-Allow-Headers", strings.Join(c.AllowHeaders, ", ")},
		{"Access-Control-Max-Age", strconv.Itoa(c.MaxAge)},
	}
	if len(c.ExposeHeaders) > 0 {
		h = append(h, [2]string{"Access-Control-Expose-Headers", strings.Join(c.ExposeHeaders, ", ")})
	}
	return h
}

// NewCORSMiddleware sets CORS headers on every Huma operation.
func NewCORSMiddleware(config CORSConfig) func(huma.Context, func(huma.Context)) {
	headers := config.headers()

	return func(ctx huma.Context, next func(huma.Context)) {
		for _, kv := range headers {
			ctx.SetHeader(kv[0], kv[1])
		}

		if ctx.Method() == http.MethodOptions {
			ctx.SetStatus(http.StatusNoContent)
			return
		}

		next(ctx)
	}
}

// AddCORSHandler answers preflight requests for any path with 204 and no
// body. Huma middleware never sees OPTIONS for routes registered with
// other methods.
func AddCORSHandler(mux *http.ServeMux, config CORSConfig) {
	headers := config.headers()

	mux.HandleFunc("OPTIONS /", func(w http.ResponseWriter, _ *http.Request) {
		for _, kv := range headers {
			w.Header().Set(kv[0], kv[1])
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
