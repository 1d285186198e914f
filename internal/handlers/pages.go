package handlers

import (
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/homeservices-storefront/api/internal/platform/httpx"
	"github.com/homeservices-storefront/api/internal/platform/requestctx"
)

// NewPageProxy forwards storefront page requests to the web tier. Mount it behind the route
// gate middleware so unknown pages arrive already rewritten to the not-found page.
func NewPageProxy(upstream string) (http.Handler, error) {
	target, err := url.Parse(strings.TrimSpace(upstream))
	if err != nil {
		return nil, err
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, errors.New("page proxy: upstream must be an absolute URL")
	}
	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			if original := pr.In.Header.Get("X-Original-Path"); original != "" {
				pr.Out.Header.Set("X-Original-Path", original)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			requestctx.Logger(r.Context()).Named("pages").Warn("upstream page request failed",
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
			httpx.WriteError(r.Context(), w, httpx.NewError("upstream_unavailable", "storefront is unavailable", http.StatusBadGateway))
		},
	}
	return proxy, nil
}
