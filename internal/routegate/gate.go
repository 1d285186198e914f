// Package routegate decides whether a storefront page path may be served, rewriting unknown
// paths to the not-found page.
package routegate

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/homeservices-storefront/api/internal/repositories"
)

const (
	defaultNotFoundPath = "/not-found"
	defaultCacheTTL     = 5 * time.Minute

	ReasonStatic      = "static"
	ReasonPattern     = "pattern"
	ReasonExists      = "exists"
	ReasonNotFound    = "not_found"
	ReasonCheckFailed = "check_failed"
	ReasonNoMatch     = "no_match"
)

// ExistenceChecker confirms that catalog slugs resolve. The catalog client implements it.
type ExistenceChecker interface {
	ServiceExists(ctx context.Context, slug string) (bool, error)
	ProviderExists(ctx context.Context, slug string) (bool, error)
}

// Decision is the gate's verdict for one path.
type Decision struct {
	Path    string `json:"path"`
	Allowed bool   `json:"allowed"`
	Rewrite string `json:"rewrite,omitempty"`
	Reason  string `json:"reason"`
}

// Config tunes the gate.
type Config struct {
	AllowList    []string
	NotFoundPath string
	CacheTTL     time.Duration
	Cache        repositories.ExistenceCache
	Logger       *zap.Logger
}

// Gate applies the allow-list, the dynamic page patterns and catalog existence checks.
type Gate struct {
	allow    map[string]struct{}
	notFound string
	ttl      time.Duration
	checker  ExistenceChecker
	cache    repositories.ExistenceCache
	logger   *zap.Logger
	inflight singleflight.Group
}

// New builds a gate around checker.
func New(checker ExistenceChecker, cfg Config) (*Gate, error) {
	if checker == nil {
		return nil, errors.New("routegate: existence checker is required")
	}
	notFound := normalisePath(cfg.NotFoundPath)
	if strings.TrimSpace(cfg.NotFoundPath) == "" {
		notFound = defaultNotFoundPath
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	allow := make(map[string]struct{}, len(cfg.AllowList)+1)
	for _, p := range cfg.AllowList {
		if strings.TrimSpace(p) == "" {
			continue
		}
		allow[normalisePath(p)] = struct{}{}
	}
	allow[notFound] = struct{}{}
	return &Gate{
		allow:    allow,
		notFound: notFound,
		ttl:      ttl,
		checker:  checker,
		cache:    cfg.Cache,
		logger:   logger.Named("routegate"),
	}, nil
}

// Decide evaluates rawPath. Denied paths carry a rewrite to the not-found page that preserves the
// original path in the from query parameter.
func (g *Gate) Decide(ctx context.Context, rawPath string) Decision {
	p := normalisePath(rawPath)
	if _, ok := g.allow[p]; ok {
		return Decision{Path: p, Allowed: true, Reason: ReasonStatic}
	}

	segments := strings.Split(strings.Trim(p, "/"), "/")
	switch {
	case len(segments) == 2 && segments[0] == "p":
		return g.checked(ctx, p, "service", segments[1])
	case len(segments) == 2 && segments[0] == "s":
		return g.checked(ctx, p, "provider", segments[1])
	case len(segments) == 2 && segments[0] == "help":
		return Decision{Path: p, Allowed: true, Reason: ReasonPattern}
	case (len(segments) == 2 || len(segments) == 3) && segments[0] == "categories":
		return Decision{Path: p, Allowed: true, Reason: ReasonPattern}
	}
	return g.deny(p, ReasonNoMatch)
}

func (g *Gate) checked(ctx context.Context, p, kind, slug string) Decision {
	exists, err := g.exists(ctx, kind, slug)
	if err != nil {
		g.logger.Warn("existence check failed", zap.String("kind", kind), zap.String("slug", slug), zap.Error(err))
		return g.deny(p, ReasonCheckFailed)
	}
	if !exists {
		return g.deny(p, ReasonNotFound)
	}
	return Decision{Path: p, Allowed: true, Reason: ReasonExists}
}

func (g *Gate) exists(ctx context.Context, kind, slug string) (bool, error) {
	key := kind + ":" + strings.ToLower(slug)
	if g.cache != nil {
		exists, found, err := g.cache.Lookup(ctx, key)
		if err != nil {
			g.logger.Debug("existence cache lookup failed", zap.String("key", key), zap.Error(err))
		} else if found {
			return exists, nil
		}
	}

	value, err, _ := g.inflight.Do(key, func() (any, error) {
		var (
			exists bool
			err    error
		)
		switch kind {
		case "service":
			exists, err = g.checker.ServiceExists(ctx, slug)
		default:
			exists, err = g.checker.ProviderExists(ctx, slug)
		}
		if err != nil {
			return false, err
		}
		if g.cache != nil {
			if cacheErr := g.cache.Store(ctx, key, exists, g.ttl); cacheErr != nil {
				g.logger.Debug("existence cache store failed", zap.String("key", key), zap.Error(cacheErr))
			}
		}
		return exists, nil
	})
	if err != nil {
		return false, err
	}
	return value.(bool), nil
}

func (g *Gate) deny(p, reason string) Decision {
	return Decision{
		Path:    p,
		Allowed: false,
		Rewrite: g.notFound + "?from=" + url.QueryEscape(p),
		Reason:  reason,
	}
}

// Middleware rewrites denied GET and HEAD requests to the not-found page before next serves them.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		decision := g.Decide(r.Context(), r.URL.Path)
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}
		target, err := url.Parse(decision.Rewrite)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		rewritten := r.Clone(r.Context())
		rewritten.URL.Path = target.Path
		rewritten.URL.RawPath = ""
		rewritten.URL.RawQuery = target.RawQuery
		rewritten.RequestURI = rewritten.URL.RequestURI()
		rewritten.Header.Set("X-Original-Path", decision.Path)
		next.ServeHTTP(w, rewritten)
	})
}

func normalisePath(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	return path.Clean(raw)
}
