package server

import (
	"container/list"
	"context"
	"encoding/json"
	"log"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// corsPolicy is the set of origins allowed to call the article API.
type corsPolicy struct {
	anyOrigin bool
	origins   map[string]bool
}

func newCORSPolicy(origins []string) *corsPolicy {
	if len(origins) == 0 {
		return nil
	}
	p := &corsPolicy{origins: make(map[string]bool, len(origins))}
	for _, o := range origins {
		if o == "*" {
			p.anyOrigin = true
		}
		p.origins[o] = true
	}
	return p
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin.
func (p *corsPolicy) allowOrigin(origin string) (string, bool) {
	switch {
	case origin == "":
		return "", false
	case p.anyOrigin:
		return "*", true
	case p.origins[origin]:
		return origin, true
	}
	return "", false
}

// CORSMiddleware lets the listed origins call the API from a browser. "*" allows any
// origin. With no origins the handler is returned unchanged.
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	policy := newCORSPolicy(origins)

	return func(next http.Handler) http.Handler {
		if policy == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, ok := policy.allowOrigin(r.Header.Get("Origin"))
			if !policy.anyOrigin {
				w.Header().Add("Vary", "Origin")
			}
			if ok {
				w.Header().Set("Access-Control-Allow-Origin", allowed)
			}

			// Preflight requests never reach the API
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if ok {
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
					w.Header().Set("Access-Control-Max-Age", "600")
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// contentSecurityPolicy returns the CSP for the editor. The preview iframe may show
// remote images; scripts, styles and the websocket are same-origin. The WASM preview
// additionally needs to compile markpad.wasm.
func contentSecurityPolicy(wasm bool) string {
	script := "script-src 'self'"
	if wasm {
		script += " 'wasm-unsafe-eval'"
	}
	return strings.Join([]string{
		"default-src 'self'",
		script,
		"style-src 'self' 'unsafe-inline'",
		"img-src 'self' data: https:",
		"font-src 'self' data:",
		"connect-src 'self'",
		"frame-ancestors 'self'",
	}, "; ")
}

// SecurityHeadersMiddleware adds security headers to all responses.
func SecurityHeadersMiddleware(wasm bool) func(http.Handler) http.Handler {
	csp := contentSecurityPolicy(wasm)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Content-Security-Policy", csp)
			h.Set("X-Frame-Options", "SAMEORIGIN")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			next.ServeHTTP(w, r)
		})
	}
}

// Limit is a token bucket: RPS tokens per second, holding at most Burst.
type Limit struct {
	RPS   float64
	Burst int
}

// RateLimits configures RateLimitMiddleware.
type RateLimits struct {
	Write      Limit // POST, PUT and DELETE under /api/articles
	Render     Limit // POST /api/render
	MaxClients int   // Clients tracked per budget; the least recent is dropped beyond this
}

const (
	defaultMaxClients = 10000
	sweepInterval     = 5 * time.Minute
	idleClientTTL     = 10 * time.Minute
	dropLogInterval   = 30 * time.Second
)

// budget names the rate limit a request is charged to.
type budget int

const (
	budgetNone budget = iota
	budgetWrite
	budgetRender
)

// budgetFor classifies an API request. Reads are free: the editor page and API
// clients poll article lists, while writes and renders cost server work.
func budgetFor(r *http.Request) budget {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return budgetNone
	}
	if strings.Trim(r.URL.Path, "/") == "api/render" {
		return budgetRender
	}
	return budgetWrite
}

// client is the token bucket of one client IP.
type client struct {
	ip       string
	tokens   *rate.Limiter
	lastSeen time.Time
}

// clientBuckets holds one budget's buckets, most recently seen client first.
type clientBuckets struct {
	name  string
	limit Limit
	max   int

	mu       sync.Mutex
	byIP     map[string]*list.Element
	recency  *list.List
	dropped  int
	lastDrop time.Time
}

func newClientBuckets(name string, limit Limit, max int) *clientBuckets {
	return &clientBuckets{
		name:    name,
		limit:   limit,
		max:     max,
		byIP:    make(map[string]*list.Element),
		recency: list.New(),
	}
}

// allow spends one token of ip's bucket at now.
func (b *clientBuckets) allow(ip string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if el, ok := b.byIP[ip]; ok {
		b.recency.MoveToFront(el)
		c := el.Value.(*client)
		c.lastSeen = now
		return c.tokens.AllowN(now, 1)
	}

	if b.recency.Len() >= b.max {
		b.dropOldest(now)
	}
	c := &client{
		ip:       ip,
		tokens:   rate.NewLimiter(rate.Limit(b.limit.RPS), b.limit.Burst),
		lastSeen: now,
	}
	b.byIP[ip] = b.recency.PushFront(c)
	return c.tokens.AllowN(now, 1)
}

// dropOldest forgets the least recently seen client. Called with mu held.
func (b *clientBuckets) dropOldest(now time.Time) {
	oldest := b.recency.Back()
	if oldest == nil {
		return
	}
	b.recency.Remove(oldest)
	delete(b.byIP, oldest.Value.(*client).ip)

	b.dropped++
	if now.Sub(b.lastDrop) >= dropLogInterval {
		log.Printf("[RateLimit] %s: dropped %d least recent client(s), tracking %d", b.name, b.dropped, b.max)
		b.lastDrop = now
		b.dropped = 0
	}
}

// sweep forgets clients idle for longer than idle and returns how many it dropped.
// Every access moves a client to the front, so the list is ordered by lastSeen.
func (b *clientBuckets) sweep(now time.Time, idle time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for el := b.recency.Back(); el != nil; el = b.recency.Back() {
		c := el.Value.(*client)
		if now.Sub(c.lastSeen) <= idle {
			break
		}
		b.recency.Remove(el)
		delete(b.byIP, c.ip)
		n++
	}
	return n
}

func (b *clientBuckets) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recency.Len()
}

// retryAfter is the whole number of seconds until a drained bucket holds a token.
func (b *clientBuckets) retryAfter() int {
	if b.limit.RPS <= 0 {
		return 1
	}
	return int(math.Max(1, math.Ceil(1/b.limit.RPS)))
}

// RateLimitMiddleware charges API writes and renders to per-client token buckets and
// answers 429 when a bucket is empty. Reads pass through.
//
// A sweeper drops idle clients until ctx is cancelled; the returned channel is closed
// once it has stopped.
func RateLimitMiddleware(ctx context.Context, limits RateLimits) (func(http.Handler) http.Handler, <-chan struct{}) {
	if limits.MaxClients <= 0 {
		limits.MaxClients = defaultMaxClients
	}

	budgets := map[budget]*clientBuckets{
		budgetWrite:  newClientBuckets("write", limits.Write, limits.MaxClients),
		budgetRender: newClientBuckets("render", limits.Render, limits.MaxClients),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				for _, b := range budgets {
					b.sweep(now, idleClientTTL)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	middleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, limited := budgets[budgetFor(r)]
			if limited && !b.allow(clientIP(r), time.Now()) {
				w.Header().Set("Retry-After", strconv.Itoa(b.retryAfter()))
				writeJSONError(w, http.StatusTooManyRequests, b.name+" rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	return middleware, done
}

// clientIP returns the address requests are limited by. Forwarding headers are
// honored only from loopback or private peers, i.e. a local reverse proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	peer, err := netip.ParseAddr(host)
	if err != nil {
		return host
	}
	peer = peer.Unmap()

	if peer.IsLoopback() || peer.IsPrivate() {
		if fwd, ok := forwardedClient(r.Header); ok {
			return fwd.String()
		}
	}
	return peer.String()
}

// forwardedClient returns the originating address named by X-Forwarded-For (first
// hop) or X-Real-IP. Malformed values are ignored.
func forwardedClient(h http.Header) (netip.Addr, bool) {
	first, _, _ := strings.Cut(h.Get("X-Forwarded-For"), ",")
	for _, v := range []string{first, h.Get("X-Real-IP")} {
		if addr, err := netip.ParseAddr(strings.TrimSpace(v)); err == nil {
			return addr.Unmap(), true
		}
	}
	return netip.Addr{}, false
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
