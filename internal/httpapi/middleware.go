package httpapi

import (
	"compress/gzip"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// statusRecorder remembers the status and body size for metrics and the
// access log.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w}
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.written += int64(n)
	return n, err
}

func (r *statusRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *statusRecorder) Bytes() int64 { return r.written }

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// baseWriter unwraps the recorder. WebSocket upgrades need the server's
// http.Hijacker.
func baseWriter(w http.ResponseWriter) http.ResponseWriter {
	if rec, ok := w.(*statusRecorder); ok && rec.ResponseWriter != nil {
		if gz, ok := rec.ResponseWriter.(*gzipWriter); ok {
			return gz.ResponseWriter
		}
		return rec.ResponseWriter
	}
	return w
}

var gzipPool = sync.Pool{
	New: func() any { return gzip.NewWriter(io.Discard) },
}

type gzipWriter struct {
	http.ResponseWriter
	zw *gzip.Writer
}

func (g *gzipWriter) Write(b []byte) (int, error) { return g.zw.Write(b) }

func (g *gzipWriter) Flush() {
	_ = g.zw.Flush()
	if f, ok := g.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func wantsGzip(r *http.Request) bool {
	if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		return false
	}
	// upgrades and event streams must reach the client unbuffered
	if r.Header.Get("Upgrade") != "" || r.URL.Path == "/stream" || r.URL.Path == "/ws" {
		return false
	}
	return !strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// compress slides a pooled gzip writer under rec. The returned func must be
// called once the handler is done; it is nil when the response is sent as is.
func compress(rec *statusRecorder, r *http.Request) func() {
	if !wantsGzip(r) {
		return nil
	}
	base := rec.ResponseWriter
	zw := gzipPool.Get().(*gzip.Writer)
	zw.Reset(base)

	h := base.Header()
	h.Set("Content-Encoding", "gzip")
	h.Add("Vary", "Accept-Encoding")
	h.Del("Content-Length")

	rec.ResponseWriter = &gzipWriter{ResponseWriter: base, zw: zw}
	return func() {
		_ = zw.Close()
		zw.Reset(io.Discard)
		gzipPool.Put(zw)
		rec.ResponseWriter = base
	}
}

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

// limiter is a token bucket per client address.
type limiter struct {
	mu         sync.Mutex
	visitors   map[string]*visitor
	rps        rate.Limit
	burst      int
	idle       time.Duration
	trustProxy bool
}

const maxVisitors = 1024

// newLimiter returns nil, which allows everything, when rps or burst is
// not positive.
func newLimiter(rps, burst int, trustProxy bool) *limiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &limiter{
		visitors:   make(map[string]*visitor),
		rps:        rate.Limit(rps),
		burst:      burst,
		idle:       5 * time.Minute,
		trustProxy: trustProxy,
	}
}

// allow reports whether r may proceed and, when it may not, how long the
// client should wait.
func (l *limiter) allow(r *http.Request, now time.Time) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	key := l.clientKey(r)

	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.visitors[key]
	if !ok {
		if len(l.visitors) >= maxVisitors {
			l.sweep(now)
		}
		v = &visitor{lim: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[key] = v
	}
	v.seen = now

	res := v.lim.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return false, wait
	}
	return true, 0
}

func (l *limiter) sweep(now time.Time) {
	for key, v := range l.visitors {
		if now.Sub(v.seen) > l.idle {
			delete(l.visitors, key)
		}
	}
}

// clientKey is the remote host, or the first X-Forwarded-For hop when the
// server sits behind a trusted proxy.
func (l *limiter) clientKey(r *http.Request) string {
	if l.trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func retryAfterSeconds(wait time.Duration) string {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

type corsPolicy struct {
	allowAll bool
	origins  map[string]struct{}
}

// newCORSPolicy returns nil, meaning no CORS headers at all, for an empty
// list. "*" allows any http(s) origin.
func newCORSPolicy(origins []string) *corsPolicy {
	if len(origins) == 0 {
		return nil
	}
	p := &corsPolicy{origins: make(map[string]struct{})}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		switch o {
		case "":
			continue
		case "*":
			return &corsPolicy{allowAll: true}
		}
		p.origins[strings.TrimSuffix(o, "/")] = struct{}{}
	}
	return p
}

func (c *corsPolicy) allows(origin string) bool {
	if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
		return false
	}
	if c.allowAll {
		return true
	}
	_, ok := c.origins[origin]
	return ok
}

// check applies the policy to r. It returns false when the request has been
// answered: a preflight (204) or a disallowed origin (403).
func (c *corsPolicy) check(w http.ResponseWriter, r *http.Request) bool {
	if c == nil {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if !c.allows(origin) {
		writeError(w, http.StatusForbidden, "origin not allowed")
		return false
	}

	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Add("Vary", "Origin")
	if r.Method != http.MethodOptions {
		return true
	}
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
		h.Set("Access-Control-Allow-Headers", reqHeaders)
	} else {
		h.Set("Access-Control-Allow-Headers", "Content-Type")
	}
	h.Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
	return false
}
