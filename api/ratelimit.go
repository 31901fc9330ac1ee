package api

import (
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

// RateLimitConfig controls the per-client limits on the login and register
// endpoints.
type RateLimitConfig struct {
	LoginRate     rate.Limit
	LoginBurst    int
	RegisterRate  rate.Limit
	RegisterBurst int
	IdleExpiry    time.Duration
	SweepInterval time.Duration
}

// DefaultRateLimitConfig allows 10 login attempts per minute and 5
// registrations per hour from one client IP.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		LoginRate:     rate.Limit(10.0 / 60.0),
		LoginBurst:    10,
		RegisterRate:  rate.Limit(5.0 / 3600.0),
		RegisterBurst: 5,
		IdleExpiry:    time.Hour,
		SweepInterval: 5 * time.Minute,
	}
}

// ---------------------------------------------------------------------------
// Per-IP token bucket
// ---------------------------------------------------------------------------

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// ipLimiter hands out one token bucket per client IP.
type ipLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*clientLimiter
}

func newIPLimiter(limit rate.Limit, burst int) *ipLimiter {
	return &ipLimiter{
		limit:   limit,
		burst:   burst,
		clients: make(map[string]*clientLimiter),
	}
}

// allow consumes a token for ip. When none is available it reports how long
// until the next one.
func (l *ipLimiter) allow(ip string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cl, ok := l.clients[ip]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = cl
	}
	cl.lastAccess = time.Now()
	if cl.limiter.Allow() {
		return true, 0
	}
	return false, tokenWait(l.limit)
}

func (l *ipLimiter) sweep(expiry time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for ip, cl := range l.clients {
		if now.Sub(cl.lastAccess) > expiry {
			delete(l.clients, ip)
		}
	}
}

func (l *ipLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// tokenWait is the time to refill one token at limit.
func tokenWait(limit rate.Limit) time.Duration {
	if limit <= 0 {
		return time.Hour
	}
	return time.Duration(math.Ceil(float64(time.Second) / float64(limit)))
}

// ---------------------------------------------------------------------------
// Per-account failure backoff
// ---------------------------------------------------------------------------

// accountLimiter tracks consecutive failed logins per account key and
// applies exponential lockout. The key is a hash of the identifier, never the
// identifier itself.
type accountLimiter struct {
	mu       sync.Mutex
	attempts map[string]*attemptRecord
	now      func() time.Time
}

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

const (
	// maxFailures is the number of consecutive failures before lockout begins.
	maxFailures = 5
	baseLockout = 1 * time.Minute
	maxLockout  = 15 * time.Minute
	// attemptExpiry is how long after the last failure a record is kept.
	attemptExpiry = 1 * time.Hour
)

func newAccountLimiter() *accountLimiter {
	return &accountLimiter{
		attempts: make(map[string]*attemptRecord),
		now:      time.Now,
	}
}

func (al *accountLimiter) check(key string) (bool, time.Duration) {
	al.mu.Lock()
	defer al.mu.Unlock()

	rec, ok := al.attempts[key]
	if !ok {
		return false, 0
	}
	now := al.now()
	if now.Sub(rec.lastFailure) > attemptExpiry {
		delete(al.attempts, key)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

func (al *accountLimiter) recordFailure(key string) {
	al.mu.Lock()
	defer al.mu.Unlock()

	rec, ok := al.attempts[key]
	if !ok {
		rec = &attemptRecord{}
		al.attempts[key] = rec
	}
	now := al.now()
	rec.failures++
	rec.lastFailure = now

	if rec.failures >= maxFailures {
		lockout := baseLockout
		for i := 0; i < rec.failures-maxFailures; i++ {
			lockout *= 2
			if lockout > maxLockout {
				lockout = maxLockout
				break
			}
		}
		rec.lockedUntil = now.Add(lockout)
	}
}

func (al *accountLimiter) recordSuccess(key string) {
	al.mu.Lock()
	defer al.mu.Unlock()
	delete(al.attempts, key)
}

func (al *accountLimiter) sweep() {
	al.mu.Lock()
	defer al.mu.Unlock()
	now := al.now()
	for key, rec := range al.attempts {
		if now.Sub(rec.lastFailure) > attemptExpiry {
			delete(al.attempts, key)
		}
	}
}

// ---------------------------------------------------------------------------
// Background sweeping
// ---------------------------------------------------------------------------

func (a *API) sweepLoop(interval, expiry time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.loginIPs.sweep(expiry)
			a.registerIPs.sweep(expiry)
			a.accounts.sweep()
		case <-a.stop:
			return
		}
	}
}

// writeRateLimited sends a 429 Too Many Requests response.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", retryAfterString(retryAfter))
	writeError(w, http.StatusTooManyRequests, "too many requests; try again later")
}

func retryAfterString(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// ---------------------------------------------------------------------------
// Client IP extraction
// ---------------------------------------------------------------------------

func (a *API) clientIP(r *http.Request) string {
	return extractClientIPWithProxies(r, a.trustedProxies)
}

// extractClientIPWithProxies returns the best-effort client IP address.
//
// Proxy headers (X-Forwarded-For, Forwarded, X-Real-IP) are only honored when
// RemoteAddr falls within one of trustedProxies. With no trusted proxies the
// peer address is always used. Forwarding chains are read right to left and
// the first hop outside trustedProxies wins, since entries further left are
// supplied by the client.
func extractClientIPWithProxies(r *http.Request, trustedProxies []netip.Prefix) string {
	remoteIP, _ := parseIPCandidate(r.RemoteAddr)
	if remoteIP == "" || !isTrustedProxy(remoteIP, trustedProxies) {
		return remoteIP
	}

	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		if ip, ok := firstUntrustedHop(strings.Split(xff, ","), trustedProxies); ok {
			return ip
		}
	}
	if fwd := strings.TrimSpace(r.Header.Get("Forwarded")); fwd != "" {
		var hops []string
		for _, elem := range strings.Split(fwd, ",") {
			for _, param := range strings.Split(elem, ";") {
				param = strings.TrimSpace(param)
				if strings.HasPrefix(strings.ToLower(param), "for=") {
					hops = append(hops, param[4:])
				}
			}
		}
		if ip, ok := firstUntrustedHop(hops, trustedProxies); ok {
			return ip
		}
	}
	if ip, ok := parseIPCandidate(r.Header.Get("X-Real-IP")); ok {
		return ip
	}
	return remoteIP
}

// firstUntrustedHop walks hops from the right and returns the first address
// that is not a trusted proxy. An unparseable hop ends the walk, as nothing
// left of it can be attributed. When every hop is trusted the leftmost one is
// returned.
func firstUntrustedHop(hops []string, trustedProxies []netip.Prefix) (string, bool) {
	var last string
	for i := len(hops) - 1; i >= 0; i-- {
		ip, ok := parseIPCandidate(hops[i])
		if !ok {
			break
		}
		if !isTrustedProxy(ip, trustedProxies) {
			return ip, true
		}
		last = ip
	}
	return last, last != ""
}

func isTrustedProxy(ip string, trustedProxies []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, prefix := range trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func parseIPCandidate(raw string) (string, bool) {
	s := strings.Trim(strings.TrimSpace(raw), "\"")
	if s == "" {
		return "", false
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}

// ParseTrustedProxies parses a list of CIDRs or bare IPs.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, err
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
