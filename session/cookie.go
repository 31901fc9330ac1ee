package session

import (
	"net/http"
	"time"
)

// DefaultCookieName is the name of the session cookie.
const DefaultCookieName = "arbor_session"

// CookieOptions controls how the session cookie is written.
type CookieOptions struct {
	Name string
	// Secure marks the cookie Secure. It should only be false for local
	// development over plain HTTP.
	Secure bool
}

// Cookies binds a Service to the HTTP cookie that carries its tokens.
type Cookies struct {
	svc  *Service
	opts CookieOptions
}

// NewCookies returns a cookie adapter for svc.
func NewCookies(svc *Service, opts CookieOptions) *Cookies {
	if opts.Name == "" {
		opts.Name = DefaultCookieName
	}
	return &Cookies{svc: svc, opts: opts}
}

// Name returns the cookie name.
func (c *Cookies) Name() string {
	return c.opts.Name
}

// TTL returns the lifetime of cookies written by Create.
func (c *Cookies) TTL() time.Duration {
	return c.svc.TTL()
}

// Create issues a token for id and sets it as the session cookie.
func (c *Cookies) Create(w http.ResponseWriter, id Identity) (Token, error) {
	tok, err := c.svc.Issue(id)
	if err != nil {
		return Token{}, err
	}
	http.SetCookie(w, c.cookie(tok.Value, tok.ExpiresAt, int(c.svc.TTL()/time.Second)))
	return tok, nil
}

// Get verifies the session cookie on r, if any.
func (c *Cookies) Get(r *http.Request) (Identity, bool) {
	cookie, err := r.Cookie(c.opts.Name)
	if err != nil {
		return Identity{}, false
	}
	return c.svc.Verify(cookie.Value)
}

// Clear overwrites the session cookie with an empty, expired one.
func (c *Cookies) Clear(w http.ResponseWriter) {
	tok := c.svc.Revoke()
	http.SetCookie(w, c.cookie(tok.Value, tok.ExpiresAt, -1))
}

func (c *Cookies) cookie(value string, expires time.Time, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     c.opts.Name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.opts.Secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
		MaxAge:   maxAge,
	}
}
