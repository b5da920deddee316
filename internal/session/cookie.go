package session

import (
	"log"
	"net/http"
	"sync"
	"time"

	httphelper "github.com/zitadel/oidc/v3/pkg/http"
)

// DefaultCookieName is the session cookie name when none is configured.
const DefaultCookieName = "gridauth_session"

// CookieConfig configures the session cookie. HashKey signs the cookie;
// BlockKey (16, 24 or 32 bytes) encrypts it.
type CookieConfig struct {
	Name     string
	HashKey  []byte
	BlockKey []byte
	Secure   bool
	MaxAge   time.Duration
}

// CookieTransport correlates clients with session IDs through a signed and
// encrypted cookie.
type CookieTransport struct {
	name    string
	handler *httphelper.CookieHandler
}

// NewCookieTransport builds a transport from cfg.
func NewCookieTransport(cfg CookieConfig) *CookieTransport {
	name := cfg.Name
	if name == "" {
		name = DefaultCookieName
	}
	opts := []httphelper.CookieHandlerOpt{
		httphelper.WithSameSite(http.SameSiteLaxMode),
	}
	if cfg.MaxAge > 0 {
		opts = append(opts, httphelper.WithMaxAge(int(cfg.MaxAge.Seconds())))
	}
	if !cfg.Secure {
		opts = append(opts, httphelper.WithUnsecure())
	}
	return &CookieTransport{
		name:    name,
		handler: httphelper.NewCookieHandler(cfg.HashKey, cfg.BlockKey, opts...),
	}
}

// Name returns the cookie name.
func (t *CookieTransport) Name() string { return t.name }

// Read returns the session ID carried by the request, or "" when the cookie
// is absent or fails verification.
func (t *CookieTransport) Read(r *http.Request) string {
	id, err := t.handler.CheckCookie(r, t.name)
	if err != nil {
		return ""
	}
	return id
}

// Commit writes or clears the cookie to reflect the handle's current ID.
// Nothing is written when the client already holds the right cookie.
func (t *CookieTransport) Commit(w http.ResponseWriter, h *Handle) {
	if !h.Changed() {
		return
	}
	if h.ID() == "" {
		t.handler.DeleteCookie(w, t.name)
		return
	}
	if err := t.handler.SetCookie(w, t.name, h.ID()); err != nil {
		log.Printf("session: failed to set cookie: %v", err)
	}
}

// Wrap returns a ResponseWriter that commits the cookie for h immediately
// before the response header is written.
func (t *CookieTransport) Wrap(w http.ResponseWriter, h *Handle) http.ResponseWriter {
	return &committingWriter{ResponseWriter: w, commit: func() { t.Commit(w, h) }}
}

type committingWriter struct {
	http.ResponseWriter
	once   sync.Once
	commit func()
}

func (cw *committingWriter) WriteHeader(status int) {
	cw.once.Do(cw.commit)
	cw.ResponseWriter.WriteHeader(status)
}

func (cw *committingWriter) Write(b []byte) (int, error) {
	cw.once.Do(cw.commit)
	return cw.ResponseWriter.Write(b)
}

// Flush commits pending cookies before flushing.
func (cw *committingWriter) Flush() {
	cw.once.Do(cw.commit)
	if f, ok := cw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (cw *committingWriter) Unwrap() http.ResponseWriter { return cw.ResponseWriter }

// Finish commits the cookie if the handler wrote nothing.
func (cw *committingWriter) Finish() { cw.once.Do(cw.commit) }

// Finish commits any pending cookie on a writer returned by Wrap. Handlers
// that never write a body still need their cookie changes sent.
func Finish(w http.ResponseWriter) {
	if cw, ok := w.(*committingWriter); ok {
		cw.Finish()
	}
}
