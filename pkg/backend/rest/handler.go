package rest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	vuser "github.com/surrealdb/vuser.go"
	"github.com/surrealdb/vuser.go/pkg/logger"
)

// MaxPayloadSize bounds the body of a PUT.
const MaxPayloadSize = 1 << 20

// BackendFunc returns the backend that serves user. It is called for every
// request; implementations usually keep one backend per user.
type BackendFunc func(user string) (vuser.Backend, error)

// VerifyFunc checks the password of user. It runs on every request, before the
// backend is resolved.
type VerifyFunc func(ctx context.Context, user, pass string) error

// Handler exposes backends over HTTP:
//
//	POST /users/{user}/auth        check credentials
//	GET  /users/{user}/data/{key}  payload of key, 404 when never stored
//	PUT  /users/{user}/data/{key}  replace the payload of key
//
// Every request carries the user's credentials as HTTP basic auth. They are
// checked with the VerifyFunc and then forwarded to the backend's
// Authenticate. Backends keep their session once signed in, so the VerifyFunc
// is the only password check on later requests.
type Handler struct {
	router     *mux.Router
	backendFor BackendFunc
	verify     VerifyFunc
	log        logger.Logger
}

// NewHandler returns a Handler. A nil verify rejects every request.
func NewHandler(backendFor BackendFunc, verify VerifyFunc, log logger.Logger) *Handler {
	if log == nil {
		log = logger.Default()
	}
	if verify == nil {
		verify = func(context.Context, string, string) error {
			return vuser.ErrAuthentication
		}
	}
	h := &Handler{
		router:     mux.NewRouter(),
		backendFor: backendFor,
		verify:     verify,
		log:        log,
	}

	// Keys may contain slashes; match on the escaped path.
	h.router.UseEncodedPath()
	users := h.router.PathPrefix("/users/{user}").Subrouter()
	users.HandleFunc("/auth", h.handleAuth).Methods(http.MethodPost)
	users.HandleFunc("/data/{key}", h.handleLoad).Methods(http.MethodGet)
	users.HandleFunc("/data/{key}", h.handleStore).Methods(http.MethodPut)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// authenticate resolves and authenticates the backend of the request, or
// writes the error response and returns nil.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) vuser.Backend {
	user := pathVar(r, "user")
	name, pass, ok := r.BasicAuth()
	if !ok {
		w.Header().Set("WWW-Authenticate", `Basic realm="vuser"`)
		respondError(w, http.StatusUnauthorized, "credentials required")
		return nil
	}
	if name != user {
		respondError(w, http.StatusForbidden, "credentials do not match user")
		return nil
	}
	if err := h.verify(r.Context(), name, pass); err != nil {
		h.log.Warn("rejected credentials", "user", user, "err", err)
		respondError(w, http.StatusUnauthorized, "authentication failed")
		return nil
	}

	b, err := h.backendFor(user)
	if err != nil {
		h.log.Error("unable to resolve backend", "user", user, "err", err)
		respondError(w, http.StatusInternalServerError, "backend unavailable")
		return nil
	}
	if err := b.Authenticate(r.Context(), name, pass); err != nil {
		respondError(w, http.StatusUnauthorized, "authentication failed")
		return nil
	}
	return b
}

func (h *Handler) handleAuth(w http.ResponseWriter, r *http.Request) {
	if h.authenticate(w, r) == nil {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLoad(w http.ResponseWriter, r *http.Request) {
	b := h.authenticate(w, r)
	if b == nil {
		return
	}

	key := pathVar(r, "key")
	payload, err := b.Load(r.Context(), key)
	if errors.Is(err, vuser.ErrNotFound) || (err == nil && len(payload) == 0) {
		respondError(w, http.StatusNotFound, "key not found")
		return
	}
	if err != nil {
		h.log.Error("load failed", "key", key, "err", err)
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (h *Handler) handleStore(w http.ResponseWriter, r *http.Request) {
	b := h.authenticate(w, r)
	if b == nil {
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, MaxPayloadSize+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unable to read body")
		return
	}
	if len(payload) > MaxPayloadSize {
		respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	key := pathVar(r, "key")
	if err := b.Store(r.Context(), key, payload); err != nil {
		h.log.Error("store failed", "key", key, "err", err)
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathVar(r *http.Request, name string) string {
	v := mux.Vars(r)[name]
	if unescaped, err := url.PathUnescape(v); err == nil {
		return unescaped
	}
	return v
}

func respondError(w http.ResponseWriter, status int, message string) {
	response, _ := json.Marshal(map[string]string{"error": message})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(response)
}
