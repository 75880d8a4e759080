package registrytest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/git-pkgs/semverx/internal/core"
	"github.com/git-pkgs/semverx/version"
)

// Server serves a Memory registry over HTTP using the same routes as a real
// SemVerX registry:
//
//	GET    /{tier}/packages/{id}?version=&strategy=
//	POST   /{tier}/resolve            {"package_id", "strategy"}
//	POST   /{tier}/subscribe          {"package_id"} -> {"observer_id"}
//	DELETE /{tier}/unsubscribe/{observer_id}
//	GET    /{tier}/tarballs/{version}/{id}
type Server struct {
	*httptest.Server
	Memory *Memory

	// Token, when set, is required as a bearer credential.
	Token string

	requests atomic.Int64
}

// NewServer starts a server backed by mem and closes it when the test ends.
func NewServer(t testing.TB, mem *Memory) *Server {
	t.Helper()
	s := &Server{Memory: mem}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{tier}/packages/{id...}", s.handlePackage)
	mux.HandleFunc("POST /{tier}/resolve", s.handleResolve)
	mux.HandleFunc("POST /{tier}/subscribe", s.handleSubscribe)
	mux.HandleFunc("DELETE /{tier}/unsubscribe/{observer}", s.handleUnsubscribe)
	mux.HandleFunc("GET /{tier}/tarballs/{version}/{id...}", s.handleTarball)

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		if s.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.Token {
			writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		if _, err := core.ParseTier(firstSegment(r.URL.Path)); err != nil {
			writeError(w, http.StatusNotFound, "unknown tier")
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

// Requests returns the number of requests received.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

// TarballURL returns the server URL for the artifact of id at v.
func (s *Server) TarballURL(tier core.AccessTier, id string, v version.Version) string {
	return s.URL + "/" + string(tier) + "/tarballs/" + v.String() + "/" + id
}

func (s *Server) handlePackage(w http.ResponseWriter, r *http.Request) {
	rng := version.Any
	if raw := r.URL.Query().Get("version"); raw != "" {
		parsed, err := version.ParseRange(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		rng = parsed
	}
	strategy, err := core.ParseStrategy(r.URL.Query().Get("strategy"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pkg, err := s.Memory.FetchPackage(r.Context(), r.PathValue("id"), rng, strategy)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	if pkg.TarballURL == "" {
		if _, ok := s.Memory.Tarball(pkg.ID, pkg.Version); ok {
			pkg.TarballURL = s.TarballURL(core.AccessTier(r.PathValue("tier")), pkg.ID, pkg.Version)
		}
	}
	writeJSON(w, http.StatusOK, pkg)
}

type resolveRequest struct {
	PackageID string        `json:"package_id"`
	Strategy  core.Strategy `json:"strategy"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	dag, err := s.Memory.ResolveDag(r.Context(), req.PackageID, req.Strategy)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dag)
}

type subscribeRequest struct {
	PackageID string `json:"package_id"`
}

type subscribeResponse struct {
	ObserverID string `json:"observer_id"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	observerID, err := s.Memory.Subscribe(r.Context(), req.PackageID)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subscribeResponse{ObserverID: observerID})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if err := s.Memory.Unsubscribe(r.Context(), r.PathValue("observer")); err != nil {
		writeLookupError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTarball(w http.ResponseWriter, r *http.Request) {
	v, err := version.Parse(r.PathValue("version"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, ok := s.Memory.Tarball(r.PathValue("id"), v)
	if !ok {
		writeError(w, http.StatusNotFound, "no tarball")
		return
	}
	w.Header().Set("Content-Type", "application/gzip")
	_, _ = w.Write(data)
}

type errorResponse struct {
	Error string `json:"error_message"`
}

func writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, core.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func firstSegment(path string) string {
	for i := 1; i < len(path); i++ {
		if path[i] == '/' {
			return path[1:i]
		}
	}
	if len(path) > 0 {
		return path[1:]
	}
	return ""
}
