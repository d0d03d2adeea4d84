// Package hub is the meeting point of an account's devices:
// an HTTP service that stores blocks
// and maps account ids to the tree hash each account last published,
// plus the client for it.
package hub

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/argon2"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/anchor"
	"github.com/bobg/notesync/blob"
	"github.com/bobg/notesync/metrics"
)

// Logger is where a Server reports failures.
type Logger interface {
	Printf(format string, args ...interface{})
}

// ServerOptions configure a Server.
type ServerOptions struct {
	Logger Logger

	// VerifierMemory is the argon2 memory cost, in KiB,
	// of the password verifiers the server keeps.
	// The default is 64 MiB.
	VerifierMemory uint32

	// MaxBlockSize bounds the body of PUT /blocks.
	// The default is 16 MiB.
	MaxBlockSize int64
}

// Server is the hub's HTTP service.
//
//	GET  /resolve?id=ID                  {"cid": hex or null}
//	POST /publish?id=ID&cid=HEX&password=P
//	GET  /blocks/{hash}                  raw block (HEAD to check existence)
//	PUT  /blocks                         store the request body as a block
//	GET  /ping
//	GET  /metrics
//
// The first publish for an id registers a verifier of its password;
// later publishes must present the same password.
type Server struct {
	blocks blob.Store
	names  anchor.Store
	opts   ServerOptions

	mu sync.Mutex // serializes publishes
}

// NewServer produces a Server storing blocks in blocks and names in names.
func NewServer(blocks blob.Store, names anchor.Store, opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.VerifierMemory == 0 {
		opts.VerifierMemory = 64 * 1024
	}
	if opts.MaxBlockSize <= 0 {
		opts.MaxBlockSize = 16 << 20
	}
	return &Server{blocks: blocks, names: names, opts: opts}
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /resolve", s.counted("resolve", s.handleResolve))
	mux.Handle("POST /publish", s.counted("publish", s.handlePublish))
	mux.Handle("GET /blocks/{hash}", s.counted("get_block", s.handleGetBlock))
	mux.Handle("PUT /blocks", s.counted("put_block", s.handlePutBlock))
	mux.Handle("GET /ping", s.counted("ping", s.handlePing))
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// ResolveResponse is the body of a /resolve response.
type ResolveResponse struct {
	CID *string `json:"cid"`
}

// PutBlockResponse is the body of a PUT /blocks response.
type PutBlockResponse struct {
	Hash  string `json:"hash"`
	Added bool   `json:"added"`
}

type errorResponse struct {
	Message string `json:"message"`
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// httpError is an error with a status code for the response.
type httpError struct {
	code int
	err  error
}

func (e *httpError) Error() string { return e.err.Error() }
func (e *httpError) Unwrap() error { return e.err }

func codeErr(code int, err error) error {
	return &httpError{code: code, err: err}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) counted(endpoint string, h handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		if err := h(rec, req); err != nil {
			code := http.StatusInternalServerError
			var herr *httpError
			if errors.As(err, &herr) {
				code = herr.code
			}
			if code >= 500 {
				s.opts.Logger.Printf("ERROR %s %s: %s", req.Method, req.URL.Path, err)
			}
			writeJSON(rec, code, errorResponse{Message: err.Error()})
		}
		metrics.HubRequests.WithLabelValues(endpoint, strconv.Itoa(rec.code)).Inc()
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleResolve(w http.ResponseWriter, req *http.Request) error {
	id := req.URL.Query().Get("id")
	if id == "" {
		return codeErr(http.StatusBadRequest, errors.New("missing id"))
	}
	h, _, err := s.names.GetAnchor(req.Context(), id)
	if notesync.IsNotFound(err) {
		writeJSON(w, http.StatusOK, ResolveResponse{})
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "resolving %s", id)
	}
	cid := h.String()
	writeJSON(w, http.StatusOK, ResolveResponse{CID: &cid})
	return nil
}

func (s *Server) handlePublish(w http.ResponseWriter, req *http.Request) error {
	var (
		ctx      = req.Context()
		q        = req.URL.Query()
		id       = q.Get("id")
		password = q.Get("password")
	)
	if id == "" || password == "" {
		return codeErr(http.StatusBadRequest, errors.New("missing id or password"))
	}
	h, err := notesync.HashFromHex(q.Get("cid"))
	if err != nil {
		return codeErr(http.StatusBadRequest, errors.Wrap(err, "parsing cid"))
	}

	ok, err := blob.Has(ctx, s.blocks, h)
	if err != nil {
		return errors.Wrapf(err, "checking for %s", h)
	}
	if !ok {
		return codeErr(http.StatusConflict, errors.Errorf("block %s not found", h))
	}

	candidate := s.verifier(id, password)

	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.names.GetVerifier(ctx, id)
	switch {
	case notesync.IsNotFound(err):
		if err = s.names.PutVerifier(ctx, id, candidate); err != nil {
			return errors.Wrapf(err, "registering %s", id)
		}
	case err != nil:
		return errors.Wrapf(err, "getting verifier for %s", id)
	case subtle.ConstantTimeCompare(v, candidate) != 1:
		return codeErr(http.StatusForbidden, errors.New("wrong password"))
	}

	if err = s.names.PutAnchor(ctx, id, h, time.Now()); err != nil {
		return errors.Wrapf(err, "publishing %s", id)
	}
	cid := h.String()
	writeJSON(w, http.StatusOK, ResolveResponse{CID: &cid})
	return nil
}

// verifier derives what the server keeps in place of an account's password.
// The salt differs from the one the account key uses,
// so the verifier reveals nothing about that key.
func (s *Server) verifier(id, password string) []byte {
	k := argon2.IDKey([]byte(password), []byte("hub verifier "+id), 1, s.opts.VerifierMemory, 4, 32)
	v := sha256.Sum256(k)
	return v[:]
}

func (s *Server) handleGetBlock(w http.ResponseWriter, req *http.Request) error {
	h, err := notesync.HashFromHex(req.PathValue("hash"))
	if err != nil {
		return codeErr(http.StatusBadRequest, err)
	}

	if req.Method == http.MethodHead {
		ok, err := blob.Has(req.Context(), s.blocks, h)
		if err != nil {
			return err
		}
		if !ok {
			return codeErr(http.StatusNotFound, notesync.ErrNotFound)
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	}

	b, err := s.blocks.Get(req.Context(), h)
	if notesync.IsNotFound(err) {
		return codeErr(http.StatusNotFound, err)
	}
	if err != nil {
		return errors.Wrapf(err, "getting %s", h)
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	_, err = w.Write(b)
	return err
}

func (s *Server) handlePutBlock(w http.ResponseWriter, req *http.Request) error {
	b, err := io.ReadAll(http.MaxBytesReader(w, req.Body, s.opts.MaxBlockSize))
	if err != nil {
		return codeErr(http.StatusBadRequest, errors.Wrap(err, "reading block"))
	}
	h, added, err := s.blocks.Put(req.Context(), b)
	if err != nil {
		return errors.Wrap(err, "storing block")
	}
	if added {
		metrics.HubBlocksStored.Inc()
	}
	writeJSON(w, http.StatusOK, PutBlockResponse{Hash: h.String(), Added: added})
	return nil
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) error {
	w.WriteHeader(http.StatusNoContent)
	return nil
}
