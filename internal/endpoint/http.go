// Package endpoint is the public HTTP boundary: it parses the push URL,
// validates the delivery headers and hands the request to the dispatch
// coordinator. All token and credential failures surface with the
// deliberately coarse statuses the coordinator's classifier produces.
package endpoint

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/crensch/pushgate/internal/dispatch"
	"github.com/crensch/pushgate/internal/httpheader"
	"github.com/crensch/pushgate/internal/token"
)

const (
	defaultMaxBodyBytes = 4 << 10
	maxTopicLen         = 32
)

// Headers forwarded to the router untouched; everything else is dropped.
var forwardedHeaders = []string{
	"Content-Encoding",
	"Content-Type",
	"Encryption",
	"Encryption-Key",
	"Crypto-Key",
}

type Server struct {
	Coordinator *dispatch.Coordinator
	Logger      *slog.Logger

	// MaxBodyBytes caps the notification payload; over-limit requests
	// are rejected with 413 before any token work happens.
	MaxBodyBytes int64

	// LimitsFor, when set, supplies the body cap per request and takes
	// precedence over MaxBodyBytes. Lets a config reload change the cap
	// without restarting the listener.
	LimitsFor func() (maxBodyBytes int64)

	// ObserveReject, when set, is invoked for requests that never reach
	// a router.
	ObserveReject func(statusCode int, reason string)
}

func NewServer(coordinator *dispatch.Coordinator) *Server {
	return &Server{
		Coordinator:  coordinator,
		MaxBodyBytes: defaultMaxBodyBytes,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	version, tok, ok := parsePath(path.Clean(r.URL.Path))
	if !ok {
		s.reject(w, http.StatusNotFound, "not_found")
		return
	}

	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		w.Header().Set("Allow", "POST, PUT")
		s.reject(w, http.StatusMethodNotAllowed, "method")
		return
	}

	ttl, err := parseTTL(r.Header.Get("TTL"))
	if err != nil {
		s.reject(w, http.StatusBadRequest, "ttl")
		return
	}
	topic := r.Header.Get("Topic")
	if !validTopic(topic) {
		s.reject(w, http.StatusBadRequest, "topic")
		return
	}

	maxBody := s.MaxBodyBytes
	if s.LimitsFor != nil {
		maxBody = s.LimitsFor()
	}
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.reject(w, http.StatusRequestEntityTooLarge, "body_size")
			return
		}
		s.reject(w, http.StatusBadRequest, "body_read")
		return
	}

	forwarded := copyForwarded(r.Header)
	if err := httpheader.ValidateMap(forwarded); err != nil {
		s.reject(w, http.StatusBadRequest, "header")
		return
	}

	req := dispatch.Request{
		Version:       version,
		Token:         tok,
		Authorization: r.Header.Get("Authorization"),
		CryptoKey:     r.Header.Get("Crypto-Key"),
		TTL:           ttl,
		Topic:         topic,
		Headers:       forwarded,
		Data:          body,
	}

	res, err := s.Coordinator.Dispatch(r.Context(), req)
	if err != nil {
		status := dispatch.StatusFor(err)
		s.logger().Debug("dispatch_rejected", "status", status, "error", err)
		s.reject(w, status, "dispatch")
		return
	}

	if res.StatusCode >= 300 {
		s.reject(w, res.StatusCode, "router")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.StatusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"message_id": res.MessageID})
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Server) reject(w http.ResponseWriter, statusCode int, reason string) {
	w.WriteHeader(statusCode)
	if s.ObserveReject != nil {
		s.ObserveReject(statusCode, strings.TrimSpace(reason))
	}
}

// parsePath accepts /wpush/<token> and /wpush/v<n>/<token>. A bare token
// implies v1. Returns ok=false for anything else; the version number
// itself is validated downstream by the codec.
func parsePath(requestPath string) (version int, tok string, ok bool) {
	rest, found := strings.CutPrefix(requestPath, "/wpush/")
	if !found || rest == "" {
		return 0, "", false
	}
	parts := strings.Split(rest, "/")
	switch len(parts) {
	case 1:
		if parts[0] == "" {
			return 0, "", false
		}
		return token.VersionV1, parts[0], true
	case 2:
		v, found := strings.CutPrefix(parts[0], "v")
		if !found || parts[1] == "" {
			return 0, "", false
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return 0, "", false
		}
		return n, parts[1], true
	default:
		return 0, "", false
	}
}

// parseTTL enforces the mandatory TTL header: a base-10 non-negative
// integer number of seconds.
func parseTTL(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("missing ttl header")
	}
	ttl, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, errors.New("negative ttl")
	}
	return ttl, nil
}

// validTopic allows an absent topic, or up to 32 characters drawn from
// the base64url alphabet.
func validTopic(topic string) bool {
	if topic == "" {
		return true
	}
	if len(topic) > maxTopicLen {
		return false
	}
	for i := 0; i < len(topic); i++ {
		c := topic[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '=':
		default:
			return false
		}
	}
	return true
}

func copyForwarded(h http.Header) map[string]string {
	out := make(map[string]string, len(forwardedHeaders))
	for _, name := range forwardedHeaders {
		if v := h.Get(name); v != "" {
			out[name] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
