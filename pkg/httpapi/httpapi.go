// Package httpapi is the external HTTP collaborator: a single
// POST /api/query endpoint carrying a tagged-union request/response
// envelope, plus GET /health. Request handling follows the familiar
// admission-webhook handler-factory shape: io.ReadAll the body,
// json.Unmarshal into a typed envelope, dispatch, marshal the
// response.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	kwoerrors "github.com/kubermatic/kube-workspace-operator/pkg/errors"
	"github.com/kubermatic/kube-workspace-operator/pkg/userdirectory"
	"github.com/kubermatic/kube-workspace-operator/pkg/workspace"
)

// maxBodyBytes is the content-length limit placed on requests.
const maxBodyBytes = 16 * 1024

// rateLimit and rateBurst are the token-bucket parameters.
const rateLimit = rate.Limit(100)
const rateBurst = 512

// Request is the tagged-union request envelope. Exactly one of
// PodStart/PodStatus/PodStop must be set; dispatch rejects zero or more
// than one.
type Request struct {
	PodStart  *UserRef `json:"PodStart,omitempty"`
	PodStatus *UserRef `json:"PodStatus,omitempty"`
	PodStop   *UserRef `json:"PodStop,omitempty"`
}

// UserRef is the credential pair every operation is authenticated with.
type UserRef struct {
	Username     string `json:"username"`
	SSHPublicKey string `json:"ssh_public_key"`
}

// SSHAddress is the reachable endpoint for a running workspace, omitted
// when the node's InternalIP or the service's NodePort is unknown.
type SSHAddress struct {
	Address string `json:"address"`
	Port    int32  `json:"port"`
}

// Output is the tagged-union success payload.
type Output struct {
	Phase      string      `json:"phase"`
	SSHAddress *SSHAddress `json:"ssh_address,omitempty"`
	Info       string      `json:"info,omitempty"`
}

// Envelope is the top-level response: exactly one of Ok/Error is set.
type Envelope struct {
	Ok    *Output       `json:"Ok,omitempty"`
	Error *ErrorPayload `json:"Error,omitempty"`
}

// ErrorPayload carries a caller-safe error message. Errors from a
// dispatched query are flattened to a generic message ("authentication
// failed" for AuthFailure, "internal error" for everything else); see
// writeEnvelopeError.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Server is the HTTP collaborator. It holds no cluster state of its
// own; every operation is delegated to the reconciler and directory.
type Server struct {
	directory  *userdirectory.Directory
	reconciler *workspace.Reconciler
	log        *zap.Logger
	limiter    *rate.Limiter
}

// New builds a Server bound to a directory and reconciler.
func New(directory *userdirectory.Directory, reconciler *workspace.Reconciler, log *zap.Logger) *Server {
	return &Server{
		directory:  directory,
		reconciler: reconciler,
		log:        log,
		limiter:    rate.NewLimiter(rateLimit, rateBurst),
	}
}

// Handler builds the request mux: POST /api/query and GET /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/query", s.handleQuery)
	mux.HandleFunc("/health", s.handleHealth)
	return s.rateLimited(mux)
}

func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := io.WriteString(w, "ok"); err != nil {
		s.log.Warn("writing health response failed", zap.Error(err))
	}
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("request body: %w", err))
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}

	out, err := s.dispatch(r.Context(), req)
	if err != nil {
		s.writeEnvelopeError(w, err)
		return
	}

	s.writeOk(w, out)
}

func (s *Server) dispatch(ctx context.Context, req Request) (*Output, error) {
	set := 0
	for _, v := range []*UserRef{req.PodStart, req.PodStatus, req.PodStop} {
		if v != nil {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("request must set exactly one of PodStart, PodStatus, PodStop")
	}

	switch {
	case req.PodStart != nil:
		return s.podStart(ctx, *req.PodStart)
	case req.PodStatus != nil:
		return s.podStatus(ctx, *req.PodStatus)
	default:
		return s.podStop(ctx, *req.PodStop)
	}
}

func (s *Server) podStart(ctx context.Context, ref UserRef) (*Output, error) {
	user, err := s.directory.Verify(ref.Username, ref.SSHPublicKey)
	if err != nil {
		return nil, err
	}

	status, err := s.reconciler.EnsureWorkspace(ctx, workspace.User{Username: user.Username, SSHPublicKey: user.SSHPublicKey})
	if err != nil {
		return nil, err
	}

	return &Output{Phase: string(status.Phase), SSHAddress: sshAddress(status)}, nil
}

func (s *Server) podStatus(ctx context.Context, ref UserRef) (*Output, error) {
	user, err := s.directory.Verify(ref.Username, ref.SSHPublicKey)
	if err != nil {
		return nil, err
	}

	status, err := s.reconciler.WorkspaceStatus(ctx, workspace.User{Username: user.Username, SSHPublicKey: user.SSHPublicKey})
	if err != nil {
		return nil, err
	}

	return &Output{Phase: string(status.Phase), SSHAddress: sshAddress(status)}, nil
}

func (s *Server) podStop(ctx context.Context, ref UserRef) (*Output, error) {
	user, err := s.directory.Verify(ref.Username, ref.SSHPublicKey)
	if err != nil {
		return nil, err
	}

	if err := s.reconciler.ShutdownWorkspace(ctx, workspace.User{Username: user.Username, SSHPublicKey: user.SSHPublicKey}); err != nil {
		return nil, err
	}

	return &Output{Phase: "Stopped"}, nil
}

// sshAddress derives the reachable endpoint from the node's InternalIP
// and the service's first NodePort, omitted when either is unknown.
func sshAddress(status *workspace.Status) *SSHAddress {
	if status.Node == nil || status.Service == nil {
		return nil
	}

	var internalIP string
	for _, addr := range status.Node.Status.Addresses {
		if addr.Type == "InternalIP" {
			internalIP = addr.Address
			break
		}
	}
	if internalIP == "" || len(status.Service.Spec.Ports) == 0 {
		return nil
	}

	nodePort := status.Service.Spec.Ports[0].NodePort
	if nodePort == 0 {
		return nil
	}

	return &SSHAddress{Address: internalIP, Port: nodePort}
}

func (s *Server) writeOk(w http.ResponseWriter, out *Output) {
	s.writeEnvelope(w, http.StatusOK, Envelope{Ok: out})
}

// writeEnvelopeError maps an internal error to an HTTP status and a
// caller-safe message. AuthFailure is deliberately flattened to a
// generic message so the response never confirms or denies which
// usernames are whitelisted.
func (s *Server) writeEnvelopeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, kwoerrors.ErrAuthFailure):
		status = http.StatusUnauthorized
		message = "authentication failed"
	default:
		s.log.Warn("query failed", zap.Error(err))
	}

	s.writeEnvelope(w, status, Envelope{Error: &ErrorPayload{Message: message}})
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeEnvelope(w, status, Envelope{Error: &ErrorPayload{Message: err.Error()}})
}

func (s *Server) writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		s.log.Warn("encoding response envelope failed", zap.Error(err))
	}
}
