package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tipjar/core/events"
	"tipjar/core/identity"
	"tipjar/core/types"
	"tipjar/native/tipjar"
	"tipjar/observability"
	"tipjar/storage/auditlog"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	requestIDHeader = "X-Request-ID"
	rpcModule       = "tipjar"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeNotFound       = -32004
	codeLedgerError    = -32010
	codeUnauthorized   = -32001
	codeRateLimited    = -32020
)

// Ledger is the state machine surface the RPC server drives.
type Ledger interface {
	Apply(ctx context.Context, ins *types.Instruction) (*tipjar.Receipt, error)
	Profile(id identity.Identity) (*tipjar.Profile, error)
	ProfileByOwner(owner [20]byte) (identity.Identity, *tipjar.Profile, error)
	TipRecord(id identity.Identity) (*tipjar.TipRecord, error)
	WithdrawalRecord(id identity.Identity) (*tipjar.WithdrawalRecord, error)
	Profiles(owner *[20]byte) ([]tipjar.ProfileEntry, error)
	Tips(creator *identity.Identity) ([]tipjar.TipEntry, error)
	Withdrawals(creator *identity.Identity) ([]tipjar.WithdrawalEntry, error)
	Wallet(addr [20]byte) (types.Account, error)
	FeeSchedule() tipjar.FeeSchedule
}

// Auditor records submitted instructions for operators.
type Auditor interface {
	Append(ctx context.Context, entry auditlog.Entry) (auditlog.Entry, error)
	List(ctx context.Context, filter auditlog.Filter) ([]auditlog.Entry, error)
}

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	RequestsPerSecond float64
	Burst             int
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	// OperatorSecret enables HS256 bearer authentication on operator-only
	// methods. Empty leaves them open.
	OperatorSecret string
	OperatorIssuer string
}

// Server exposes the ledger over JSON-RPC 2.0, plus health, metrics and an
// event stream.
type Server struct {
	ledger  Ledger
	hub     *events.Hub
	audit   Auditor
	logger  *slog.Logger
	limiter *rateLimiter
	auth    *operatorAuth
	cfg     ServerConfig
	metrics interface {
		Observe(module, method string, status int, duration time.Duration)
		RecordThrottle(module, reason string)
	}
	handler http.Handler
}

// NewServer wires the RPC handlers. hub and audit may be nil, which disables
// the event stream and the audit log respectively.
func NewServer(ledger Ledger, hub *events.Hub, audit Auditor, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ledger:  ledger,
		hub:     hub,
		audit:   audit,
		logger:  logger.With(slog.String("component", "rpc")),
		auth:    newOperatorAuth(cfg.OperatorSecret, cfg.OperatorIssuer),
		cfg:     cfg,
		metrics: observability.ModuleMetrics(),
	}
	if cfg.RequestsPerSecond > 0 {
		s.limiter = newRateLimiter(cfg.RequestsPerSecond, cfg.Burst)
	}
	s.handler = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(withRequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Group(func(limited chi.Router) {
		if s.limiter != nil {
			limited.Use(s.limiter.middleware(s.onThrottle))
		}
		limited.Post("/", s.handle)
		limited.Get("/ws/events", s.handleEventsWS)
	})
	return otelhttp.NewHandler(r, "tipjar-rpc")
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("json-rpc server listening", slog.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("rpc shutdown: %w", err)
	}
	return nil
}

type requestIDKey struct{}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) onThrottle(w http.ResponseWriter, r *http.Request) {
	s.metrics.RecordThrottle(rpcModule, "rate_limit")
	writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// LedgerErrorData is attached to errors raised by the state machine.
type LedgerErrorData struct {
	Code   int    `json:"code"`
	Name   string `json:"name"`
	Detail string `json:"detail,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// statusOf maps an engine error to the HTTP status and JSON-RPC error.
func statusOf(err error) (int, int, interface{}) {
	if code, ok := tipjar.CodeOf(err); ok {
		data := LedgerErrorData{Code: int(code), Name: code.String()}
		var ledgerErr *tipjar.Error
		if errors.As(err, &ledgerErr) {
			data.Detail = ledgerErr.Detail
		}
		if code == tipjar.CodeProfileNotFound {
			return http.StatusNotFound, codeLedgerError, data
		}
		return http.StatusBadRequest, codeLedgerError, data
	}
	if errors.Is(err, tipjar.ErrRecordNotFound) {
		return http.StatusNotFound, codeNotFound, nil
	}
	return http.StatusInternalServerError, codeServerError, nil
}

func (s *Server) writeLedgerError(w http.ResponseWriter, id interface{}, err error) {
	status, code, data := statusOf(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("ledger failure", slog.Any("error", err))
		writeError(w, status, id, code, "internal error", nil)
		return
	}
	writeError(w, status, id, code, err.Error(), data)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	start := time.Now()
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		s.metrics.Observe(rpcModule, req.Method, recorder.status, time.Since(start))
	}()

	switch req.Method {
	case "tipjar_sendInstruction":
		s.handleSendInstruction(recorder, r, req)
	case "tipjar_getProfile":
		s.handleGetProfile(recorder, r, req)
	case "tipjar_getTip":
		s.handleGetTip(recorder, r, req)
	case "tipjar_getWithdrawal":
		s.handleGetWithdrawal(recorder, r, req)
	case "tipjar_listProfiles":
		s.handleListProfiles(recorder, r, req)
	case "tipjar_listTips":
		s.handleListTips(recorder, r, req)
	case "tipjar_listWithdrawals":
		s.handleListWithdrawals(recorder, r, req)
	case "tipjar_getWallet":
		s.handleGetWallet(recorder, r, req)
	case "tipjar_deriveIdentity":
		s.handleDeriveIdentity(recorder, r, req)
	case "tipjar_getFees":
		s.handleGetFees(recorder, r, req)
	case "tipjar_auditLog":
		s.handleAuditLog(recorder, r, req)
	default:
		writeError(recorder, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %s not found", req.Method), nil)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
