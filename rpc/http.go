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
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"nhbescrow/core"
	"nhbescrow/observability"
	"nhbescrow/rpc/middleware"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
)

// ServerConfig wires the HTTP surface.
type ServerConfig struct {
	Auth              middleware.AuthConfig
	RateLimit         middleware.RateLimit
	LogRequests       bool
	ServiceName       string
	ReadHeaderTimeout time.Duration
}

type Server struct {
	node    *core.Node
	cfg     ServerConfig
	logger  *slog.Logger
	auth    *middleware.Authenticator
	limiter *middleware.RateLimiter
	obs     *middleware.Observability
}

func NewServer(node *core.Node, cfg ServerConfig, logger *slog.Logger) (*Server, error) {
	if node == nil {
		return nil, errors.New("rpc: node required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Auth.Enabled && cfg.Auth.Secret == "" {
		return nil, errors.New("rpc: auth enabled without a secret")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	logger = logger.With(slog.String("component", "rpc"))
	return &Server{
		node:    node,
		cfg:     cfg,
		logger:  logger,
		auth:    middleware.NewAuthenticator(cfg.Auth, logger),
		limiter: middleware.NewRateLimiter(cfg.RateLimit, logger),
		obs: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: cfg.ServiceName,
			LogRequests: cfg.LogRequests,
		}, logger),
	}, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", s.obs.MetricsHandler())
	r.Group(func(api chi.Router) {
		api.Use(s.limiter.Middleware())
		api.Use(s.auth.Middleware())
		api.With(s.obs.Middleware("jsonrpc")).Post("/", s.handle)
		api.Get("/ws/events", s.handleEventsWS)
	})
	return otelhttp.NewHandler(r, "escrow-rpc")
}

// Start serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting JSON-RPC server", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("rpc shutdown: %w", err)
		}
		return nil
	}
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

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
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
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, req *RPCRequest)

func (s *Server) methods() map[string]handlerFunc {
	return map[string]handlerFunc{
		"escrow_openTrade":       s.handleOpenTrade,
		"escrow_confirmTrade":    s.handleConfirmTrade,
		"escrow_cancelTrade":     s.handleCancelTrade,
		"escrow_checkReleasable": s.handleCheckReleasable,
		"escrow_performRelease":  s.handlePerformRelease,
		"escrow_withdraw":        s.handleWithdraw,
		"escrow_getTrade":        s.handleGetTrade,
		"escrow_listTrades":      s.handleListTrades,
		"escrow_tradeCount":      s.handleTradeCount,
		"escrow_pendingTrades":   s.handlePendingTrades,
		"escrow_custody":         s.handleCustody,
		"escrow_audit":           s.handleAudit,
		"escrow_info":            s.handleInfo,
		"bank_balance":           s.handleBalance,
		"bank_allowance":         s.handleAllowance,
		"bank_approve":           s.handleApprove,
		"bank_transfer":          s.handleTransfer,
		"bank_mint":              s.handleMint,
		"bank_tokens":            s.handleTokens,
	}
}

// handle decodes one JSON-RPC request and routes it.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

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
	handler, ok := s.methods()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	module, _, _ := strings.Cut(req.Method, "_")
	rec := &methodRecorder{ResponseWriter: w, status: http.StatusOK}
	start := time.Now()
	handler(rec, r, req)
	observability.ModuleMetrics().Observe(module, req.Method, rec.status, time.Since(start))
}

type methodRecorder struct {
	http.ResponseWriter
	status int
}

func (m *methodRecorder) WriteHeader(status int) {
	m.status = status
	m.ResponseWriter.WriteHeader(status)
}

// decodeParams unmarshals the single parameter object. An absent parameter
// leaves out untouched.
func decodeParams(req *RPCRequest, out interface{}) error {
	switch len(req.Params) {
	case 0:
		return nil
	case 1:
		dec := json.NewDecoder(bytes.NewReader(req.Params[0]))
		dec.DisallowUnknownFields()
		return dec.Decode(out)
	default:
		return errors.New("exactly one parameter object expected")
	}
}
