package jsonrpc

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Server handles JSON-RPC 2.0 requests over a Transport.
type Server struct {
	registry *MethodRegistry
	logger   *slog.Logger
}

// NewServer creates a JSON-RPC server with the given method registry.
func NewServer(registry *MethodRegistry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{registry: registry, logger: logger}
}

// ServeTransport reads requests from the transport and writes responses.
// It runs until the transport's reader returns io.EOF, a read error, or ctx
// is done. Requests are handled one at a time, in arrival order.
func (s *Server) ServeTransport(ctx context.Context, t *Transport) {
	conn := uuid.NewString()
	logger := s.logger.With("conn", conn)
	logger.Debug("rpc connection opened")
	defer logger.Debug("rpc connection closed")

	for {
		if ctx.Err() != nil {
			return
		}
		req, rawJSON, err := t.ReadRequest()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			logger.Debug("read error", "error", err)
			resp := &Response{
				JSONRPC: "2.0",
				Error:   ErrParseError(err.Error()),
				ID:      json.RawMessage("null"),
			}
			if writeErr := t.WriteResponse(resp); writeErr != nil {
				logger.Debug("write error", "error", writeErr)
			}
			return
		}

		// Requests without an "id" key are notifications and get no response.
		isNotification := !hasIDField(rawJSON)

		if req.JSONRPC != "2.0" {
			if isNotification {
				continue
			}
			if !s.write(logger, t, &Response{JSONRPC: "2.0", Error: ErrInvalidRequest("jsonrpc field must be \"2.0\""), ID: req.ID}) {
				return
			}
			continue
		}

		handler := s.registry.Lookup(req.Method)
		if handler == nil {
			if isNotification {
				continue
			}
			if !s.write(logger, t, &Response{JSONRPC: "2.0", Error: ErrMethodNotFound(req.Method), ID: req.ID}) {
				return
			}
			continue
		}

		logger.Debug("rpc request", "method", req.Method, "id", string(req.ID))
		result, rpcErr := handler(ctx, req.Params)
		if rpcErr != nil {
			logger.Debug("rpc error", "method", req.Method, "code", rpcErr.Code, "error", rpcErr.Message)
		}

		if isNotification {
			continue
		}

		resp := &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
		}
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			resp.Result = result
		}
		if !s.write(logger, t, resp) {
			return
		}
	}
}

func (s *Server) write(logger *slog.Logger, t *Transport, resp *Response) bool {
	if err := t.WriteResponse(resp); err != nil {
		logger.Debug("write error", "error", err)
		return false
	}
	return true
}

// hasIDField checks whether the raw JSON contains an "id" key at the top level.
func hasIDField(raw []byte) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return false
	}
	_, exists := obj["id"]
	return exists
}

// ServeStdio runs the server on stdin/stdout.
func (s *Server) ServeStdio(ctx context.Context, stdin io.Reader, stdout io.Writer) {
	s.ServeTransport(ctx, NewTransport(stdin, stdout))
}
