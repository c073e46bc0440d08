package toolserver

import (
	"context"
	"encoding/json"
	"net/http"
)

// Server dispatches JSON-RPC 2.0 requests against a Registry over HTTP:
// tools/list returns the catalog, tools/call invokes a named tool.
type Server struct {
	registry *Registry
}

// NewServer constructs a Server dispatching against registry.
func NewServer(registry *Registry) *Server {
	return &Server{registry: registry}
}

// ServeHTTP implements http.Handler, decoding a single JSON-RPC request
// per POST body and writing back its Response.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, Response{JSONRPC: "2.0", Error: &RPCError{Code: ErrCodeParse, Message: err.Error()}})
		return
	}
	writeResponse(w, s.Handle(r.Context(), req))
}

// Handle dispatches a single decoded Request, independent of transport.
func (s *Server) Handle(ctx context.Context, req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}
	switch req.Method {
	case "tools/list":
		resp.Result = ToolsListResult{Tools: s.registry.List()}
	case "tools/call":
		var params ToolsCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp.Error = &RPCError{Code: ErrCodeInvalidParams, Message: err.Error()}
			return resp
		}
		tool := s.registry.Get(params.Name)
		if tool == nil {
			resp.Error = &RPCError{Code: ErrCodeMethodNotFound, Message: "unknown tool: " + params.Name}
			return resp
		}
		result, err := tool.Execute(ctx, params.Arguments)
		if err != nil {
			resp.Error = &RPCError{Code: ErrCodeInternal, Message: err.Error()}
			return resp
		}
		resp.Result = result
	default:
		resp.Error = &RPCError{Code: ErrCodeMethodNotFound, Message: "unknown method: " + req.Method}
	}
	return resp
}

func writeResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
