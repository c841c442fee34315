package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/viberelay/relay/internal/log"
)

// ToolHandler handles one tool call. It receives the raw arguments and
// returns a result or an error; errors become isError tool results, not
// RPC-level failures, so the calling model can read them.
type ToolHandler func(ctx context.Context, args json.RawMessage) (*ToolCallResult, error)

// Server implements an MCP server over stdio.
type Server struct {
	info         ImplementationInfo
	instructions string
	order        []string
	tools        map[string]Tool
	handlers     map[string]ToolHandler

	reader io.Reader
	writer io.Writer

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex

	initialized bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithInstructions sets the server instructions sent during initialization.
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// NewServer creates a new MCP server.
func NewServer(name, version string, opts ...ServerOption) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		info:     ImplementationInfo{Name: name, Version: version},
		tools:    make(map[string]Tool),
		handlers: make(map[string]ToolHandler),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterTool registers a tool with its handler. tools/list reports tools
// in registration order.
func (s *Server) RegisterTool(tool Tool, handler ToolHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tools[tool.Name]; !exists {
		s.order = append(s.order, tool.Name)
	}
	s.tools[tool.Name] = tool
	s.handlers[tool.Name] = handler
	log.Debug(log.CatMCP, "Registered tool", "name", tool.Name)
}

// Serve starts the server, reading newline-delimited JSON-RPC from stdin and
// writing responses to stdout. It returns when the input stream closes or
// Stop is called.
func (s *Server) Serve(stdin io.Reader, stdout io.Writer) error {
	s.mu.Lock()
	s.reader = stdin
	s.writer = stdout
	s.mu.Unlock()

	return s.run()
}

// ServeHTTP returns an HTTP handler speaking the same JSON-RPC protocol,
// one request per POST body.
func (s *Server) ServeHTTP() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}

		response := s.handleRequestBytes(body)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(response); err != nil {
			log.Debug(log.CatMCP, "Failed to write response", "error", err)
		}
	})
}

// handleRequestBytes processes a single JSON-RPC request and returns the
// response bytes. Used by the HTTP transport.
func (s *Server) handleRequestBytes(body []byte) []byte {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		data, _ := json.Marshal(NewErrorResponse(nil, NewParseError(err.Error())))
		return data
	}

	if isNotification(&req) {
		s.handleNotification(&req)
		return []byte("{}")
	}

	result, rpcErr := s.dispatch(&req)
	var resp *Response
	if rpcErr != nil {
		resp = NewErrorResponse(req.ID, rpcErr)
	} else {
		resp = NewResponse(req.ID, result)
	}
	data, _ := json.Marshal(resp)
	return data
}

// Stop shuts down the server; a running Serve loop exits at the next message
// boundary.
func (s *Server) Stop() {
	s.cancel()
}

func isNotification(req *Request) bool {
	return len(req.ID) == 0 || string(req.ID) == "null"
}

// run is the main stdio loop.
func (s *Server) run() error {
	scanner := bufio.NewScanner(s.reader)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.send(NewErrorResponse(nil, NewParseError(err.Error())))
			continue
		}

		if isNotification(&req) {
			s.handleNotification(&req)
		} else {
			result, rpcErr := s.dispatch(&req)
			if rpcErr != nil {
				s.send(NewErrorResponse(req.ID, rpcErr))
			} else {
				s.send(NewResponse(req.ID, result))
			}
		}

		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		default:
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	return nil
}

// dispatch routes a request to its method handler.
func (s *Server) dispatch(req *Request) (any, *RPCError) {
	log.Debug(log.CatMCP, "Handling request", "method", req.Method)

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req.Params)
	case "tools/list":
		return s.handleToolsList()
	case "tools/call":
		return s.handleToolsCall(req.Params)
	case "ping":
		return struct{}{}, nil
	default:
		return nil, NewMethodNotFound(req.Method)
	}
}

// handleNotification processes a JSON-RPC notification. Unknown notifications
// are ignored per spec.
func (s *Server) handleNotification(req *Request) {
	switch req.Method {
	case "notifications/initialized":
		s.mu.Lock()
		s.initialized = true
		s.mu.Unlock()
		log.Debug(log.CatMCP, "Client initialized")
	default:
		log.Debug(log.CatMCP, "Ignoring notification", "method", req.Method)
	}
}

func (s *Server) handleInitialize(params json.RawMessage) (any, *RPCError) {
	var p InitializeParams
	if params != nil {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, NewInvalidParams(err.Error())
		}
	}

	log.Debug(log.CatMCP, "Initialize request",
		"clientVersion", p.ProtocolVersion, "clientName", p.ClientInfo.Name)

	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: ServerCapability{
			Tools: &ToolsCapability{ListChanged: false},
		},
		ServerInfo:   s.info,
		Instructions: s.instructions,
	}, nil
}

func (s *Server) handleToolsList() (any, *RPCError) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tools := make([]Tool, 0, len(s.order))
	for _, name := range s.order {
		tools = append(tools, s.tools[name])
	}
	return ToolsListResult{Tools: tools}, nil
}

func (s *Server) handleToolsCall(params json.RawMessage) (any, *RPCError) {
	var p ToolCallParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, NewInvalidParams(err.Error())
	}

	s.mu.RLock()
	handler, ok := s.handlers[p.Name]
	s.mu.RUnlock()
	if !ok {
		return nil, NewToolNotFound(p.Name)
	}

	log.Debug(log.CatMCP, "Calling tool", "name", p.Name)

	result, err := handler(s.ctx, p.Arguments)
	if err != nil {
		log.Debug(log.CatMCP, "Tool execution failed", "name", p.Name, "error", err)
		// Surface as a tool result so the model can read and react to it.
		return ErrorResult(err.Error()), nil
	}
	return result, nil
}

// send marshals and writes a response followed by a newline.
func (s *Server) send(resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Debug(log.CatMCP, "Failed to marshal response", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return
	}

	data = append(data, '\n')
	if _, err := s.writer.Write(data); err != nil {
		log.Debug(log.CatMCP, "Failed to write response", "error", err)
	}
}
