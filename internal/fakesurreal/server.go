// Package fakesurreal provides a fake SurrealDB WebSocket server for testing
// the surreal backend. It speaks the JSON flavour of the SurrealDB RPC
// protocol, keeps records in memory and understands just the statements the
// backend sends.
//
// The WebSocket server is implemented using the `gws` library.
//
// To inject failures, configure stub responses that match specific RPC
// methods and parameters, optionally with a failure that delays the answer,
// sends garbage or drops the connection.
package fakesurreal

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/lxzan/gws"
)

// FailureType represents the type of failure to inject during request processing
type FailureType string

const (
	// FailureResponseDelay delays the response (sent in background)
	FailureResponseDelay FailureType = "response_delay"
	// FailureInvalidResponse sends a frame that is not JSON
	FailureInvalidResponse FailureType = "invalid_response"
	// FailureDropConnection immediately closes the underlying network connection
	FailureDropConnection FailureType = "drop_connection"
	// FailureNoResponse swallows the request
	FailureNoResponse FailureType = "no_response"
)

// RPCError is the error object of a response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type request struct {
	ID     any    `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type response struct {
	ID     any       `json:"id"`
	Error  *RPCError `json:"error,omitempty"`
	Result any       `json:"result"`
}

// RequestMatcher defines criteria for matching incoming RPC requests.
type RequestMatcher struct {
	// Method is the RPC method name to match
	Method string
	// Matcher optionally matches on the request parameters.
	Matcher func(params []any) bool
}

// StubResponse is a canned answer for matching requests. Stubs are consulted
// after authentication checks, so they only apply to signed in sessions.
type StubResponse struct {
	Matcher RequestMatcher
	// Result is returned when Error is nil.
	Result any
	Error  *RPCError
	// Failure, when set, changes how the answer is delivered.
	Failure *FailureConfig
	// Times limits how often the stub matches. Zero means always.
	Times int
}

// FailureConfig defines how and when to inject a specific failure type
type FailureConfig struct {
	Type FailureType
	// Probability of triggering this failure (0.0 to 1.0)
	Probability float64
	// Delay is used by FailureResponseDelay.
	Delay time.Duration
}

type session struct {
	namespace string
	database  string
	user      string
}

// RecordID addresses one user data record.
type RecordID struct {
	Namespace string
	Database  string
	Table     string
	Owner     string
	Key       string
}

// Record is what the server keeps for a RecordID.
type Record struct {
	Payload   any
	UpdatedAt time.Time
}

// Server is a fake SurrealDB WebSocket server.
type Server struct {
	addr     string
	listener net.Listener
	server   *gws.Server

	mu       sync.Mutex
	users    map[string]string
	sessions map[*gws.Conn]*session
	records  map[RecordID]Record
	stubs    []*StubResponse
	requests map[string]int
}

// Handler implements the gws.Handler interface for WebSocket connections
type Handler struct {
	server *Server
}

// NewServer creates a new fake server.
// Use "127.0.0.1:0" to bind to a random available port.
func NewServer(addr string) *Server {
	s := &Server{
		addr:     addr,
		users:    map[string]string{},
		sessions: map[*gws.Conn]*session{},
		records:  map[RecordID]Record{},
		requests: map[string]int{},
	}

	s.server = gws.NewServer(&Handler{server: s}, &gws.ServerOption{})
	s.server.OnError = func(_ net.Conn, err error) {
		if !errors.Is(err, net.ErrClosed) {
			log.Printf("Server error: %v", err)
		}
	}
	return s
}

// AddUser registers credentials accepted by signin.
func (s *Server) AddUser(user, pass string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user] = pass
}

// AddStubResponse adds a stub. Stubs are matched in the order they were added.
func (s *Server) AddStubResponse(stub StubResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubs = append(s.stubs, &stub)
}

// Put stores a record directly, as if another client had written it.
func (s *Server) Put(id RecordID, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = Record{Payload: payload, UpdatedAt: time.Now()}
}

// Record returns the stored record for id.
func (s *Server) Record(id RecordID) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	return r, ok
}

// Requests returns how many requests of method were received.
func (s *Server) Requests(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[method]
}

// Start starts the server and begins accepting WebSocket connections.
func (s *Server) Start() error {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		if err := s.server.RunListener(listener); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop closes the listener and every open connection.
func (s *Server) Stop() error {
	s.mu.Lock()
	for socket := range s.sessions {
		socket.NetConn().Close()
	}
	s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Address returns the actual address the server is listening on.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL returns the RPC endpoint of the server.
func (s *Server) URL() string {
	return "ws://" + s.Address() + "/rpc"
}

func (h *Handler) OnOpen(socket *gws.Conn) {
	h.server.mu.Lock()
	h.server.sessions[socket] = &session{}
	h.server.mu.Unlock()
}

func (h *Handler) OnClose(socket *gws.Conn, _ error) {
	h.server.mu.Lock()
	delete(h.server.sessions, socket)
	h.server.mu.Unlock()
}

func (h *Handler) OnPing(socket *gws.Conn, payload []byte) {
	if err := socket.WritePong(payload); err != nil {
		log.Printf("Error writing Pong: %v", err)
	}
}

func (h *Handler) OnPong(*gws.Conn, []byte) {}

func (h *Handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	var req request
	if err := json.Unmarshal(message.Bytes(), &req); err != nil {
		h.sendError(socket, nil, -32700, "Parse error")
		return
	}

	h.server.mu.Lock()
	h.server.requests[req.Method]++
	sess := h.server.sessions[socket]
	h.server.mu.Unlock()
	if sess == nil {
		return
	}

	switch req.Method {
	case "use":
		h.handleUse(socket, sess, &req)
		return
	case "signin":
		h.handleSignIn(socket, sess, &req)
		return
	}

	h.server.mu.Lock()
	ns, db, user := sess.namespace, sess.database, sess.user
	h.server.mu.Unlock()

	if ns == "" || db == "" {
		h.sendError(socket, req.ID, -32000, "There was a problem with the database: Specify a namespace and database")
		return
	}
	if user == "" {
		h.sendError(socket, req.ID, -32000, "There was a problem with the database: There was a problem with authentication: Not signed in")
		return
	}

	if stub := h.server.matchStub(&req); stub != nil {
		h.answerStub(socket, &req, stub)
		return
	}

	switch req.Method {
	case "query":
		h.handleQuery(socket, ns, db, &req)
	default:
		h.sendError(socket, req.ID, -32601, "Method not found: "+req.Method)
	}
}

func (s *Server) matchStub(req *request) *StubResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stub := range s.stubs {
		if stub.Matcher.Method != req.Method {
			continue
		}
		if stub.Matcher.Matcher != nil && !stub.Matcher.Matcher(req.Params) {
			continue
		}
		if stub.Times < 0 {
			continue
		}
		if stub.Times > 0 {
			stub.Times--
			if stub.Times == 0 {
				stub.Times = -1
			}
		}
		return stub
	}
	return nil
}

func (h *Handler) answerStub(socket *gws.Conn, req *request, stub *StubResponse) {
	answer := func() {
		if stub.Error != nil {
			h.sendError(socket, req.ID, stub.Error.Code, stub.Error.Message)
			return
		}
		h.sendResponse(socket, req.ID, stub.Result)
	}

	f := stub.Failure
	if f == nil || !shouldTriggerFailure(f.Probability) {
		answer()
		return
	}

	switch f.Type {
	case FailureResponseDelay:
		go func() {
			time.Sleep(f.Delay)
			answer()
		}()
	case FailureInvalidResponse:
		if err := socket.WriteMessage(gws.OpcodeText, []byte("{not json")); err != nil {
			log.Printf("Error writing invalid response: %v", err)
		}
	case FailureDropConnection:
		socket.NetConn().Close()
	case FailureNoResponse:
	default:
		answer()
	}
}

func (h *Handler) handleUse(socket *gws.Conn, sess *session, req *request) {
	if len(req.Params) < 2 {
		h.sendError(socket, req.ID, -32602, "handleUse: invalid params: use requires namespace and database parameters")
		return
	}
	ns, ok1 := req.Params[0].(string)
	db, ok2 := req.Params[1].(string)
	if !ok1 || !ok2 {
		h.sendError(socket, req.ID, -32602, "handleUse: invalid params: namespace and database must be strings")
		return
	}

	h.server.mu.Lock()
	sess.namespace = ns
	sess.database = db
	h.server.mu.Unlock()

	h.sendResponse(socket, req.ID, nil)
}

func (h *Handler) handleSignIn(socket *gws.Conn, sess *session, req *request) {
	if len(req.Params) < 1 {
		h.sendError(socket, req.ID, -32602, "handleSignIn: invalid params: signin requires auth data")
		return
	}
	auth, ok := req.Params[0].(map[string]any)
	if !ok {
		h.sendError(socket, req.ID, -32602, "handleSignIn: invalid params: auth data must be an object")
		return
	}
	user, _ := auth["user"].(string)
	pass, _ := auth["pass"].(string)

	h.server.mu.Lock()
	want, known := h.server.users[user]
	if !known || want != pass {
		h.server.mu.Unlock()
		h.sendError(socket, req.ID, -32000, "There was a problem with authentication")
		return
	}
	sess.user = user
	h.server.mu.Unlock()

	h.sendResponse(socket, req.ID, "token-"+user)
}

type statement struct {
	Status string `json:"status"`
	Time   string `json:"time"`
	Result any    `json:"result"`
}

func (h *Handler) handleQuery(socket *gws.Conn, ns, db string, req *request) {
	if len(req.Params) < 1 {
		h.sendError(socket, req.ID, -32602, "handleQuery: invalid params: query requires a statement")
		return
	}
	sql, _ := req.Params[0].(string)
	vars := map[string]any{}
	if len(req.Params) > 1 {
		if v, ok := req.Params[1].(map[string]any); ok {
			vars = v
		}
	}

	stmt := h.server.execute(ns, db, sql, vars)
	h.sendResponse(socket, req.ID, []statement{stmt})
}

// execute runs the two statements the surreal backend issues, selecting by
// the leading keyword and the $tb, $owner and $key variables.
func (s *Server) execute(ns, db, sql string, vars map[string]any) statement {
	tb, _ := vars["tb"].(string)
	owner, _ := vars["owner"].(string)
	key, _ := vars["key"].(string)
	if tb == "" || owner == "" {
		return statement{Status: "ERR", Time: "0ms", Result: "Missing record id variables"}
	}
	id := RecordID{Namespace: ns, Database: db, Table: tb, Owner: owner, Key: key}

	verb, _, _ := strings.Cut(strings.TrimSpace(sql), " ")
	s.mu.Lock()
	defer s.mu.Unlock()

	switch strings.ToUpper(verb) {
	case "SELECT":
		r, ok := s.records[id]
		if !ok {
			return statement{Status: "OK", Time: "0ms", Result: nil}
		}
		return statement{Status: "OK", Time: "0ms", Result: r.Payload}
	case "UPSERT":
		s.records[id] = Record{Payload: vars["payload"], UpdatedAt: time.Now()}
		return statement{Status: "OK", Time: "0ms", Result: []any{}}
	}
	return statement{Status: "ERR", Time: "0ms", Result: fmt.Sprintf("Unsupported statement: %s", verb)}
}

func (h *Handler) sendResponse(socket *gws.Conn, id, result any) {
	h.write(socket, response{ID: id, Result: result})
}

func (h *Handler) sendError(socket *gws.Conn, id any, code int, message string) {
	h.write(socket, response{ID: id, Error: &RPCError{Code: code, Message: message}})
}

func (h *Handler) write(socket *gws.Conn, resp response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Printf("Failed to marshal response: %v", err)
		return
	}
	if err := socket.WriteMessage(gws.OpcodeText, data); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}

// cryptoRandFloat64 generates a cryptographically secure random float64 in [0.0, 1.0)
func cryptoRandFloat64() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(1<<53))
	return float64(n.Int64()) / float64(1<<53)
}

func shouldTriggerFailure(probability float64) bool {
	if probability <= 0 {
		return false
	}
	if probability >= 1 {
		return true
	}
	return cryptoRandFloat64() < probability
}

// MatchMethod creates a RequestMatcher that matches only by method name
func MatchMethod(method string) RequestMatcher {
	return RequestMatcher{Method: method}
}

// MatchQuery matches query requests whose statement starts with verb.
func MatchQuery(verb string) RequestMatcher {
	return RequestMatcher{
		Method: "query",
		Matcher: func(params []any) bool {
			if len(params) == 0 {
				return false
			}
			sql, _ := params[0].(string)
			return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(sql)), strings.ToUpper(verb))
		},
	}
}

// ErrorStubResponse creates a stub response that returns an RPC error
func ErrorStubResponse(matcher RequestMatcher, code int, message string) StubResponse {
	return StubResponse{
		Matcher: matcher,
		Error:   &RPCError{Code: code, Message: message},
	}
}
