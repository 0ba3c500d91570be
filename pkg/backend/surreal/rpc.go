package surreal

import (
	"fmt"

	"github.com/buger/jsonparser"
)

// RPC methods understood by the server.
const (
	methodUse    = "use"
	methodSignIn = "signin"
	methodQuery  = "query"
)

// RPCError represents a JSON-RPC error
type RPCError struct {
	Code    int64  `json:"code"`
	Message string `json:"message,omitempty"`
}

func (r *RPCError) Error() string {
	return fmt.Sprintf("surreal: rpc error %d: %s", r.Code, r.Message)
}

// RPCRequest represents an outgoing JSON-RPC request
type RPCRequest struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params,omitempty"`
}

// rawResponse is a response frame as read from the socket. Only the id and
// error are parsed up front; the result is extracted by the caller.
type rawResponse struct {
	data []byte
}

func (res rawResponse) id() (string, error) {
	return jsonparser.GetString(res.data, "id")
}

// err returns the RPC error carried by the frame, if any.
func (res rawResponse) err() error {
	value, dataType, _, err := jsonparser.Get(res.data, "error")
	if dataType == jsonparser.NotExist || dataType == jsonparser.Null {
		return nil
	}
	if err != nil {
		return fmt.Errorf("surreal: malformed error in response: %w", err)
	}
	if dataType != jsonparser.Object {
		return &RPCError{Code: -1, Message: string(value)}
	}

	rpcErr := &RPCError{}
	rpcErr.Message, _ = jsonparser.GetString(value, "message")
	rpcErr.Code, _ = jsonparser.GetInt(value, "code")
	return rpcErr
}

// result returns the raw JSON of the result field.
func (res rawResponse) result() ([]byte, jsonparser.ValueType, error) {
	value, dataType, _, err := jsonparser.Get(res.data, "result")
	if dataType == jsonparser.NotExist {
		return nil, jsonparser.Null, nil
	}
	return value, dataType, err
}

// QueryError is a statement of a query that did not succeed.
type QueryError struct {
	Status  string
	Message string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("surreal: query %s: %s", e.Status, e.Message)
}

// firstStatement returns the result of the first statement of a query
// response, or the statement's error.
func firstStatement(result []byte) ([]byte, jsonparser.ValueType, error) {
	stmt, dataType, _, err := jsonparser.Get(result, "[0]")
	if err != nil || dataType != jsonparser.Object {
		return nil, jsonparser.NotExist, fmt.Errorf("surreal: query returned no statements")
	}

	status, err := jsonparser.GetString(stmt, "status")
	if err != nil {
		return nil, jsonparser.NotExist, fmt.Errorf("surreal: statement without status: %w", err)
	}
	if status != "OK" {
		msg, _ := jsonparser.GetString(stmt, "result")
		return nil, jsonparser.NotExist, &QueryError{Status: status, Message: msg}
	}

	value, dataType, _, err := jsonparser.Get(stmt, "result")
	if dataType == jsonparser.NotExist {
		return nil, jsonparser.Null, nil
	}
	return value, dataType, err
}
