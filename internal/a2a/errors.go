package a2a

import (
	"errors"
	"fmt"
)

// JSON-RPC error codes. Standard range plus the custom range used by the
// Babylon A2A protocol starting at -32000.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeNotAuthenticated     = -32000
	CodeAuthenticationFailed = -32001
	CodeAgentNotFound        = -32002
	CodeMarketNotFound       = -32003
	CodeCoalitionNotFound    = -32004
	CodePaymentFailed        = -32005
	CodeRateLimitExceeded    = -32006
	CodeInvalidSignature     = -32007
	CodeExpiredRequest       = -32008
)

// RPCError is the wire-visible error of the protocol. It implements error so
// handlers can return it directly.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func ErrParseError() *RPCError {
	return &RPCError{Code: CodeParseError, Message: "Parse error"}
}

func ErrInvalidRequest() *RPCError {
	return &RPCError{Code: CodeInvalidRequest, Message: "Invalid request"}
}

func ErrMethodNotFound(method string) *RPCError {
	return &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("Method not found: %s", method)}
}

func ErrInvalidParams(reason string) *RPCError {
	return &RPCError{Code: CodeInvalidParams, Message: fmt.Sprintf("Invalid params: %s", reason)}
}

func ErrInternal() *RPCError {
	return &RPCError{Code: CodeInternalError, Message: "Internal error"}
}

func ErrNotAuthenticated() *RPCError {
	return &RPCError{Code: CodeNotAuthenticated, Message: "Not authenticated"}
}

func ErrAuthenticationFailed(reason string) *RPCError {
	return &RPCError{Code: CodeAuthenticationFailed, Message: fmt.Sprintf("Authentication failed: %s", reason)}
}

func ErrAgentNotFound(agentID string) *RPCError {
	return &RPCError{Code: CodeAgentNotFound, Message: fmt.Sprintf("Agent not found: %s", agentID)}
}

func ErrMarketNotFound(marketID string) *RPCError {
	return &RPCError{Code: CodeMarketNotFound, Message: fmt.Sprintf("Market not found: %s", marketID)}
}

func ErrCoalitionNotFound(coalitionID string) *RPCError {
	return &RPCError{Code: CodeCoalitionNotFound, Message: fmt.Sprintf("Coalition not found: %s", coalitionID)}
}

func ErrPaymentFailed(reason string) *RPCError {
	return &RPCError{Code: CodePaymentFailed, Message: fmt.Sprintf("Payment failed: %s", reason)}
}

func ErrRateLimitExceeded() *RPCError {
	return &RPCError{Code: CodeRateLimitExceeded, Message: "Rate limit exceeded"}
}

func ErrInvalidSignature() *RPCError {
	return &RPCError{Code: CodeInvalidSignature, Message: "Invalid signature"}
}

func ErrExpiredRequest(reason string) *RPCError {
	return &RPCError{Code: CodeExpiredRequest, Message: fmt.Sprintf("Expired request: %s", reason)}
}

// AsRPCError converts any error to its wire form. Typed protocol errors pass
// through; everything else is an infrastructure failure and surfaces as a
// generic InternalError so no internal detail leaks onto the wire.
func AsRPCError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return ErrInternal()
}
