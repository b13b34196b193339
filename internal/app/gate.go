// internal/app/gate.go
package app

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
)

var ErrUnauthenticated = fmt.Errorf("missing or invalid bearer credential")
var ErrMethodNotAllowed = fmt.Errorf("method not allowed")

// Decision is what the gate lets an invocation do.
type Decision int

const (
	DecisionDeny    Decision = iota
	DecisionInspect          // liveness only; never scans or sends
	DecisionProcess
)

func (d Decision) String() string {
	switch d {
	case DecisionInspect:
		return "inspect"
	case DecisionProcess:
		return "process"
	default:
		return "deny"
	}
}

// Gate authorizes trigger requests before any work happens.
type Gate struct {
	secret   []byte
	expected []byte // "Bearer <secret>", matched byte for byte
}

func NewGate(secret string) *Gate {
	return &Gate{secret: []byte(secret), expected: []byte("Bearer " + secret)}
}

// Authorize checks the request verb and the Authorization header value, which must be
// exactly "Bearer <secret>".
// An empty configured secret rejects every processing request.
func (g *Gate) Authorize(method, authorization string) (Decision, error) {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead:
		return DecisionInspect, nil
	case http.MethodPost:
	default:
		return DecisionDeny, ErrMethodNotAllowed
	}

	if len(g.secret) == 0 {
		return DecisionDeny, ErrUnauthenticated
	}
	if subtle.ConstantTimeCompare([]byte(authorization), g.expected) != 1 {
		return DecisionDeny, ErrUnauthenticated
	}
	return DecisionProcess, nil
}
