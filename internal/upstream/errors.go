package upstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for callers that must pick a status code or a
// user-facing message.
type Kind uint8

const (
	KindValidation Kind = iota + 1
	KindUpstream
	KindSemantic
	KindLocal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUpstream:
		return "upstream"
	case KindSemantic:
		return "semantic"
	case KindLocal:
		return "local"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind name in JSON payloads.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Error is a classified failure of one operation. Details carries the raw
// upstream body (string) for KindUpstream and the GraphQL errors list for
// KindSemantic.
type Error struct {
	Op      string
	Step    string
	Kind    Kind
	Status  int
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := e.Op
	if e.Step != "" {
		op += "/" + e.Step
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d)", op, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", op, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithCause returns a copy of e wrapping cause. Used by flows to attach
// the caller-facing sentinel.
func (e *Error) WithCause(cause error) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Err = cause
	return &cp
}

// WithStep returns a copy of e tagged with a workflow step.
func (e *Error) WithStep(step string) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Step = step
	return &cp
}

// AsError extracts an *Error from err.
func AsError(err error) (*Error, bool) {
	var ue *Error
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// Classify returns err as an *Error tagged with cause. Unclassified errors
// become KindLocal with status 500.
func Classify(op string, err error, cause error) *Error {
	if err == nil {
		return nil
	}
	if ue, ok := AsError(err); ok {
		if cause == nil || errors.Is(ue.Err, cause) {
			return ue
		}
		return ue.WithCause(joinCause(cause, ue.Err))
	}
	return &Error{
		Op:      op,
		Kind:    KindLocal,
		Status:  http.StatusInternalServerError,
		Message: err.Error(),
		Details: err.Error(),
		Err:     joinCause(cause, err),
	}
}

func joinCause(cause, err error) error {
	if cause == nil {
		return err
	}
	if err == nil {
		return cause
	}
	return fmt.Errorf("%w: %w", cause, err)
}

func rejection(op, message string, resp *Response) *Error {
	return &Error{
		Op:      op,
		Kind:    KindUpstream,
		Status:  resp.Status,
		Message: message,
		Details: string(resp.Body),
	}
}

func semantic(op string, errs []GraphQLError) *Error {
	msg := "upstream reported an error"
	if len(errs) > 0 && errs[0].Message != "" {
		msg = errs[0].Message
	}
	return &Error{
		Op:      op,
		Kind:    KindSemantic,
		Status:  http.StatusBadRequest,
		Message: msg,
		Details: errs,
	}
}

func local(op, message string, err error) *Error {
	details := message
	if err != nil {
		details = err.Error()
	}
	return &Error{
		Op:      op,
		Kind:    KindLocal,
		Status:  http.StatusInternalServerError,
		Message: message,
		Details: details,
		Err:     err,
	}
}

// GraphQLError is one entry of a GraphQL errors array. Unknown members are
// preserved in Extra.
type GraphQLError struct {
	Message string         `json:"message"`
	Path    []any          `json:"path,omitempty"`
	Extra   map[string]any `json:"-"`
}

func (g *GraphQLError) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if msg, ok := raw["message"].(string); ok {
		g.Message = msg
	}
	if path, ok := raw["path"].([]any); ok {
		g.Path = path
	}
	delete(raw, "message")
	delete(raw, "path")
	if len(raw) > 0 {
		g.Extra = raw
	}
	return nil
}

func (g GraphQLError) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(g.Extra)+2)
	for k, v := range g.Extra {
		out[k] = v
	}
	out["message"] = g.Message
	if len(g.Path) > 0 {
		out["path"] = g.Path
	}
	return json.Marshal(out)
}

// Validation returns a KindValidation error with status 400 wrapping cause.
// The static message doubles as the details.
func Validation(op, message string, cause error) *Error {
	return &Error{
		Op:      op,
		Kind:    KindValidation,
		Status:  http.StatusBadRequest,
		Message: message,
		Details: message,
		Err:     cause,
	}
}
