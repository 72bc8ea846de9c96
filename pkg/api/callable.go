package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	shared "github.com/trailblazerplus/server/pkg"
	httputil "github.com/trailblazerplus/server/pkg/infrastructure/http"
)

// Firebase callable status codes.
const (
	StatusUnauthenticated    = "UNAUTHENTICATED"
	StatusInvalidArgument    = "INVALID_ARGUMENT"
	StatusNotFound           = "NOT_FOUND"
	StatusFailedPrecondition = "FAILED_PRECONDITION"
	StatusInternal           = "INTERNAL"
)

const maxCallableBody = 64 << 10

var httpStatus = map[string]int{
	StatusUnauthenticated:    http.StatusUnauthorized,
	StatusInvalidArgument:    http.StatusBadRequest,
	StatusNotFound:           http.StatusNotFound,
	StatusFailedPrecondition: http.StatusBadRequest,
	StatusInternal:           http.StatusInternalServerError,
}

// CallableError is the error half of the callable envelope.
type CallableError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (e *CallableError) Error() string {
	return fmt.Sprintf("%s: %s", e.Status, e.Message)
}

type callableRequest struct {
	Data json.RawMessage `json:"data"`
}

type callableResponse struct {
	Result any            `json:"result,omitempty"`
	Error  *CallableError `json:"error,omitempty"`
}

func invalidArgument(msg string) *CallableError {
	return &CallableError{Status: StatusInvalidArgument, Message: msg}
}

// decodeData unmarshals the "data" member of the request body into v.
// An empty body or a null data member leaves v untouched.
func decodeData(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallableBody))
	if err != nil {
		return invalidArgument("Could not read request")
	}
	if len(body) == 0 {
		return nil
	}
	var req callableRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return invalidArgument("Request body must be JSON")
	}
	if len(req.Data) == 0 || string(req.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(req.Data, v); err != nil {
		return invalidArgument("Invalid request data")
	}
	return nil
}

func writeResult(w http.ResponseWriter, result any) {
	httputil.WriteJSON(w, http.StatusOK, callableResponse{Result: result})
}

func writeError(w http.ResponseWriter, cerr *CallableError) {
	status, ok := httpStatus[cerr.Status]
	if !ok {
		status = http.StatusInternalServerError
	}
	httputil.WriteJSON(w, status, callableResponse{Error: cerr})
}

// toCallableError maps internal failures to what the client is allowed to see.
// Anything unrecognised becomes INTERNAL with the operation's generic message.
func toCallableError(err error, failureMessage string) *CallableError {
	var cerr *CallableError
	if errors.As(err, &cerr) {
		return cerr
	}

	switch {
	case errors.Is(err, shared.ErrUnauthenticated):
		return &CallableError{Status: StatusUnauthenticated, Message: "Authentication required"}
	case errors.Is(err, shared.ErrNotConnected):
		return &CallableError{Status: StatusFailedPrecondition, Message: "Strava not connected"}
	case errors.Is(err, shared.ErrInvalidEnvelope):
		return &CallableError{Status: StatusFailedPrecondition, Message: "Strava connection needs to be re-established"}
	case errors.Is(err, shared.ErrInvalidActivity):
		return invalidArgument(err.Error())
	case errors.Is(err, shared.ErrUserNotFound):
		return &CallableError{Status: StatusNotFound, Message: "User not found"}
	}
	return &CallableError{Status: StatusInternal, Message: failureMessage}
}
