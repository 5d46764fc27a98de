package handler

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// HTTPError is an error that knows which status and message the client
// should see.
type HTTPError struct {
	Status  int
	Message string
	Err     error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error { return e.Err }

// ErrNotFound is returned when no item in the collection has the path id.
var ErrNotFound = &HTTPError{Status: http.StatusNotFound, Message: "Not found"}

func badRequest(msg string, err error) error {
	return &HTTPError{Status: http.StatusBadRequest, Message: msg, Err: err}
}

// WriteError is the single place a failed request becomes a response.
// Errors without a status are reported as 500 with a generic message;
// anything at or above 500 is logged with its cause first.
func WriteError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status := http.StatusInternalServerError
	message := http.StatusText(http.StatusInternalServerError)

	var he *HTTPError
	if errors.As(err, &he) {
		if he.Status != 0 {
			status = he.Status
		}
		if he.Message != "" {
			message = he.Message
		}
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeJSON(w, status, map[string]string{"error": message})
}
