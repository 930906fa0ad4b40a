// Package httpapi is the thin HTTP front-end spec.md §1 leaves as an
// external collaborator: one POST endpoint that reads a GQL request body,
// hands it to the dispatcher, and writes back the decoded JSON document or a
// GraphQL-shaped error envelope. It carries no auth, CORS, or rate-limit
// stack — those are the teacher's, and spec.md's scope doesn't call for them
// — but it keeps the ambient request logging middleware
// (internal/middleware.LoggingMiddleware), since that's carried regardless
// of what features a Non-goal excludes.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/relgql/relgql/internal/dbexec"
	"github.com/relgql/relgql/internal/decoder"
	"github.com/relgql/relgql/internal/dispatcher"
	"github.com/relgql/relgql/internal/gqlrequest"
	"github.com/relgql/relgql/internal/logging"
	"github.com/relgql/relgql/internal/planner"
	"github.com/relgql/relgql/internal/schema"
)

// Handler serves one GQL-over-HTTP endpoint backed by a dispatcher.Dispatcher.
type Handler struct {
	Dispatcher *dispatcher.Dispatcher
}

func NewHandler(d *dispatcher.Dispatcher) *Handler {
	return &Handler{Dispatcher: d}
}

type requestBody struct {
	Query         string `json:"query"`
	OperationName string `json:"operationName"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "only POST is supported")
		return
	}

	var body requestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if body.Query == "" {
		writeError(w, http.StatusBadRequest, "missing query")
		return
	}

	logger := logging.FromContext(r.Context())

	doc, err := h.Dispatcher.Dispatch(r.Context(), body.Query, body.OperationName)
	if err != nil {
		status := statusForError(err)
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", "error", err)
		}
		writeError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"data":`))
	_, _ = w.Write([]byte(doc))
	_, _ = w.Write([]byte(`}`))
}

// statusForError maps the §7 error kinds to an HTTP status: parse,
// unsupported-operation and plan errors are the caller's fault (400), driver
// errors map to 502, and schema, decode and any other errors map to 500. No
// kind is retried here — retry policy belongs to the caller.
func statusForError(err error) int {
	var parseErr *gqlrequest.ParseError
	var unsupportedErr *gqlrequest.UnsupportedOperation
	var planErr *planner.PlanError
	var schemaErr *schema.SchemaError
	var driverErr *dbexec.DriverError
	var decodeErr *decoder.DecodeError

	switch {
	case errors.As(err, &parseErr), errors.As(err, &unsupportedErr), errors.As(err, &planErr):
		return http.StatusBadRequest
	case errors.As(err, &schemaErr):
		return http.StatusInternalServerError
	case errors.As(err, &driverErr):
		return http.StatusBadGateway
	case errors.As(err, &decodeErr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"errors": []map[string]string{{"message": message}},
	})
}
