// Package response writes JSON and problem+json responses for handlers.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/mirrorbuddy/reliability/internal/api/middleware"
	"github.com/mirrorbuddy/reliability/internal/api/models"
)

// JSON writes data with status, echoing the request ID.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	setRequestID(w, r)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// OK writes a 200 JSON response.
func OK(w http.ResponseWriter, r *http.Request, data any) {
	JSON(w, r, http.StatusOK, data)
}

// NoContent writes a 204 No Content response.
func NoContent(w http.ResponseWriter, r *http.Request) {
	setRequestID(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// Error writes problem as application/problem+json, stamped with the request path.
func Error(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// Status writes the standard problem for status.
func Status(w http.ResponseWriter, r *http.Request, status int, detail string) {
	Error(w, r, models.NewStatusProblem(status, middleware.GetRequestID(r.Context()), detail))
}

// BadRequest writes a 400 carrying field errors.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errors []models.FieldError) {
	Error(w, r, models.NewBadRequest(middleware.GetRequestID(r.Context()), detail, errors))
}

func Unauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	Status(w, r, http.StatusUnauthorized, detail)
}

func Forbidden(w http.ResponseWriter, r *http.Request, detail string) {
	Status(w, r, http.StatusForbidden, detail)
}

func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	Status(w, r, http.StatusNotFound, detail)
}

func Conflict(w http.ResponseWriter, r *http.Request, detail string) {
	Status(w, r, http.StatusConflict, detail)
}

func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	Status(w, r, http.StatusInternalServerError, detail)
}

func ServiceUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	Status(w, r, http.StatusServiceUnavailable, detail)
}

func setRequestID(w http.ResponseWriter, r *http.Request) {
	if requestID := middleware.GetRequestID(r.Context()); requestID != "" {
		w.Header().Set("X-Request-Id", requestID)
	}
}
