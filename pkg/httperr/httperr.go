// Package httperr turns domain error kinds into HTTP responses with a stable
// JSON body: {"error": {"code": "...", "message": "..."}}.
package httperr

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/dmehra2102/scrap-pickup/pkg/apperr"
)

const (
	CodeNotFound            = "NOT_FOUND"
	CodeInvalidState        = "INVALID_STATE"
	CodeConflict            = "CONFLICT"
	CodeForbidden           = "FORBIDDEN"
	CodeUnauthenticated     = "UNAUTHENTICATED"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeInternal            = "INTERNAL"
)

type Body struct {
	Error Detail `json:"error"`
}

type Detail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var kinds = []struct {
	err    error
	status int
	code   string
}{
	{apperr.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{apperr.ErrInvalidState, http.StatusBadRequest, CodeInvalidState},
	{apperr.ErrConflict, http.StatusConflict, CodeConflict},
	{apperr.ErrForbidden, http.StatusForbidden, CodeForbidden},
	{apperr.ErrInvalidInput, http.StatusBadRequest, CodeInvalidInput},
	{apperr.ErrUpstreamUnavailable, http.StatusBadGateway, CodeUpstreamUnavailable},
}

// Classify returns the status and code for err. Unknown errors are INTERNAL.
func Classify(err error) (int, string) {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status, k.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

// Write responds with the mapped status. Internal errors are logged and their
// text never reaches the client.
func Write(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status, code := Classify(err)
	msg := err.Error()
	if code == CodeInternal {
		log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		msg = "internal server error"
	}
	Respond(w, r, status, code, msg)
}

func Respond(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	render.Status(r, status)
	render.JSON(w, r, Body{Error: Detail{Code: code, Message: msg}})
}
