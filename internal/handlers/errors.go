package handlers

import (
	"errors"

	"github.com/nimasrn/courier-dispatch/internal/services"
	xhttp "github.com/nimasrn/courier-dispatch/pkg/http"
	"github.com/nimasrn/courier-dispatch/pkg/logger"
)

// statusFor maps service error kinds to response codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return 404
	case errors.Is(err, services.ErrDuplicateEmail):
		return 409
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrInvalidTimeWindow),
		errors.Is(err, services.ErrQuotaExceeded),
		errors.Is(err, services.ErrInvalidTransition):
		return 400
	}
	return 500
}

func writeServiceError(ctx *xhttp.RequestCtx, err error) {
	status := statusFor(err)
	if status == 500 {
		logger.Error("request failed", "path", string(ctx.Path()), "request_id", xhttp.RequestID(ctx), "error", err)
		writeError(ctx, status, "internal error")
		return
	}
	writeError(ctx, status, err.Error())
}
