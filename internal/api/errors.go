package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"google.golang.org/grpc/codes"

	"github.com/miradorstack/defect-analyzer/internal/loader"
	"github.com/miradorstack/defect-analyzer/internal/models"
	"github.com/miradorstack/defect-analyzer/internal/repo"
	"github.com/miradorstack/defect-analyzer/internal/services"
	"github.com/miradorstack/defect-analyzer/internal/utils"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, errorBody{Error: msg})
}

// httpStatus maps a service error to its HTTP status and public message.
// Unexpected errors expose only an AppError message, or fallback.
func httpStatus(err error, fallback string) (int, string) {
	switch {
	case errors.Is(err, models.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, loader.ErrMissingSource):
		return http.StatusNotFound, rootMessage(err, loader.ErrMissingSource)
	case errors.Is(err, repo.ErrNotFound):
		return http.StatusNotFound, "analysis not found"
	case errors.Is(err, services.ErrHistoryDisabled):
		return http.StatusNotFound, err.Error()
	default:
		return http.StatusInternalServerError, utils.PublicMessage(err, fallback)
	}
}

// grpcCode is the gRPC counterpart of httpStatus.
func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, models.ErrInvalidRequest):
		return codes.InvalidArgument
	case errors.Is(err, loader.ErrMissingSource):
		return codes.NotFound
	default:
		return codes.Internal
	}
}

// rootMessage returns the innermost error that still wraps target, dropping
// operation prefixes added on the way up.
func rootMessage(err, target error) string {
	msg := err.Error()
	for e := err; e != nil && e != target; e = errors.Unwrap(e) {
		if !errors.Is(e, target) {
			break
		}
		msg = e.Error()
	}
	return msg
}
