package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dukepan/chatroom-gateway/internal/apperr"
	"github.com/dukepan/chatroom-gateway/internal/contextkey"
	"github.com/dukepan/chatroom-gateway/internal/filestore"
	"github.com/dukepan/chatroom-gateway/internal/utils"
)

// maxUploadSize bounds the multipart form of an image upload.
const maxUploadSize = 10 << 20 // 10 MB

// HealthzHandler returns API health status
func (r *Router) HealthzHandler(w http.ResponseWriter, req *http.Request) {
	for name, checker := range r.Health {
		if err := checker.Health(req.Context()); err != nil {
			r.Logger.Warn(req.Context(), "Health check %s failed: %v", name, err)
			utils.RespondError(w, http.StatusServiceUnavailable, name+" unhealthy")
			return
		}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// UploadFileHandler stores an image that clients then reference in image messages.
func (r *Router) UploadFileHandler(w http.ResponseWriter, req *http.Request) {
	if r.Files == nil {
		utils.RespondError(w, http.StatusNotFound, "File uploads are disabled")
		return
	}

	req.Body = http.MaxBytesReader(w, req.Body, maxUploadSize)
	if err := req.ParseMultipartForm(maxUploadSize); err != nil {
		utils.RespondError(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse multipart form: %v", err))
		return
	}

	file, _, err := req.FormFile("file")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, fmt.Sprintf("Failed to get file from form: %v", err))
		return
	}
	defer file.Close()

	stored, err := r.Files.SaveImage(file)
	if errors.Is(err, filestore.ErrNotAnImage) {
		utils.RespondError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}
	if err != nil {
		r.fail(req.Context(), w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, stored)
}

// fail responds with the status derived from err. Errors outside the
// taxonomy are logged and hidden from the client.
func (r *Router) fail(ctx context.Context, w http.ResponseWriter, err error) {
	if apperr.Code(err) == apperr.CodeInternal {
		r.Logger.Error(ctx, "Request failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	utils.RespondAppError(w, err)
}

// userIDFrom returns the authenticated user. AuthMiddleware guarantees it is set.
func userIDFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(contextkey.ContextKeyUserID).(int64)
	return id
}

// positiveID parses a room or user identifier.
func positiveID(raw, name string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer: %w", name, apperr.ErrInvalidEvent)
	}
	return id, nil
}

func queryID(req *http.Request, name string) (int64, error) {
	return positiveID(req.URL.Query().Get(name), name)
}

func pathID(req *http.Request) (int64, error) {
	return positiveID(req.PathValue("id"), "id")
}
