package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jjudge-oj/mediastore/internal/logging"
	"github.com/jjudge-oj/mediastore/internal/metrics"
	"github.com/jjudge-oj/mediastore/internal/services"
	"github.com/jjudge-oj/mediastore/internal/storage"
	"github.com/jjudge-oj/mediastore/internal/store"
	"github.com/jjudge-oj/mediastore/types"
)

const (
	maxMultipartMemory = 8 << 20
	formFieldFile      = "file"
	formFieldLocation  = "location"
)

// MediaHandler provides HTTP handlers for media files.
type MediaHandler struct {
	mediaService   *services.MediaService
	maxUploadBytes int64
}

// NewMediaHandler constructs a handler. maxUploadBytes <= 0 disables the
// request size limit.
func NewMediaHandler(mediaService *services.MediaService, maxUploadBytes int64) *MediaHandler {
	return &MediaHandler{
		mediaService:   mediaService,
		maxUploadBytes: maxUploadBytes,
	}
}

// MediaRouter registers media routes on the given router. Mutating routes
// are wrapped in authMiddleware when it is non-nil.
func MediaRouter(
	r chi.Router,
	mediaService *services.MediaService,
	maxUploadBytes int64,
	authMiddleware func(http.Handler) http.Handler,
) {
	handler := NewMediaHandler(mediaService, maxUploadBytes)

	protected := r
	if authMiddleware != nil {
		protected = r.With(authMiddleware)
	}

	r.Get("/", handler.ListMedia)
	r.Get("/list", handler.ListStoredFiles)
	protected.Post("/", handler.UploadMedia)
	protected.Post("/delete", handler.DeleteByPath)
	r.Route("/{mediaID}", func(r chi.Router) {
		r.Get("/", handler.GetMedia)
		r.Get("/content", handler.GetContent)
		if authMiddleware != nil {
			r.With(authMiddleware).Delete("/", handler.DeleteMedia)
		} else {
			r.Delete("/", handler.DeleteMedia)
		}
	})
}

// MediaListResponse is one page of media metadata.
type MediaListResponse struct {
	Items []types.MediaFile `json:"items"`
	Page  int               `json:"page"`
	Limit int               `json:"limit"`
	Total int               `json:"total"`
}

// DeleteByPathRequest names a stored file to remove.
type DeleteByPathRequest struct {
	FilePath string `json:"filePath"`
}

func (h *MediaHandler) UploadMedia(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	src, header, err := r.FormFile(formFieldFile)
	if err != nil {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported file type")
		return
	}
	defer src.Close()

	file, err := h.mediaService.Upload(r.Context(), services.Upload{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        src,
	}, r.FormValue(formFieldLocation))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUnsupportedType):
			writeError(w, http.StatusUnsupportedMediaType, "unsupported file type")
		case errors.Is(err, storage.ErrInvalidKey):
			writeError(w, http.StatusBadRequest, "invalid location")
		case errors.Is(err, services.ErrMoveFailed):
			logging.L().Error("upload failed", zap.String("name", header.Filename), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to store file")
		default:
			logging.L().Error("register upload failed", zap.String("name", header.Filename), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to register file")
		}
		return
	}

	logging.L().Info("media uploaded",
		zap.Int64("id", file.ID),
		zap.String("path", file.Path),
		zap.Int64("size", file.Size),
		zap.String("subject", subjectFromContext(r.Context())))
	writeJSON(w, http.StatusCreated, file)
}

func (h *MediaHandler) ListMedia(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, total, err := h.mediaService.List(r.Context(), offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list media")
		return
	}

	writeJSON(w, http.StatusOK, MediaListResponse{
		Items: items,
		Page:  page,
		Limit: limit,
		Total: total,
	})
}

func (h *MediaHandler) ListStoredFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.mediaService.GetStoredFiles(r.Context())
	if err != nil {
		if errors.Is(err, storage.ErrNoBucketSelected) {
			writeError(w, http.StatusServiceUnavailable, "no bucket selected")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to list stored files")
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (h *MediaHandler) GetMedia(w http.ResponseWriter, r *http.Request) {
	id, err := parseMediaID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	file, err := h.mediaService.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "media not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch media")
		return
	}

	writeJSON(w, http.StatusOK, file)
}

func (h *MediaHandler) GetContent(w http.ResponseWriter, r *http.Request) {
	id, err := parseMediaID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	file, err := h.mediaService.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "media not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch media")
		return
	}

	size, err := h.mediaService.SizeOf(ctx, file)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "media content not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to stat media")
		return
	}

	br, partial, err := parseRange(r.Header.Get("Range"), size)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		writeError(w, http.StatusRequestedRangeNotSatisfiable, err.Error())
		return
	}
	if !partial {
		br = byteRange{start: 0, length: size}
	}

	body, err := h.mediaService.Open(ctx, file, br.start, br.length)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "media content not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to open media")
		return
	}
	defer body.Close()

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := w.Header()
	header.Set("Content-Type", contentType)
	header.Set("Content-Length", strconv.FormatInt(br.length, 10))
	header.Set("Accept-Ranges", "bytes")
	if name := strings.TrimSpace(file.Name); name != "" {
		header.Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": name}))
	}

	status := http.StatusOK
	if partial {
		header.Set("Content-Range", br.contentRange(size))
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)

	n, err := io.Copy(w, body)
	metrics.RecordDownload(n, err == nil)
	if err != nil {
		logging.L().Warn("download interrupted", zap.Int64("id", id), zap.Int64("written", n), zap.Error(err))
	}
}

func (h *MediaHandler) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	id, err := parseMediaID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.mediaService.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "media not found")
			return
		}
		logging.L().Error("delete media failed", zap.Int64("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete media")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *MediaHandler) DeleteByPath(w http.ResponseWriter, r *http.Request) {
	var req DeleteByPathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	req.FilePath = strings.TrimSpace(req.FilePath)
	if req.FilePath == "" {
		writeError(w, http.StatusBadRequest, "filePath is required")
		return
	}

	if err := h.mediaService.Unlink(r.Context(), req.FilePath); err != nil {
		if errors.Is(err, storage.ErrInvalidKey) {
			writeError(w, http.StatusBadRequest, "invalid filePath")
			return
		}
		logging.L().Error("unlink failed", zap.String("path", req.FilePath), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete file")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
