package api

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/imgpipe/imgpipe/pkg/errors"
	"github.com/imgpipe/imgpipe/pkg/images"
)

// multipartOverhead leaves room for form fields around the file part.
const multipartOverhead = 1 << 20

// writeError maps service errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, images.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, images.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, images.ErrStorage):
		slog.Error("http_storage_error", "path", c.Request.URL.Path, "request_id", c.GetString(ctxRequestID), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store image"})
	default:
		slog.Error("http_internal_error", "path", c.Request.URL.Path, "request_id", c.GetString(ctxRequestID), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func parseID(c *gin.Context, raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid id: "+raw)
		return 0, false
	}
	return id, true
}

func (s *Server) handleUpload(c *gin.Context) {
	if s.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadSize+multipartOverhead)
	}

	file, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "file is required")
		return
	}
	src, err := file.Open()
	if err != nil {
		writeError(c, errors.Wrap(err, "failed to open upload"))
		return
	}
	defer src.Close()

	var r io.Reader = src
	if s.maxUploadSize > 0 {
		// One extra byte lets the validator see the payload is too large.
		r = io.LimitReader(src, s.maxUploadSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		writeError(c, errors.Wrap(err, "failed to read upload"))
		return
	}

	res, err := s.svc.Upload(c.Request.Context(), images.UploadInput{
		Name:        c.PostForm("name"),
		Description: c.PostForm("description"),
		Filename:    file.Filename,
		Data:        data,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) handleListImages(c *gin.Context) {
	imgs, err := s.svc.ListImages(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(imgs), "images": imgs})
}

func (s *Server) handleListByStatus(c *gin.Context) {
	status := c.Param("status")
	imgs, err := s.svc.ListImagesByStatus(c.Request.Context(), status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(imgs), "status": status, "images": imgs})
}

func (s *Server) handleGetImage(c *gin.Context) {
	id, ok := parseID(c, c.Param("id"))
	if !ok {
		return
	}
	img, err := s.svc.GetImage(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, img)
}

func (s *Server) handleDeleteImage(c *gin.Context) {
	id, ok := parseID(c, c.Param("id"))
	if !ok {
		return
	}
	if err := s.svc.DeleteImage(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListTasks(c *gin.Context) {
	id, ok := parseID(c, c.Param("id"))
	if !ok {
		return
	}
	tasks, err := s.svc.ListTasks(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (s *Server) handleSubmitTask(c *gin.Context) {
	raw := c.PostForm("image_id")
	if raw == "" {
		badRequest(c, "image_id is required")
		return
	}
	imageID, ok := parseID(c, raw)
	if !ok {
		return
	}
	task, err := s.svc.SubmitTask(c.Request.Context(), imageID, c.PostForm("processing_type"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

type statusUpdate struct {
	Status        string `json:"status" binding:"required"`
	ProcessedPath string `json:"processed_path"`
}

func (s *Server) handleUpdateTaskStatus(c *gin.Context) {
	id, ok := parseID(c, c.Param("id"))
	if !ok {
		return
	}
	var body statusUpdate
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "body must be JSON with a status field")
		return
	}
	task, err := s.svc.UpdateTaskStatus(c.Request.Context(), id, body.Status, body.ProcessedPath)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.svc.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleObject(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	data, contentType, ok := s.objects.Object(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.Data(http.StatusOK, contentType, data)
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health != nil {
		if err := s.health.Ping(c.Request.Context()); err != nil {
			slog.Error("health_check_failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
