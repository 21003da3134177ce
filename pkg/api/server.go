// Package api exposes the image pipeline over HTTP using gin.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imgpipe/imgpipe/pkg/images"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service is what the handlers need from the images package.
type Service interface {
	Upload(ctx context.Context, in images.UploadInput) (*images.UploadResult, error)
	GetImage(ctx context.Context, id int64) (*images.View, error)
	ListImages(ctx context.Context) ([]*images.View, error)
	ListImagesByStatus(ctx context.Context, status string) ([]*images.View, error)
	DeleteImage(ctx context.Context, id int64) error
	SubmitTask(ctx context.Context, imageID int64, processingType string) (*images.TaskView, error)
	ListTasks(ctx context.Context, imageID int64) ([]*images.TaskView, error)
	UpdateTaskStatus(ctx context.Context, taskID int64, status, processedPath string) (*images.TaskView, error)
	Stats(ctx context.Context) (*images.Statistics, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ObjectReader returns a stored object and its content type.
type ObjectReader interface {
	Object(key string) ([]byte, string, bool)
}

// Server holds the HTTP handlers
type Server struct {
	svc           Service
	health        Pinger
	gatherer      prometheus.Gatherer
	objects       ObjectReader
	maxUploadSize int64
}

// Option configures a Server.
type Option func(*Server)

// WithObjects serves stored objects under /blobs. Used with the in-memory
// blob backend, whose public URLs point back at this server.
func WithObjects(objects ObjectReader) Option {
	return func(s *Server) { s.objects = objects }
}

// NewServer creates the handler set. gatherer may be nil to disable /metrics.
func NewServer(svc Service, health Pinger, gatherer prometheus.Gatherer, maxUploadSize int64, opts ...Option) *Server {
	s := &Server{svc: svc, health: health, gatherer: gatherer, maxUploadSize: maxUploadSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine with middleware and routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(recovery(), requestID(), requestLogger(), cors())

	api := r.Group("/api")
	{
		api.POST("/images", s.handleUpload)
		api.GET("/images", s.handleListImages)
		api.GET("/images/status", s.handleListByStatus)
		api.GET("/images/status/:status", s.handleListByStatus)
		api.GET("/images/:id", s.handleGetImage)
		api.DELETE("/images/:id", s.handleDeleteImage)
		api.GET("/images/:id/tasks", s.handleListTasks)
		api.POST("/tasks", s.handleSubmitTask)
		api.PUT("/tasks/:id/status", s.handleUpdateTaskStatus)
		api.GET("/stats", s.handleStats)
	}

	r.GET("/healthz", s.handleHealth)
	if s.objects != nil {
		r.GET("/blobs/*key", s.handleObject)
	}
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return r
}
