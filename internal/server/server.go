package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"mediapipe/internal/logging"
	"mediapipe/internal/models"
	"mediapipe/internal/pipeline"
)

// multipart framing allowance on top of the file size limit
const formOverhead = 1 << 20

type Processor interface {
	Process(ctx context.Context, up pipeline.Upload) (*pipeline.Result, error)
	Reprocess(ctx context.Context, id uuid.UUID, usage models.UsageContext) (*pipeline.Result, error)
}

type Catalog interface {
	Get(ctx context.Context, id uuid.UUID) (*models.AssetRecord, error)
	List(ctx context.Context, limit, offset int) ([]*models.AssetRecord, error)
	UpdateAltText(ctx context.Context, id uuid.UUID, text string) (*models.AssetRecord, error)
	Delete(ctx context.Context, id uuid.UUID) (*models.AssetRecord, error)
}

type BreakpointNames interface {
	Names(usage models.UsageContext) []string
}

// Events is optional. When set, deletes are announced and reprocess
// requests are queued instead of run inline.
type Events interface {
	AssetDeleted(ctx context.Context, a *models.AssetRecord) error
	RequestReprocess(ctx context.Context, id uuid.UUID, usage models.UsageContext) error
}

type Deps struct {
	Processor   Processor
	Catalog     Catalog
	Breakpoints BreakpointNames
	Events      Events
	Logger      *slog.Logger
}

type Server struct {
	cfg       models.ServerConfig
	router    *gin.Engine
	http      *http.Server
	proc      Processor
	catalog   Catalog
	names     BreakpointNames
	events    Events
	codecs    []models.Codec
	maxUpload int64
	logger    *slog.Logger
}

func NewServer(cfg *models.Config, deps Deps) (*Server, error) {
	maxUpload, err := cfg.Pipeline.MaxUploadBytes()
	if err != nil {
		return nil, err
	}

	r := gin.New()
	s := &Server{
		cfg:       cfg.Server,
		router:    r,
		proc:      deps.Processor,
		catalog:   deps.Catalog,
		names:     deps.Breakpoints,
		events:    deps.Events,
		codecs:    cfg.CodecOrder(),
		maxUpload: maxUpload,
		logger:    logging.NewComponentLogger(deps.Logger, "server"),
	}
	s.http = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	r.Use(gin.Recovery(), requestLogger(s.logger))

	limit := newIPLimiter(cfg.Server.UploadRate, cfg.Server.UploadBurst).middleware()

	r.GET("/healthz", s.handleHealth)
	r.POST("/assets", limit, s.handleUpload)
	r.GET("/assets", s.handleListAssets)
	r.GET("/assets/:id", s.handleGetAsset)
	r.PATCH("/assets/:id", s.handleUpdateAltText)
	r.DELETE("/assets/:id", s.handleDeleteAsset)
	r.GET("/assets/:id/descriptor", s.handleDescriptor)
	r.POST("/assets/:id/reprocess", limit, s.handleReprocess)

	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks until the server stops. A graceful Stop is not an error.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.cfg.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
