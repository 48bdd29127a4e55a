package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"mediapipe/internal/models"
	"mediapipe/internal/pipeline"
	"mediapipe/internal/responsive"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleUpload(c *gin.Context) {
	const op = "server.handleUpload"

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload+formOverhead)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds size limit"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing 'file' form field"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	usage, err := s.usageParam(c.PostForm("usage"))
	if err != nil {
		s.writeError(c, op, err)
		return
	}

	res, err := s.proc.Process(c.Request.Context(), pipeline.Upload{
		Filename: header.Filename,
		Data:     data,
		AltText:  c.PostForm("alt"),
		Usage:    usage,
	})
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) handleListAssets(c *gin.Context) {
	const op = "server.handleListAssets"

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	assets, err := s.catalog.List(c.Request.Context(), limit, offset)
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	if assets == nil {
		assets = []*models.AssetRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"assets": assets, "limit": limit, "offset": offset})
}

func (s *Server) handleGetAsset(c *gin.Context) {
	const op = "server.handleGetAsset"

	id, ok := s.assetID(c)
	if !ok {
		return
	}
	a, err := s.catalog.Get(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

type altTextRequest struct {
	AltText *string `json:"alt_text"`
}

func (s *Server) handleUpdateAltText(c *gin.Context) {
	const op = "server.handleUpdateAltText"

	id, ok := s.assetID(c)
	if !ok {
		return
	}
	var req altTextRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AltText == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"alt_text\": \"...\"}"})
		return
	}
	a, err := s.catalog.UpdateAltText(c.Request.Context(), id, *req.AltText)
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) handleDeleteAsset(c *gin.Context) {
	const op = "server.handleDeleteAsset"

	id, ok := s.assetID(c)
	if !ok {
		return
	}
	a, err := s.catalog.Delete(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	if s.events != nil {
		if err := s.events.AssetDeleted(c.Request.Context(), a); err != nil {
			s.logger.Warn("delete event not delivered", slog.String("asset_id", id.String()), slog.Any("error", err))
		}
	}
	c.Status(http.StatusNoContent)
}

// handleDescriptor renders the responsive descriptor as JSON, or as a
// <picture> element with ?format=html.
func (s *Server) handleDescriptor(c *gin.Context) {
	const op = "server.handleDescriptor"

	id, ok := s.assetID(c)
	if !ok {
		return
	}
	a, err := s.catalog.Get(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	usage, err := s.usageParam(c.Query("usage"))
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	if usage == "" {
		usage = a.Usage
	}

	d, err := responsive.Build(a, usage, s.names.Names(usage), s.codecs)
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	if c.Query("format") == "html" {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(d.HTML()))
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) handleReprocess(c *gin.Context) {
	const op = "server.handleReprocess"

	id, ok := s.assetID(c)
	if !ok {
		return
	}
	usage, err := s.usageParam(c.Query("usage"))
	if err != nil {
		s.writeError(c, op, err)
		return
	}

	if s.events == nil {
		res, err := s.proc.Reprocess(c.Request.Context(), id, usage)
		if err != nil {
			s.writeError(c, op, err)
			return
		}
		c.JSON(http.StatusOK, res)
		return
	}

	if _, err := s.catalog.Get(c.Request.Context(), id); err != nil {
		s.writeError(c, op, err)
		return
	}
	if err := s.events.RequestReprocess(c.Request.Context(), id, usage); err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "id": id.String()})
}

func (s *Server) assetID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid asset id: %v", err)})
		return uuid.Nil, false
	}
	return id, true
}

// usageParam accepts an empty value, which means "use the default".
func (s *Server) usageParam(v string) (models.UsageContext, error) {
	if v == "" {
		return "", nil
	}
	u, ok := models.ParseUsageContext(v)
	if !ok {
		return "", &models.ValidationError{Field: "usage", Reason: fmt.Sprintf("unknown usage context %q", v)}
	}
	return u, nil
}
