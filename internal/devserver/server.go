// Package devserver is a local stand-in for the image, annotation and
// segmentation endpoints the annotator talks to. Segmentation echoes the
// uploaded marker mask back as the result; marker generation is not offered.
package devserver

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"seg-annotator/internal/annotation"
	"seg-annotator/internal/config"
	"seg-annotator/internal/logging"
	"seg-annotator/internal/record"
	"seg-annotator/internal/version"
)

const uploadsPrefix = "/uploads"

// Server serves the annotation contract from a Store and an upload dir.
// Images are files named <imageId>.<ext> in the upload dir.
type Server struct {
	cfg   *config.DevServerConfig
	store Store
	now   func() time.Time
}

func NewServer(cfg *config.DevServerConfig, store Store) *Server {
	return &Server{cfg: cfg, store: store, now: time.Now}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(Logger())

	r.Static(uploadsPrefix, s.cfg.UploadDir)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": version.Version,
		})
	})

	r.GET("/image/findImageById", s.FindImage)
	r.GET("/image/segmented/:id", s.GetSegmented)
	r.POST("/image/segment", s.Segment)
	r.POST("/image/generate-initial-markers", s.GenerateMarkers)

	ann := r.Group("/annotation")
	{
		ann.GET("/:id", s.GetAnnotation)
		ann.POST("/:id/auto-save", s.AutoSave)
		ann.PUT("/:id/save", s.Save)
	}
	return r
}

func errorReply(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"status": "error", "message": msg})
}

func paramID(c *gin.Context, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		errorReply(c, http.StatusBadRequest, fmt.Sprintf("invalid image id %q", raw))
		return 0, false
	}
	return id, true
}

// FindImage resolves an image id to its file under /uploads.
func (s *Server) FindImage(c *gin.Context) {
	id, ok := paramID(c, c.Query("imageId"))
	if !ok {
		return
	}
	matches, err := filepath.Glob(filepath.Join(s.cfg.UploadDir, strconv.FormatInt(id, 10)+".*"))
	if err != nil || len(matches) == 0 {
		errorReply(c, http.StatusNotFound, fmt.Sprintf("image %d not found", id))
		return
	}
	rec, err := s.store.GetAnnotation(c.Request.Context(), id)
	if err != nil {
		logging.Logger.Error("annotation lookup failed", zap.Int64("image_id", id), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{
		"id":        id,
		"file_path": uploadsPrefix + "/" + filepath.Base(matches[0]),
		"edited":    rec != nil && len(rec.Strokes()) > 0,
	})
}

// GetAnnotation returns the stored record, or an empty one.
func (s *Server) GetAnnotation(c *gin.Context) {
	id, ok := paramID(c, c.Param("id"))
	if !ok {
		return
	}
	rec, err := s.store.GetAnnotation(c.Request.Context(), id)
	if err != nil {
		errorReply(c, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		rec = &record.Record{
			ImageID:        id,
			AnnotationData: &record.Data{BrushStrokes: []annotation.Stroke{}},
		}
	}
	c.JSON(http.StatusOK, rec)
}

// AutoSave merges the posted data into the stored record, keeping its id,
// file path and creation time.
func (s *Server) AutoSave(c *gin.Context) {
	s.save(c, true)
}

// Save replaces the stored record.
func (s *Server) Save(c *gin.Context) {
	s.save(c, false)
}

func (s *Server) save(c *gin.Context, merge bool) {
	id, ok := paramID(c, c.Param("id"))
	if !ok {
		return
	}
	var data record.Data
	if err := c.ShouldBindJSON(&data); err != nil {
		errorReply(c, http.StatusBadRequest, err.Error())
		return
	}
	ctx := c.Request.Context()
	now := record.StampOf(s.now())

	prev, err := s.store.GetAnnotation(ctx, id)
	if err != nil {
		errorReply(c, http.StatusInternalServerError, err.Error())
		return
	}
	rec := &record.Record{ImageID: id, CreatedAt: now}
	if prev != nil {
		rec.ID = prev.ID
		if merge {
			rec.FilePath = prev.FilePath
			rec.CreatedAt = prev.CreatedAt
		}
	}
	if rec.ID == 0 {
		if rec.ID, err = s.store.NextAnnotationID(ctx); err != nil {
			errorReply(c, http.StatusInternalServerError, err.Error())
			return
		}
	}
	data.ImageID = id
	data.ObjectCount, data.BackgroundCount = annotation.CountModes(data.BrushStrokes)
	data.TotalStrokes = len(data.BrushStrokes)
	rec.AnnotationData = &data
	rec.UpdatedAt = now

	if err := s.store.PutAnnotation(ctx, rec); err != nil {
		errorReply(c, http.StatusInternalServerError, err.Error())
		return
	}
	logging.Logger.Debug("annotation stored",
		zap.Int64("image_id", id), zap.Bool("merge", merge), zap.Int("strokes", data.TotalStrokes))
	c.JSON(http.StatusOK, gin.H{
		"status":       "success",
		"message":      "annotation saved",
		"savedAt":      string(now),
		"annotationId": rec.ID,
	})
}

// GetSegmented returns the last segmentation result URL or 404.
func (s *Server) GetSegmented(c *gin.Context) {
	id, ok := paramID(c, c.Param("id"))
	if !ok {
		return
	}
	url, err := s.store.GetSegmented(c.Request.Context(), id)
	if err != nil {
		errorReply(c, http.StatusInternalServerError, err.Error())
		return
	}
	if url == "" {
		errorReply(c, http.StatusNotFound, fmt.Sprintf("image %d has no segmentation", id))
		return
	}
	c.JSON(http.StatusOK, gin.H{"segmentedImageUrl": url})
}

// Segment stores the uploaded marker mask and returns it as the result.
func (s *Server) Segment(c *gin.Context) {
	id, ok := paramID(c, c.PostForm("imageId"))
	if !ok {
		return
	}
	if _, err := c.FormFile("image"); err != nil {
		errorReply(c, http.StatusBadRequest, "image file is required")
		return
	}
	markers, err := c.FormFile("markers")
	if err != nil {
		errorReply(c, http.StatusBadRequest, "markers file is required")
		return
	}

	name := fmt.Sprintf("segmented_%d_%d.png", id, s.now().UnixMilli())
	if err := os.MkdirAll(s.cfg.UploadDir, 0755); err != nil {
		errorReply(c, http.StatusInternalServerError, err.Error())
		return
	}
	if err := c.SaveUploadedFile(markers, filepath.Join(s.cfg.UploadDir, name)); err != nil {
		logging.Logger.Error("failed to save file", zap.Error(err))
		errorReply(c, http.StatusInternalServerError, "failed to store result")
		return
	}
	url := uploadsPrefix + "/" + name
	if err := s.store.SetSegmented(c.Request.Context(), id, url); err != nil {
		errorReply(c, http.StatusInternalServerError, err.Error())
		return
	}
	logging.Logger.Info("segmentation stored", zap.Int64("image_id", id), zap.String("url", url))
	c.JSON(http.StatusOK, gin.H{"status": "success", "segmentedImageUrl": url})
}

// GenerateMarkers always reports that marker generation is unavailable.
func (s *Server) GenerateMarkers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "error",
		"message": "marker generation is not available on the development server",
	})
}
