// Package handler implements the disk sync server's HTTP surface: a health
// probe plus fetch/overwrite of the single stored database image.
package handler

import (
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/milonlab/milon/internal/middleware"
	"github.com/milonlab/milon/internal/store"
)

const imageName = "lexicon.sqlite"

// LexiconHandler serves the stored database image from a data directory.
type LexiconHandler struct {
	fs      afero.Fs
	dataDir string
}

func NewLexiconHandler(fs afero.Fs, dataDir string) *LexiconHandler {
	return &LexiconHandler{fs: fs, dataDir: dataDir}
}

// Register attaches the sync routes to the engine.
func (h *LexiconHandler) Register(r *gin.Engine) {
	r.GET("/status", h.Status)
	r.GET("/"+imageName, h.GetImage)
	r.POST("/"+imageName, h.PutImage)
}

func (h *LexiconHandler) imagePath() string {
	return filepath.Join(h.dataDir, imageName)
}

// Status answers the availability probe with a JSON body.
func (h *LexiconHandler) Status(c *gin.Context) {
	size := int64(0)
	hasImage := false
	if info, err := h.fs.Stat(h.imagePath()); err == nil {
		hasImage = true
		size = info.Size()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"hasDatabase": hasImage,
		"bytes":       size,
	})
}

// GetImage returns the stored image, or 404 when none exists yet.
func (h *LexiconHandler) GetImage(c *gin.Context) {
	blob, err := afero.ReadFile(h.fs, h.imagePath())
	if os.IsNotExist(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no database stored"})
		return
	}
	if err != nil {
		log.WithError(err).Error("failed to read stored image")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read failed"})
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", blob)
}

// PutImage overwrites the stored image with the request body. The body must
// carry the SQLite magic header; anything else is rejected so a bad client
// cannot destroy the durable copy.
func (h *LexiconHandler) PutImage(c *gin.Context) {
	blob, err := io.ReadAll(c.Request.Body)
	if err != nil {
		middleware.RecordImageWrite(false, 0)
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if !store.ValidImage(blob) {
		middleware.RecordImageWrite(false, 0)
		c.JSON(http.StatusBadRequest, gin.H{"error": "not a database image"})
		return
	}

	if err := h.writeAtomic(blob); err != nil {
		log.WithError(err).Error("failed to store image")
		middleware.RecordImageWrite(false, 0)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "write failed"})
		return
	}

	middleware.RecordImageWrite(true, len(blob))
	log.WithField("bytes", len(blob)).Info("stored database image")
	c.JSON(http.StatusOK, gin.H{"stored": len(blob)})
}

// writeAtomic writes to a temp file and renames it into place so a
// concurrent GET never sees a partial image.
func (h *LexiconHandler) writeAtomic(blob []byte) error {
	if err := h.fs.MkdirAll(h.dataDir, 0o755); err != nil {
		return err
	}
	tmp := h.imagePath() + ".tmp"
	if err := afero.WriteFile(h.fs, tmp, blob, 0o644); err != nil {
		return err
	}
	if err := h.fs.Rename(tmp, h.imagePath()); err != nil {
		h.fs.Remove(tmp)
		return err
	}
	return nil
}
