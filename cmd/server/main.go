// The disk sync server: persists the browser's serialized database image to
// disk so lexicon state survives browser resets.
package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/milonlab/milon/internal/config"
	"github.com/milonlab/milon/internal/handler"
	"github.com/milonlab/milon/internal/middleware"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Metrics())
	r.Use(cors())

	handler.NewLexiconHandler(afero.NewOsFs(), cfg.DataDir).Register(r)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	log.WithFields(log.Fields{
		"port":    cfg.Port,
		"dataDir": cfg.DataDir,
	}).Info("disk sync server listening")

	if err := r.Run(":" + cfg.Port); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

// cors allows the browser app, served from a different origin, to probe and
// push images.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
