package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"medtrack/internal/attach"
	"medtrack/internal/config"
	"medtrack/internal/ics"
	appLog "medtrack/internal/log"
	"medtrack/internal/model"
	"medtrack/internal/service"
	"medtrack/internal/storage"
)

// localUser is the acting user when no accounts are configured.
const localUser = "local"

// Server provides the tracker's HTTP API.
type Server struct {
	cfg    *config.Config
	svc    *service.Service
	engine *gin.Engine
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, svc *service.Service) *Server {
	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.Use(gin.Recovery(), requestLogger())
	if len(cfg.CORSOrigins) > 0 {
		engine.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:    []string{"Content-Disposition"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	engine.Use(basicAuth(cfg.Users))

	s := &Server{cfg: cfg, svc: svc, engine: engine}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen, "auth", len(s.cfg.Users) > 0)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	appLog.Info("shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	r := s.engine
	r.NoMethod(func(c *gin.Context) {
		writeError(c, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "not found")
	})

	r.GET("/health", s.handleHealth)
	r.POST("/api/ics", s.handleICS)

	api := r.Group("/api")
	api.GET("/cases", s.listCases)
	api.POST("/cases", s.createCase)
	api.GET("/files/*path", s.serveFile)

	c := api.Group("/cases/:caseId")
	c.GET("", s.getCase)
	c.POST("/members", s.addMember)
	c.POST("/types", s.addType)
	c.GET("/summary", s.summary)

	c.GET("/entries", s.listEntries)
	c.POST("/entries", s.createEntry)
	c.GET("/entries/:entryId", s.getEntry)
	c.PUT("/entries/:entryId", s.updateEntry)
	c.DELETE("/entries/:entryId", s.deleteEntry)
	c.POST("/entries/:entryId/toggle", s.toggleEntry)
	c.POST("/entries/:entryId/attachments", s.uploadAttachment)
	c.GET("/entries/:entryId/ics", s.exportEntry)
	c.POST("/series", s.createSeries)
	c.POST("/import", s.importCalendar)

	c.GET("/professionals", s.listProfessionals)
	c.POST("/professionals", s.createProfessional)
	c.GET("/professionals/specialties", s.specialties)
	c.PUT("/professionals/:proId", s.updateProfessional)
	c.DELETE("/professionals/:proId", s.deleteProfessional)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// basicAuth guards everything except /health. With no accounts every
// request acts as localUser.
func basicAuth(users []config.UserConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}
		if len(users) == 0 {
			c.Set(gin.AuthUserKey, localUser)
			c.Next()
			return
		}

		u, p, ok := c.Request.BasicAuth()
		matched := ""
		if ok {
			for _, acc := range users {
				if secureCompare(u, acc.Username) && secureCompare(p, acc.Password) {
					matched = acc.Username
				}
			}
		}
		if matched == "" {
			c.Header("WWW-Authenticate", `Basic realm="medtrack", charset="UTF-8"`)
			writeError(c, http.StatusUnauthorized, "unauthorized")
			return
		}
		c.Set(gin.AuthUserKey, matched)
		c.Next()
	}
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		appLog.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
	}
}

func userID(c *gin.Context) string {
	return c.GetString(gin.AuthUserKey)
}

func writeError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// writeServiceError maps service and storage errors onto status codes.
func writeServiceError(c *gin.Context, err error) {
	var (
		mverr *model.ValidationError
		iverr *ics.ValidationError
	)
	switch {
	case errors.As(err, &mverr), errors.As(err, &iverr):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrForbidden):
		writeError(c, http.StatusForbidden, "forbidden")
	case errors.Is(err, storage.ErrNotFound):
		writeError(c, http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrInUse):
		writeError(c, http.StatusConflict, "professional is referenced by entries")
	case errors.Is(err, attach.ErrTooLarge):
		writeError(c, http.StatusRequestEntityTooLarge, "file too large")
	case errors.Is(err, attach.ErrInvalidPath):
		writeError(c, http.StatusBadRequest, "invalid path")
	default:
		appLog.Error("request failed", err, "method", c.Request.Method, "path", c.Request.URL.Path)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
