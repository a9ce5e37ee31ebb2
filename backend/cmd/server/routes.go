package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"edukg/backend/internal/constants"
	"edukg/backend/internal/graph"
	"edukg/backend/internal/profile"
	"edukg/backend/internal/recommend"
	"edukg/backend/internal/services"
	"edukg/backend/internal/skills"
	"edukg/backend/internal/state"
	apperrors "edukg/backend/pkg/errors"
)

type recommender interface {
	Recommend(ctx context.Context, studentID string, k int, mode string) (*recommend.Result, error)
	ModuleSkills() (map[string]string, error)
}

type syncer interface {
	Start() error
	Status() state.SyncStatus
	LastReport() *state.CycleReport
}

type server struct {
	store    graph.Store
	profiles *profile.Service
	pipeline recommender
	sync     syncer
	log      *zap.Logger
}

func newRouter(s *server) *gin.Engine {
	router := gin.New()
	router.Use(ginLogger(s.log))
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.GET("/recommend/:student_id", s.getRecommendation)
		api.GET("/students/:student_id/modules", s.getModules)
		api.GET("/students/:student_id/skills", s.getSkills)
		api.POST("/sync", s.startSync)
		api.GET("/sync/status", s.syncStatus)
	}
	return router
}

// requireStudent writes a 404 and returns false when the student is unknown
func (s *server) requireStudent(c *gin.Context, studentID string) bool {
	ok, err := s.profiles.Exists(c.Request.Context(), studentID)
	if err != nil {
		s.log.Error("Failed to look up student", zap.String("student_id", studentID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up student"})
		return false
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Student not found"})
		return false
	}
	return true
}

func (s *server) getRecommendation(c *gin.Context) {
	studentID := c.Param("student_id")
	ctx := c.Request.Context()

	k := 0
	if raw := c.Query("topk"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "topk must be a positive integer"})
			return
		}
		k = n
	}
	mode := c.Query("mode")
	if mode != "" && mode != recommend.ModeBinary && mode != recommend.ModeIntersection {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be binary or intersection"})
		return
	}

	if !s.requireStudent(c, studentID) {
		return
	}

	weak, err := s.profiles.Insufficient(ctx, studentID)
	if err != nil {
		s.log.Warn("Insufficient modules not checked", zap.String("student_id", studentID), zap.Error(err))
	} else if len(weak) > 0 {
		c.JSON(http.StatusOK, gin.H{
			"student_id":           studentID,
			"status":               constants.MasteryInsufficient,
			"insufficient_modules": weak,
		})
		return
	}

	res, err := s.pipeline.Recommend(ctx, studentID, k, mode)
	if err != nil {
		if apperrors.IsFatal(err) {
			s.log.Error("Recommendation misconfigured", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		s.log.Warn("Recommendation failed", zap.String("student_id", studentID), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"student_id": studentID, "message": constants.NoRecommendation})
		return
	}
	if !res.Decision.Found() {
		c.JSON(http.StatusOK, gin.H{
			"student_id": studentID,
			"message":    constants.NoRecommendation,
			"reason":     res.Decision.Reason,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"student_id":     studentID,
		"recommendation": res.Decision,
		"candidates":     res.Candidates.Candidates,
		"stale":          res.Candidates.Stale,
	})
}

func (s *server) getModules(c *gin.Context) {
	studentID := c.Param("student_id")

	mods, err := s.profiles.Modules(c.Request.Context(), studentID)
	if err != nil {
		var notFound *apperrors.ErrStudentNotFound
		if errors.As(err, &notFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Student not found"})
			return
		}
		s.log.Error("Failed to fetch student modules", zap.String("student_id", studentID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch modules"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"student_id": studentID, "modules": mods})
}

func (s *server) getSkills(c *gin.Context) {
	studentID := c.Param("student_id")
	if !s.requireStudent(c, studentID) {
		return
	}

	mapping, err := s.pipeline.ModuleSkills()
	if err != nil {
		s.log.Error("Failed to load skill mapping", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load skill mapping"})
		return
	}
	pct, err := skills.StudentPercentages(c.Request.Context(), s.store, studentID, mapping)
	if err != nil {
		s.log.Error("Failed to compute skills", zap.String("student_id", studentID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute skills"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"student_id": studentID, "skills": pct})
}

func (s *server) startSync(c *gin.Context) {
	if err := s.sync.Start(); err != nil {
		if errors.Is(err, services.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "status": s.sync.Status()})
			return
		}
		if errors.Is(err, services.ErrStopped) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

func (s *server) syncStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      s.sync.Status(),
		"last_report": s.sync.LastReport(),
	})
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
