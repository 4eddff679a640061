package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/shinyyama/goodjob-alarm/internal/config"
	"github.com/shinyyama/goodjob-alarm/internal/cursor"
	"github.com/shinyyama/goodjob-alarm/internal/handler"
	appmw "github.com/shinyyama/goodjob-alarm/internal/middleware"
	"github.com/shinyyama/goodjob-alarm/internal/repository"
	"github.com/shinyyama/goodjob-alarm/internal/scheduler"
	"github.com/shinyyama/goodjob-alarm/internal/scoring"
	"github.com/shinyyama/goodjob-alarm/internal/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Options struct {
	Config    *config.Config
	Logger    *zap.Logger
	Redis     *redis.Client // optional
	SHA       string
	BuildTime string
}

type repositories struct {
	notifications repository.NotificationRepository
	applications  repository.ApplicationRepository
	jobs          repository.JobRepository
	cvs           repository.CvRepository
	scores        repository.RecommendScoreRepository
}

// Server owns the HTTP surface and the job scheduler. Repositories start without a database so
// that /healthz answers while the connection is being established; SetDB completes the wiring.
type Server struct {
	e         *echo.Echo
	repos     repositories
	scheduler *scheduler.Scheduler
	log       *zap.Logger
	dbReady   atomic.Bool
}

func New(opts Options) (*Server, error) {
	cfg := opts.Config
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", appmw.UserIDHeader, appmw.AdminTokenHeader},
		AllowCredentials: true,
		AllowOriginFunc:  originAllower(cfg.CORSOrigins),
	}))

	repos := repositories{
		notifications: repository.NewNotificationRepository(nil),
		applications:  repository.NewApplicationRepository(nil),
		jobs:          repository.NewJobRepository(nil),
		cvs:           repository.NewCvRepository(nil),
		scores:        repository.NewRecommendScoreRepository(nil),
	}
	writer := service.NewNotificationWriter(repos.notifications, nil)
	svc := service.NewNotificationService(repos.notifications)

	var lookup scoring.Lookup = scoring.NewDBLookup(repos.scores)
	if cfg.ScoringURL != "" {
		lookup = scoring.NewHTTPClient(cfg.ScoringURL, cfg.ScoringTimeout, cfg.ScoringRPS)
	}
	var store cursor.Store = cursor.NewMemoryStore()
	if opts.Redis != nil {
		lookup = scoring.NewCachedLookup(lookup, opts.Redis, cfg.ScoringCacheTTL, log)
		store = cursor.NewRedisStore(opts.Redis)
	}

	sched := scheduler.New(loc, log)
	jobs := []struct {
		job     scheduler.Job
		enabled bool
		spec    string
	}{
		{scheduler.NewDeadlineJob(repos.applications, writer, cfg.Deadline, loc, nil, log), cfg.Deadline.Enabled, cfg.Deadline.Cron},
		{scheduler.NewRecommendJob(scheduler.RecommendSources{
			Jobs:   repos.jobs,
			Cvs:    repos.cvs,
			Scores: lookup,
			Labels: repos.cvs,
		}, store, writer, cfg.Recommend, loc, nil, log), cfg.Recommend.Enabled, cfg.Recommend.Cron},
		{scheduler.NewTopNJob(repos.scores, repos.cvs, writer, cfg.TopN, loc, nil, log), cfg.TopN.Enabled, cfg.TopN.Cron},
	}
	for _, j := range jobs {
		spec := j.spec
		if !j.enabled {
			spec = ""
		}
		if err := sched.Register(j.job, spec); err != nil {
			return nil, err
		}
	}

	s := &Server{e: e, repos: repos, scheduler: sched, log: log}

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"ok":         true,
			"db_ready":   s.dbReady.Load(),
			"jobs":       sched.Jobs(),
			"git_sha":    opts.SHA,
			"build_time": opts.BuildTime,
		})
	})

	auth := appmw.NewAuthMiddleware(cfg.AdminToken)
	api := e.Group("/api", s.requireDB)

	notificationHandler := handler.NewNotificationHandler(svc)
	user := api.Group("/notifications", auth.RequireUser)
	user.GET("", notificationHandler.List)
	user.GET("/unread-count", notificationHandler.UnreadCount)
	user.PATCH("/read-all", notificationHandler.MarkAllRead)
	user.GET("/:id", notificationHandler.Get)
	user.PATCH("/:id/read", notificationHandler.MarkRead)
	user.POST("/:id/targets/:targetId/click", notificationHandler.ClickTarget)
	user.DELETE("/:id", notificationHandler.Delete)

	if auth.AdminEnabled() {
		adminHandler := handler.NewAdminHandler(writer, svc, repos.cvs, sched, loc, nil)
		admin := api.Group("/admin", auth.RequireAdmin)
		admin.POST("/notifications", adminHandler.Create)
		admin.GET("/notifications", adminHandler.List)
		admin.GET("/notifications/unread-count", adminHandler.UnreadCount)
		admin.PATCH("/notifications/read-all", adminHandler.MarkAllRead)
		admin.GET("/notifications/:id", adminHandler.Get)
		admin.GET("/notifications/:id/jobs", adminHandler.Jobs)
		admin.PATCH("/notifications/:id/read", adminHandler.MarkRead)
		admin.PUT("/notifications/:id", adminHandler.Update)
		admin.DELETE("/notifications/:id", adminHandler.Delete)
		admin.POST("/jobs/:name/run", adminHandler.RunJob)
	} else {
		log.Info("ADMIN_TOKEN not set; admin routes disabled")
	}

	return s, nil
}

// originAllower accepts localhost, the exact origins in allowed and any host ending in an
// allowed entry that starts with a dot.
func originAllower(allowed []string) func(origin string) (bool, error) {
	exact := make(map[string]bool, len(allowed))
	var suffixes []string
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimRight(strings.TrimSpace(a), "/"))
		switch {
		case a == "":
		case strings.HasPrefix(a, "."):
			suffixes = append(suffixes, a)
		default:
			exact[a] = true
		}
	}
	return func(origin string) (bool, error) {
		u, err := url.Parse(strings.ToLower(origin))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return false, nil
		}
		host := u.Hostname()
		if host == "localhost" || host == "127.0.0.1" {
			return true, nil
		}
		if exact[u.Scheme+"://"+u.Host] {
			return true, nil
		}
		for _, sfx := range suffixes {
			if strings.HasSuffix(host, sfx) {
				return true, nil
			}
		}
		return false, nil
	}
}

func (s *Server) requireDB(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.dbReady.Load() {
			return c.JSON(http.StatusServiceUnavailable, handler.NewErrorResponse("unavailable", "database not ready"))
		}
		return next(c)
	}
}

func (s *Server) Start(addr string) error {
	err := s.e.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// SetDB injects the connection into every repository and marks the API ready.
func (s *Server) SetDB(db *gorm.DB) {
	s.repos.notifications.SetDB(db)
	s.repos.applications.SetDB(db)
	s.repos.jobs.SetDB(db)
	s.repos.cvs.SetDB(db)
	s.repos.scores.SetDB(db)
	s.dbReady.Store(db != nil)
}

// StartJobs begins cron scheduling. Jobs should only start once SetDB has been called.
func (s *Server) StartJobs() {
	s.scheduler.Start()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.scheduler.Stop()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.e.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.e.ServeHTTP(w, r)
}
