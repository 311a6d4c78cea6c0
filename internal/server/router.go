// Package server assembles services, handlers and routes.
package server

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-events/backend/config"
	"github.com/campus-events/backend/internal/attendance"
	"github.com/campus-events/backend/internal/auth"
	"github.com/campus-events/backend/internal/certificates"
	"github.com/campus-events/backend/internal/credentials"
	"github.com/campus-events/backend/internal/enrollment"
	"github.com/campus-events/backend/internal/events"
	"github.com/campus-events/backend/internal/middleware"
	"github.com/campus-events/backend/internal/models"
	"github.com/campus-events/backend/internal/realtime"
	"github.com/campus-events/backend/internal/worker"
	"github.com/campus-events/backend/pkg/response"
)

// Deps are the infrastructure pieces the router is built from. Guard, Reports and
// Scheduler are optional; nil selects the in-process variant or disables the feature.
type Deps struct {
	Config    *config.Config
	Logger    *zap.Logger
	Stores    Stores
	JWT       *auth.JWTService
	Hub       *realtime.Hub
	Guard     credentials.Guard
	Reports   certificates.ReportSink
	Scheduler events.BatchScheduler
}

// Server is the assembled HTTP application.
type Server struct {
	Engine      *gin.Engine
	Rotators    *credentials.RotatorRegistry
	Credentials *credentials.Service
	Attendance  *attendance.Service
	Enrollment  *enrollment.Service
	Aggregator  *certificates.Aggregator
}

// New wires services and routes.
func New(d Deps) *Server {
	cfg := d.Config
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hub := d.Hub
	if hub == nil {
		hub = realtime.NewHub(logger, nil, nil)
	}

	enrollSvc := enrollment.NewService(d.Stores.Enrollment, cfg.Enrollment.Timeout(), logger.Named("enrollment"))
	credSvc := credentials.NewService(d.Stores.Credentials, d.Guard, cfg.Attendance.Tolerance(), cfg.Attendance.Rotation(), logger.Named("credentials"))
	attendSvc := attendance.NewService(d.Stores.Attendance, hub, cfg.Attendance.Tolerance(), logger.Named("attendance"))
	aggregator := certificates.NewAggregator(d.Stores.Certificates, d.Reports, cfg.Certificates.CodeRetries, logger.Named("certificates"))

	scheduler := d.Scheduler
	if scheduler != nil && cfg.Database.Driver == config.DriverMemory {
		// the worker process cannot see an in-memory store
		logger.Warn("memory store in use; certificate batches run in-process")
		scheduler = nil
	}
	if scheduler == nil {
		scheduler = worker.NewInlineScheduler(aggregator, logger.Named("certificates"))
	}

	credSvc.SetBroadcaster(hub)
	rotators := credentials.NewRotatorRegistry(credSvc, hub, logger.Named("rotator"))
	hub.SetRoomChangeHandler(rotators.OnProjectorCount)

	authHandler := auth.NewHandler(d.Stores.Users, d.JWT, cfg.JWT.AllowStaffSignup, logger)
	eventHandler := events.NewHandler(d.Stores.Events, scheduler, cfg.Attendance.CredentialRotation, logger)
	enrollHandler := enrollment.NewHandler(enrollSvc, logger)
	credHandler := credentials.NewHandler(credSvc, logger)
	attendHandler := attendance.NewHandler(attendSvc, logger)
	certHandler := certificates.NewHandler(aggregator, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSOrigins()))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Public certificate verification
	router.GET("/certificates/verify/:code", certHandler.Verify)

	// Presenter projector (token in query)
	router.GET("/ws/projector", realtime.ServeWs(hub, logger.Named("ws"),
		func(token string) (models.Principal, error) {
			claims, err := d.JWT.Validate(token)
			if err != nil {
				return models.Principal{}, err
			}
			return claims.Principal(), nil
		},
		func(ctx context.Context, talkID uuid.UUID) error {
			_, err := d.Stores.Events.GetTalk(ctx, talkID)
			return err
		},
		cfg.Server.CORSOrigins(),
	))

	api := router.Group("")
	api.Use(middleware.JWT(d.JWT))
	staff := middleware.RequireStaff()
	{
		// Events and talks
		api.GET("/events", eventHandler.List)
		api.POST("/events", staff, eventHandler.Create)
		api.GET("/events/:id", eventHandler.Get)
		api.POST("/events/:id/talks", staff, eventHandler.CreateTalk)
		api.POST("/events/:id/close", staff, eventHandler.Close)
		api.GET("/talks/:id", eventHandler.GetTalk)

		// Enrollment
		api.POST("/events/:id/enroll", enrollHandler.EnrollEvent)
		api.DELETE("/events/:id/enroll", enrollHandler.CancelEvent)
		api.POST("/talks/:id/enroll", enrollHandler.EnrollTalk)
		api.DELETE("/talks/:id/enroll", enrollHandler.CancelTalk)
		api.GET("/me/enrollments", enrollHandler.ListMine)

		// Credentials
		api.POST("/talks/:id/credential/regenerate", staff, credHandler.Regenerate)
		api.GET("/talks/:id/credential", staff, credHandler.Current)

		// Attendance
		api.POST("/talks/:id/attendance/scan", attendHandler.Scan)
		api.POST("/talks/:id/attendance/walk-in", staff, attendHandler.WalkIn)
		api.PUT("/talks/:id/attendance/:studentId", staff, attendHandler.SetStatus)
		api.GET("/talks/:id/attendance", staff, attendHandler.List)

		// Certificates
		api.POST("/events/:id/certificates", staff, certHandler.Issue)
	}

	return &Server{
		Engine:      router,
		Rotators:    rotators,
		Credentials: credSvc,
		Attendance:  attendSvc,
		Enrollment:  enrollSvc,
		Aggregator:  aggregator,
	}
}
