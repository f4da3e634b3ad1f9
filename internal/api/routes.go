package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"hireTrack/internal/api/middleware"
	"hireTrack/internal/auth"
	"hireTrack/internal/cascade"
	"hireTrack/internal/cloner"
	"hireTrack/internal/config"
	"hireTrack/internal/lifecycle"
	"hireTrack/internal/permission"
	"hireTrack/internal/reconcile"
	"hireTrack/internal/session"
	"hireTrack/internal/storage"
)

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(
	router *gin.Engine,
	cfg *config.Config,
	db *gorm.DB,
	asynqClient *asynq.Client,
	authService *auth.AuthService,
	redisClient *redis.Client,
	logger *slog.Logger,
	storageClient *storage.Client,
) {
	evaluator := permission.NewEvaluator(db)
	machine := lifecycle.NewMachine(db, asynqClient)
	positionCloner := cloner.NewCloner(db)
	cascades := cascade.NewEngine(db, storageClient, logger)
	reconciler := reconcile.NewReconciler(db)
	sessions := session.NewManager(redisClient, 12*time.Hour)

	authHandler := NewAuthHandler(db, authService, redisClient, logger,
		cfg.Limits.LoginPerHour, 5, 15*time.Minute, cfg.Auth.CookieDomain)
	positionHandler := NewPositionHandler(db, evaluator, machine, positionCloner, cascades,
		asynqClient, redisClient, cfg.Limits.ReminderBatchPerDay)
	roundHandler := NewRoundHandler(db, evaluator, cascades)
	qualificationHandler := NewQualificationHandler(db, evaluator, cascades, reconciler)
	candidateHandler := NewCandidateHandler(db, evaluator, cascades)
	feedbackHandler := NewFeedbackHandler(db, evaluator)
	fileHandler := NewFileHandler(db, evaluator, storageClient, cfg.Clamd.Addr, cfg.Limits.MaxUploadBytes)
	memberHandler := NewMemberHandler(db, evaluator)
	masqueradeHandler := NewMasqueradeHandler(db, evaluator, sessions)
	wsHandler := NewWsHandler(redisClient, authService, logger, cfg.API.Origins())

	authMiddleware := middleware.AuthMiddleware(authService)
	masqueradeMiddleware := middleware.MasqueradeMiddleware(db, sessions)

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/logout", authMiddleware, authHandler.Logout)
			authGroup.POST("/change-password", authMiddleware, authHandler.ChangePassword)
		}

		masqueradeGroup := v1.Group("/masquerade")
		masqueradeGroup.Use(authMiddleware, masqueradeMiddleware)
		{
			masqueradeGroup.POST("", masqueradeHandler.Start)
			masqueradeGroup.DELETE("", masqueradeHandler.Stop)
			masqueradeGroup.GET("", masqueradeHandler.Current)
		}

		positionGroup := v1.Group("/positions")
		positionGroup.Use(authMiddleware, masqueradeMiddleware)
		{
			positionGroup.POST("", positionHandler.Create)
			positionGroup.GET("", positionHandler.List)
			positionGroup.GET("/:id", positionHandler.Get)
			positionGroup.POST("/:id/lifecycle/:action", positionHandler.Lifecycle)
			positionGroup.POST("/:id/clone", positionHandler.Clone)
			positionGroup.DELETE("/:id/example", positionHandler.DeleteExample)
			positionGroup.DELETE("/:id", positionHandler.Delete)
			positionGroup.POST("/:id/remind", positionHandler.Remind)

			positionGroup.POST("/:id/members", memberHandler.Assign)
			positionGroup.GET("/:id/members", memberHandler.List)

			positionGroup.POST("/:id/rounds", roundHandler.Create)
			positionGroup.GET("/:id/rounds", roundHandler.List)
			positionGroup.DELETE("/:id/rounds/:roundID", roundHandler.Delete)

			positionGroup.POST("/:id/qualifications", qualificationHandler.Create)
			positionGroup.GET("/:id/qualifications", qualificationHandler.List)
			positionGroup.DELETE("/:id/qualifications/:qualificationID", qualificationHandler.Delete)
			positionGroup.PUT("/:id/links", qualificationHandler.ReconcileLinks)
			positionGroup.GET("/:id/links", qualificationHandler.ListLinks)

			positionGroup.POST("/:id/candidates", candidateHandler.Create)
			positionGroup.GET("/:id/candidates", candidateHandler.List)
			positionGroup.GET("/:id/candidates/:candidateID", candidateHandler.Get)
			positionGroup.DELETE("/:id/candidates/:candidateID", candidateHandler.Delete)
			positionGroup.PUT("/:id/candidates/:candidateID/status", candidateHandler.UpsertStatus)
			positionGroup.PUT("/:id/candidates/:candidateID/rounds/:roundID/note", candidateHandler.UpsertRoundNote)

			positionGroup.POST("/:id/candidates/:candidateID/rounds/:roundID/feedback", feedbackHandler.Submit)
			positionGroup.GET("/:id/candidates/:candidateID/rounds/:roundID/feedback", feedbackHandler.ListForCandidate)

			positionGroup.POST("/:id/candidates/:candidateID/files", fileHandler.UploadCandidateFile)
			positionGroup.GET("/:id/files/:fileID/download-link", fileHandler.CandidateFileURL)
			positionGroup.DELETE("/:id/files/:fileID", fileHandler.DeleteCandidateFile)
			positionGroup.POST("/:id/feedback/:feedbackID/files", fileHandler.UploadFeedbackFile)
			positionGroup.GET("/:id/feedback-files/:fileID/download-link", fileHandler.FeedbackFileURL)
			positionGroup.DELETE("/:id/feedback-files/:fileID", fileHandler.DeleteFeedbackFile)
		}
	}
}
