package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Brownster/email-ai-assistant/internal/api/handlers"
	"github.com/Brownster/email-ai-assistant/internal/api/middleware"
	"github.com/Brownster/email-ai-assistant/internal/app"
)

// SetupRouter initializes and returns the Gin router with all routes configured
func SetupRouter(a *app.App) (*gin.Engine, *middleware.AuthManager, error) {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(a.Log.With("component", "http"), a.Logs))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     a.Config.GetCORSOrigins(),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	authManager, err := middleware.NewAuthManager(a.Config.DataDir, a.Config.JWTSecret, middleware.DefaultTokenExpiry)
	if err != nil {
		return nil, nil, err
	}

	authHandler := handlers.NewAuthHandler(a.Users, authManager.JWTManager, a.Logs)
	userHandler := handlers.NewUserHandler(a.Users, a.Logs)
	providerHandler := handlers.NewProviderHandler(a.Registry, a.Scheduler, a.Logs)
	emailHandler := handlers.NewEmailHandler(a.Emails, a.Workflow, a.Analysis, a.Drafts, a.Sender, a.Logs)
	fetchHandler := handlers.NewFetchHandler(a.Scheduler, a.Registry)
	logHandler := handlers.NewLogHandler(a.Logs)
	settingsHandler := handlers.NewSettingsHandler(a.Logs, a.Scheduler)
	oauthHandler := handlers.NewOAuthHandler(a.Registry, a.Logs, a.Log.With("component", "oauth"))

	// Health check endpoint (no auth required)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.Use(middleware.APIKeyMiddleware(authManager.APIKeyManager, a.Logs))

		// API key only
		api.POST("/auth/login", authHandler.Login)
		api.GET("/oauth/google/callback", oauthHandler.GoogleCallback)

		protected := api.Group("")
		protected.Use(middleware.JWTMiddleware(authManager.JWTManager))
		{
			protected.POST("/auth/refresh", authHandler.RefreshToken)
			protected.POST("/auth/logout", authHandler.Logout)
			protected.GET("/auth/me", authHandler.GetCurrentUser)

			userGroup := protected.Group("/user")
			{
				userGroup.GET("/profile", userHandler.GetProfile)
				userGroup.PUT("/profile", userHandler.UpdateProfile)
				userGroup.PUT("/password", userHandler.ChangePassword)
			}

			mailboxes := protected.Group("/providers/mailbox")
			{
				mailboxes.GET("", providerHandler.ListMailboxes)
				mailboxes.POST("", providerHandler.CreateMailbox)
				mailboxes.PUT("/:id", providerHandler.UpdateMailbox)
				mailboxes.PUT("/:id/enable", providerHandler.EnableMailbox)
				mailboxes.PUT("/:id/disable", providerHandler.DisableMailbox)
				mailboxes.POST("/:id/test", providerHandler.TestMailbox)
			}

			modelsGroup := protected.Group("/providers/model")
			{
				modelsGroup.GET("", providerHandler.ListModels)
				modelsGroup.POST("", providerHandler.CreateModel)
				modelsGroup.PUT("/:id", providerHandler.UpdateModel)
				modelsGroup.PUT("/:id/enable", providerHandler.EnableModel)
				modelsGroup.PUT("/:id/disable", providerHandler.DisableModel)
			}

			emails := protected.Group("/emails")
			{
				emails.GET("", emailHandler.ListEmails)
				emails.GET("/counts", emailHandler.GetStatusCounts)
				emails.GET("/:id", emailHandler.GetEmail)
				emails.GET("/:id/activity", emailHandler.ListActivity)
				emails.GET("/:id/analyses", emailHandler.ListAnalyses)
				emails.PUT("/:id/status", emailHandler.UpdateStatus)
				emails.PUT("/:id/draft", emailHandler.UpdateDraft)
				emails.POST("/:id/draft/regenerate", emailHandler.RegenerateDraft)
				emails.POST("/:id/analyze", emailHandler.Analyze)
				emails.POST("/:id/send", emailHandler.SendReply)
				emails.PUT("/:id/read", emailHandler.MarkAsRead)
				emails.GET("/:id/attachments/:attachment_id", emailHandler.DownloadAttachment)
			}

			protected.POST("/fetch", fetchHandler.TriggerFetch)
			protected.GET("/fetch/status", fetchHandler.GetStatus)

			protected.GET("/logs", logHandler.QueryLogs)

			settings := protected.Group("/settings")
			{
				settings.GET("", settingsHandler.GetSettings)
				settings.PUT("", settingsHandler.UpdateSettings)
			}

			protected.GET("/oauth/google/auth", oauthHandler.GetGoogleAuthURL)
		}
	}

	return router, authManager, nil
}
