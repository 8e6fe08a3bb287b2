package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nuvex-backend-go/internal/core"
	"nuvex-backend-go/internal/metrics"
	"nuvex-backend-go/internal/middleware"
)

// Services bundles the core services the handlers depend on.
type Services struct {
	Accounts  core.AccountService
	Lifecycle core.LifecycleService
	Billing   core.BillingService
	Documents core.DocumentService
}

// RouteOptions carries the non-service dependencies of the router.
type RouteOptions struct {
	MaxUploadBytes int64
	Metrics        *metrics.Metrics
	HealthChecks   map[string]Pinger
}

// SetupRoutes configures all the application routes with their handlers and middleware.
// Global middleware (request logging, recovery, CORS) is applied in main before this is called.
func SetupRoutes(router *gin.Engine, authMW *middleware.AuthMiddleware, logger *zap.Logger, svc Services, opts RouteOptions) {
	accountHandler := NewAccountHandler(svc.Accounts, logger)
	billingHandler := NewBillingHandler(svc.Billing, svc.Lifecycle, logger)
	storageHandler := NewStorageHandler(svc.Documents, opts.MaxUploadBytes, logger)
	healthHandler := NewHealthHandler(opts.HealthChecks)

	apiV1 := router.Group("/api/v1")
	{
		apiV1.POST("/signup", accountHandler.Signup)
		apiV1.GET("/accounts/me", authMW.VerifyToken(), accountHandler.GetCurrentAccount)

		billingGroup := apiV1.Group("/billing")
		{
			// Public: the plan catalog and the Stripe webhook, which is authenticated by its signature.
			billingGroup.GET("/plans", billingHandler.ListPlans)
			billingGroup.POST("/webhooks/stripe", billingHandler.HandleStripeWebhook)

			authed := billingGroup.Group("", authMW.VerifyToken())
			authed.POST("/checkout-session", billingHandler.CreateCheckoutSession)
			authed.POST("/payment-method-session", billingHandler.CreatePaymentMethodSession)
			authed.GET("/payment-method-session", billingHandler.ConfirmPaymentMethodSession)
			authed.POST("/payment-methods/delete", billingHandler.DeletePaymentMethod)
			authed.POST("/portal-session", billingHandler.CreatePortalSession)
			authed.POST("/activate", billingHandler.ActivatePlan)
			authed.POST("/cancel", billingHandler.CancelSubscription)
			authed.POST("/check-trial", billingHandler.CheckTrial)
			authed.POST("/renew", billingHandler.RenewIfDue)
		}

		apiV1.GET("/storage", authMW.VerifyToken(), storageHandler.GetOverview)

		documents := apiV1.Group("/clients/:clientId/documents", authMW.VerifyToken())
		{
			documents.POST("", storageHandler.UploadDocument)
			documents.GET("/:documentId/download", storageHandler.DownloadDocument)
			documents.DELETE("/:documentId", storageHandler.DeleteDocument)
		}
	}

	router.GET("/health", healthHandler.Health)
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	logger.Info("API routes configured successfully under /api/v1, /health and /metrics.")
}
