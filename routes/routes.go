package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"

	"mation/config"
	controller "mation/controllers"
	"mation/middleware"
	"mation/utils"
)

func SetupRoutes(app *fiber.App, db *gorm.DB) {
	// Initialize Stripe
	controller.InitStripe()

	igLogger := log.New(os.Stdout, "INSTAGRAM: ", log.Ldate|log.Ltime|log.Lshortfile)
	ig := utils.NewInstagramClient(igLogger)
	tokens := utils.NewTokenManager(db, ig, igLogger)
	cache := utils.NewCache(config.AppConfig.Redis, log.New(os.Stdout, "CACHE: ", log.LstdFlags))

	responder := &utils.Responder{
		DB:      db,
		Matcher: utils.NewMatcher(db),
		Sender:  ig,
		AI:      utils.NewOpenAICompleter(),
		Tokens:  tokens,
		PageID:  config.AppConfig.Meta.PageID,
		Logger:  log.New(os.Stdout, "RESPONDER: ", log.LstdFlags),
	}

	automationController := controller.NewAutomationController(db, cache, log.New(os.Stdout, "AUTOMATION: ", log.LstdFlags))
	integrationController := controller.NewIntegrationController(db, ig, tokens, igLogger)
	userController := controller.NewUserController(db, tokens, log.New(os.Stdout, "USER: ", log.LstdFlags))
	paymentController := controller.NewPaymentController(db, log.New(os.Stdout, "PAYMENT: ", log.LstdFlags))
	webhookController := controller.NewWebhookController(responder, log.New(os.Stdout, "WEBHOOK: ", log.LstdFlags))

	// Health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Platform webhook (public; the platform authenticates via the
	// handshake token, not a session)
	webhook := app.Group("/webhook", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	webhook.Get("/instagram", webhookController.Verify)
	webhook.Post("/instagram", webhookController.Receive)

	// OAuth callback (browser redirect, needs the session cookie)
	app.Get("/auth/instagram/callback", middleware.Protected(), integrationController.OAuthCallback)

	// Payment routes (protected)
	payment := app.Group("/payment", middleware.Protected())
	payment.Post("/checkout", paymentController.CreateCheckout)
	payment.Get("/subscribe", paymentController.ConfirmSubscription)

	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	api.Get("/me", userController.GetCurrentUser)

	// Automation builder routes
	automation := api.Group("/automations")
	automation.Post("/", automationController.CreateAutomation)
	automation.Get("/", automationController.GetAutomations)
	automation.Get("/:id", automationController.GetAutomation)
	automation.Patch("/:id", automationController.UpdateAutomation)
	automation.Put("/:id/keyword", automationController.SaveKeyword)
	automation.Delete("/:id/keywords/:keywordId", automationController.DeleteKeyword)
	automation.Put("/:id/triggers", automationController.SaveTriggers)
	automation.Put("/:id/posts", automationController.SavePosts)
	automation.Put("/:id/listener", automationController.SaveListener)

	// Integration routes
	api.Get("/integrations", integrationController.GetIntegration)
	api.Get("/instagram/posts", integrationController.GetInstagramPosts)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})

	log.Println("Routes initialized successfully")
}
