package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"gorm.io/gorm"

	"mation/config"
	"mation/middleware"
	"mation/models"
)

func InitStripe() {
	stripe.Key = config.AppConfig.StripeSecretKey
}

type PaymentController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewPaymentController(db *gorm.DB, logger *log.Logger) *PaymentController {
	return &PaymentController{DB: db, Logger: logger}
}

// CreateCheckout creates a hosted checkout session for the PRO subscription
// and returns its redirect URL.
func (pc *PaymentController) CreateCheckout(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	priceID := config.AppConfig.StripePriceID
	if priceID == "" {
		pc.Logger.Printf("STRIPE_SUBSCRIPTION_PRICE_ID not configured")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Payment configuration error",
		})
	}

	hostURL := config.AppConfig.HostURL
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:    stripe.String(hostURL + "/payment?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:     stripe.String(hostURL + "/payment?cancel=true"),
		CustomerEmail: stripe.String(user.Email),
	}

	s, err := session.New(params)
	if err != nil {
		pc.Logger.Printf("failed to create checkout session for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create checkout session",
		})
	}

	return c.JSON(fiber.Map{"session_url": s.URL})
}

// ConfirmSubscription is hit after a successful checkout redirect. It
// verifies the session with Stripe and upgrades the user's plan.
func (pc *PaymentController) ConfirmSubscription(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	sessionID := c.Query("session_id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Missing session_id",
		})
	}

	s, err := session.Get(sessionID, nil)
	if err != nil {
		pc.Logger.Printf("failed to retrieve checkout session %s: %v", sessionID, err)
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Checkout session not found",
		})
	}

	var customerID *string
	if s.Customer != nil {
		customerID = &s.Customer.ID
	}

	var subscription models.Subscription
	err = pc.DB.Where("user_id = ?", user.ID).First(&subscription).Error
	if err != nil {
		subscription = models.Subscription{UserID: user.ID}
	}
	subscription.Plan = models.PlanPro
	subscription.StripeCustomerID = customerID

	if err := pc.DB.Save(&subscription).Error; err != nil {
		pc.Logger.Printf("failed to upgrade subscription for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update subscription",
		})
	}

	pc.Logger.Printf("user %d upgraded to PRO", user.ID)
	return c.JSON(fiber.Map{"plan": subscription.Plan})
}
