package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"mation/config"
	"mation/models"
	"mation/utils"
)

// Protected validates the identity provider's session token and resolves the
// local user row. First-time callers are onboarded transparently: the user
// record is created from the token claims.
func Protected() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Try to get token from Authorization header first
		var token string
		authHeader := c.Get("Authorization")
		if authHeader != "" {
			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Invalid authorization format",
				})
			}
			token = tokenParts[1]
		} else {
			// Fall back to cookie if header not present
			token = c.Cookies("session_token")
			if token == "" {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Authorization required",
				})
			}
		}

		claims, err := utils.ParseJWTToken(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		var user models.User
		err = config.DB.
			Preload("Subscription").
			Preload("Integrations").
			Where("external_id = ?", claims.Subject).
			First(&user).Error
		if err != nil {
			// Onboard on first contact. The identity provider already
			// verified this person; we just need a local row.
			user = models.User{
				ExternalID: claims.Subject,
				Email:      claims.Email,
			}
			if claims.Firstname != "" {
				user.Firstname = &claims.Firstname
			}
			if claims.Lastname != "" {
				user.Lastname = &claims.Lastname
			}
			if err := config.DB.Create(&user).Error; err != nil {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "User not found",
				})
			}
			sub := models.Subscription{UserID: user.ID, Plan: models.PlanFree}
			if err := config.DB.Create(&sub).Error; err == nil {
				user.Subscription = &sub
			}
		}

		c.Locals("user", &user)
		c.Locals("userID", user.ID)

		return c.Next()
	}
}

// CurrentUser returns the user resolved by Protected.
func CurrentUser(c *fiber.Ctx) *models.User {
	user, _ := c.Locals("user").(*models.User)
	return user
}
