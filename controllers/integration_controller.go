package controller

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"mation/config"
	"mation/middleware"
	"mation/models"
	"mation/utils"
)

type IntegrationController struct {
	DB     *gorm.DB
	IG     *utils.InstagramClient
	Tokens *utils.TokenManager
	Logger *log.Logger
}

func NewIntegrationController(db *gorm.DB, ig *utils.InstagramClient, tokens *utils.TokenManager, logger *log.Logger) *IntegrationController {
	return &IntegrationController{DB: db, IG: ig, Tokens: tokens, Logger: logger}
}

// OAuthCallback finishes the Instagram connect flow: authorization code →
// short-lived token → long-lived token → profile fetch → persist. The
// browser is then sent back to the dashboard.
func (ic *IntegrationController) OAuthCallback(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	code := c.Query("code")
	if code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Missing authorization code",
		})
	}

	ctx := c.Context()

	shortToken, err := ic.IG.ExchangeCode(ctx, code)
	if err != nil {
		ic.Logger.Printf("code exchange failed for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Failed to exchange authorization code",
		})
	}

	longLived, err := ic.IG.ExchangeLongLived(ctx, shortToken.AccessToken)
	if err != nil {
		ic.Logger.Printf("long-lived exchange failed for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Failed to convert to long-lived token",
		})
	}

	profile, err := ic.IG.GetProfile(ctx, longLived.AccessToken)
	if err != nil {
		ic.Logger.Printf("profile fetch failed for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Failed to fetch Instagram profile",
		})
	}

	ttl := utils.DefaultTokenTTL
	if longLived.ExpiresIn > 0 {
		ttl = time.Duration(longLived.ExpiresIn) * time.Second
	}
	expiresAt := time.Now().Add(ttl)

	// Reconnects overwrite the existing credential instead of stacking a
	// second integration.
	var integration models.Integration
	err = ic.DB.Where("user_id = ? AND name = ?", user.ID, "INSTAGRAM").First(&integration).Error
	if err != nil {
		integration = models.Integration{UserID: user.ID, Name: "INSTAGRAM"}
	}

	integration.Token = longLived.AccessToken
	integration.ExpiresAt = &expiresAt
	integration.InstagramID = profile.ID
	integration.InstagramUsername = profile.Username
	integration.InstagramProfilePicture = profile.ProfilePictureURL

	if err := ic.DB.Save(&integration).Error; err != nil {
		ic.Logger.Printf("failed to persist integration for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save integration",
		})
	}

	ic.Logger.Printf("user %d connected Instagram account @%s", user.ID, profile.Username)
	return c.Redirect(config.AppConfig.HostURL+"/dashboard", fiber.StatusFound)
}

// GetIntegration returns the user's connected account, if any.
func (ic *IntegrationController) GetIntegration(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	var integration models.Integration
	err := ic.DB.Where("user_id = ? AND name = ?", user.ID, "INSTAGRAM").First(&integration).Error
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No Instagram integration",
		})
	}
	return c.JSON(integration)
}

// GetInstagramPosts proxies the connected account's recent media for the
// builder's post picker, with the token refresh policy applied.
func (ic *IntegrationController) GetInstagramPosts(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	var integration models.Integration
	err := ic.DB.Where("user_id = ? AND name = ?", user.ID, "INSTAGRAM").First(&integration).Error
	if err != nil || integration.Token == "" {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No Instagram integration",
		})
	}

	var media []utils.InstagramMedia
	err = ic.Tokens.WithRetry(c.Context(), &integration, func(token string) error {
		var callErr error
		media, callErr = ic.IG.GetMedia(c.Context(), token)
		return callErr
	})
	if err != nil {
		if utils.IsTokenExpired(err) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Instagram token expired, please reconnect your account",
			})
		}
		ic.Logger.Printf("media fetch failed for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Failed to fetch Instagram posts",
		})
	}

	return c.JSON(fiber.Map{"data": media})
}
