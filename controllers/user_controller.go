package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"mation/middleware"
	"mation/utils"
)

type UserController struct {
	DB     *gorm.DB
	Tokens *utils.TokenManager
	Logger *log.Logger
}

func NewUserController(db *gorm.DB, tokens *utils.TokenManager, logger *log.Logger) *UserController {
	return &UserController{DB: db, Tokens: tokens, Logger: logger}
}

// GetCurrentUser returns the onboarded profile. Loading it is also the
// opportunistic moment for the pre-emptive token refresh: a dashboard visit
// with an expiring integration token renews it before anything else needs
// it.
func (uc *UserController) GetCurrentUser(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	if len(user.Integrations) > 0 {
		integration := &user.Integrations[0]
		if integration.ExpiresWithin(utils.RefreshWindow) {
			uc.Tokens.EnsureFresh(c.Context(), integration)
		}
	}

	return c.JSON(user)
}
