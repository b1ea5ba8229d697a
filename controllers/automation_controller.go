package controller

import (
	"encoding/json"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"mation/middleware"
	"mation/models"
	"mation/utils"
)

type AutomationController struct {
	DB     *gorm.DB
	Cache  *utils.Cache
	Logger *log.Logger
}

func NewAutomationController(db *gorm.DB, cache *utils.Cache, logger *log.Logger) *AutomationController {
	return &AutomationController{DB: db, Cache: cache, Logger: logger}
}

// CreateAutomation creates an empty placeholder automation the builder then
// fills in with separate save calls.
func (ac *AutomationController) CreateAutomation(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	var req struct {
		Name string `json:"name"`
	}
	_ = c.BodyParser(&req)

	automation := models.Automation{UserID: user.ID}
	if req.Name != "" {
		automation.Name = req.Name
	}

	if err := ac.DB.Create(&automation).Error; err != nil {
		ac.Logger.Printf("failed to create automation for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create automation",
		})
	}

	ac.Cache.InvalidateAutomations(c.Context(), user.ID)
	return c.Status(fiber.StatusCreated).JSON(automation)
}

// GetAutomations lists the user's automations, newest first, with keywords
// and listener counters for the dashboard cards.
func (ac *AutomationController) GetAutomations(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	if cached, ok := ac.Cache.GetAutomations(c.Context(), user.ID); ok {
		c.Set("Content-Type", "application/json")
		return c.Send(cached)
	}

	var automations []models.Automation
	err := ac.DB.
		Where("user_id = ?", user.ID).
		Preload("Keywords").
		Preload("Listener").
		Order("created_at desc").
		Find(&automations).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch automations",
		})
	}

	if payload, err := json.Marshal(automations); err == nil {
		ac.Cache.SetAutomations(c.Context(), user.ID, payload)
	}
	return c.JSON(automations)
}

// GetAutomation returns the full automation for the builder view.
func (ac *AutomationController) GetAutomation(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	var automation models.Automation
	err := ac.DB.
		Where("id = ? AND user_id = ?", c.Params("id"), user.ID).
		Preload("Keywords").
		Preload("Triggers").
		Preload("Posts").
		Preload("Listener").
		Preload("Listener.Links").
		First(&automation).Error
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Automation not found",
		})
	}

	return c.JSON(automation)
}

// UpdateAutomation renames and/or (de)activates an automation. Activation
// is refused until the automation is complete.
func (ac *AutomationController) UpdateAutomation(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	var req struct {
		Name   *string `json:"name"`
		Active *bool   `json:"active"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	automation, errResp := ac.findOwned(c, user.ID, true)
	if automation == nil {
		return errResp
	}

	if req.Active != nil && *req.Active && !automation.Active {
		if err := ValidateActivation(automation); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}
	if len(updates) == 0 {
		return c.JSON(automation)
	}

	if err := ac.DB.Model(automation).Updates(updates).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update automation",
		})
	}

	ac.Cache.InvalidateAutomations(c.Context(), user.ID)
	return c.JSON(automation)
}

// SaveKeyword replaces the automation's keyword.
func (ac *AutomationController) SaveKeyword(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	var req struct {
		Keyword string `json:"keyword" validate:"required,min=1,max=100"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	automation, errResp := ac.findOwned(c, user.ID, false)
	if automation == nil {
		return errResp
	}

	if err := ReplaceKeyword(ac.DB, automation.ID, req.Keyword); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save keyword",
		})
	}

	ac.Cache.InvalidateAutomations(c.Context(), user.ID)
	return c.JSON(fiber.Map{"message": "Keyword saved"})
}

// DeleteKeyword removes one keyword from the automation.
func (ac *AutomationController) DeleteKeyword(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	automation, errResp := ac.findOwned(c, user.ID, false)
	if automation == nil {
		return errResp
	}

	res := ac.DB.
		Where("id = ? AND automation_id = ?", c.Params("keywordId"), automation.ID).
		Delete(&models.Keyword{})
	if res.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete keyword",
		})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Keyword not found",
		})
	}

	ac.Cache.InvalidateAutomations(c.Context(), user.ID)
	return c.JSON(fiber.Map{"message": "Keyword deleted"})
}

// SaveTriggers replaces the automation's trigger set.
func (ac *AutomationController) SaveTriggers(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	var req struct {
		Types []string `json:"types" validate:"required,min=1,max=2,dive,oneof=COMMENT DM"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	automation, errResp := ac.findOwned(c, user.ID, false)
	if automation == nil {
		return errResp
	}

	if err := ReplaceTriggers(ac.DB, automation.ID, req.Types); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save triggers",
		})
	}

	ac.Cache.InvalidateAutomations(c.Context(), user.ID)
	return c.JSON(fiber.Map{"message": "Triggers saved"})
}

// SavePosts replaces the automation's monitored post set.
func (ac *AutomationController) SavePosts(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	var req struct {
		Posts []struct {
			PostID    string `json:"postid" validate:"required"`
			Caption   string `json:"caption"`
			Media     string `json:"media" validate:"required"`
			MediaType string `json:"media_type" validate:"omitempty,oneof=IMAGE VIDEO CAROSEL_ALBUM"`
		} `json:"posts" validate:"required,min=1,dive"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	automation, errResp := ac.findOwned(c, user.ID, false)
	if automation == nil {
		return errResp
	}

	posts := make([]models.Post, 0, len(req.Posts))
	for _, p := range req.Posts {
		mediaType := p.MediaType
		if mediaType == "" {
			mediaType = "IMAGE"
		}
		posts = append(posts, models.Post{
			PostID:    p.PostID,
			Caption:   p.Caption,
			Media:     p.Media,
			MediaType: mediaType,
		})
	}

	if err := ReplacePosts(ac.DB, automation.ID, posts); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save posts",
		})
	}

	ac.Cache.InvalidateAutomations(c.Context(), user.ID)
	return c.JSON(fiber.Map{"message": "Posts attached"})
}

// SaveListener creates or updates the automation's reply configuration.
func (ac *AutomationController) SaveListener(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	var req struct {
		Listener     string  `json:"listener" validate:"required,oneof=MESSAGE SMARTAI"`
		Prompt       string  `json:"prompt" validate:"required"`
		CommentReply *string `json:"comment_reply"`
		DmImage      *string `json:"dm_image" validate:"omitempty,url"`
		Links        []struct {
			Title string `json:"title" validate:"required"`
			URL   string `json:"url" validate:"required,url"`
		} `json:"links" validate:"dive"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	automation, errResp := ac.findOwned(c, user.ID, false)
	if automation == nil {
		return errResp
	}

	links := make([]models.ListenerLink, 0, len(req.Links))
	for _, l := range req.Links {
		links = append(links, models.ListenerLink{Title: l.Title, URL: l.URL})
	}

	input := ListenerInput{
		Listener:     req.Listener,
		Prompt:       req.Prompt,
		CommentReply: req.CommentReply,
		DmImage:      req.DmImage,
		Links:        links,
	}
	if err := UpsertListener(ac.DB, automation.ID, input); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save listener",
		})
	}

	ac.Cache.InvalidateAutomations(c.Context(), user.ID)
	return c.JSON(fiber.Map{"message": "Listener saved"})
}

// findOwned loads the automation in the :id param if the user owns it. On
// failure it returns nil and the response already written to the client.
func (ac *AutomationController) findOwned(c *fiber.Ctx, userID uint, full bool) (*models.Automation, error) {
	query := ac.DB.Where("id = ? AND user_id = ?", c.Params("id"), userID)
	if full {
		query = query.
			Preload("Keywords").
			Preload("Triggers").
			Preload("Posts").
			Preload("Listener")
	}

	var automation models.Automation
	if err := query.First(&automation).Error; err != nil {
		return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Automation not found",
		})
	}
	return &automation, nil
}
