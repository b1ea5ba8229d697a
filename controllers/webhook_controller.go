package controller

import (
	"log"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"mation/config"
	"mation/utils"
)

// WebhookEnvelope is the platform's event payload. Comment events arrive in
// the changes array, direct messages in the messaging array.
type WebhookEnvelope struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	ID        string           `json:"id"`
	Time      int64            `json:"time"`
	Changes   []WebhookChange  `json:"changes"`
	Messaging []WebhookMessage `json:"messaging"`
}

type WebhookChange struct {
	Field string `json:"field"`
	Value struct {
		ID   string `json:"id"`
		Text string `json:"text"`
		From struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"from"`
		Media struct {
			ID string `json:"id"`
		} `json:"media"`
	} `json:"value"`
}

type WebhookMessage struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text   string `json:"text"`
		IsEcho bool   `json:"is_echo"`
	} `json:"message"`
}

type WebhookController struct {
	Responder *utils.Responder
	Logger    *log.Logger
}

func NewWebhookController(responder *utils.Responder, logger *log.Logger) *WebhookController {
	return &WebhookController{Responder: responder, Logger: logger}
}

// Verify answers the platform's subscription handshake.
func (wc *WebhookController) Verify(c *fiber.Ctx) error {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "" || token == "" || challenge == "" {
		return c.Status(fiber.StatusBadRequest).SendString("Missing required parameters")
	}

	if mode == "subscribe" && token == config.AppConfig.WebhookVerifyToken {
		wc.Logger.Println("webhook verified successfully")
		return c.SendString(challenge)
	}

	wc.Logger.Println("webhook verification failed: invalid token or mode")
	return c.Status(fiber.StatusForbidden).SendString("Forbidden")
}

// Receive handles event deliveries. The platform retries aggressively on
// non-2xx responses, so every internal failure is logged and swallowed; the
// only non-200 answer this handler can give is for an unparsable body,
// which still returns 200.
func (wc *WebhookController) Receive(c *fiber.Ctx) error {
	var envelope WebhookEnvelope
	if err := c.BodyParser(&envelope); err != nil {
		wc.Logger.Printf("failed to parse webhook payload: %v", err)
		return c.JSON(fiber.Map{"message": "Invalid JSON payload"})
	}

	if envelope.Object != "instagram" {
		return c.JSON(fiber.Map{"message": "Not an Instagram webhook"})
	}
	if len(envelope.Entry) == 0 {
		return c.JSON(fiber.Map{"message": "No entry data"})
	}

	entry := envelope.Entry[0]

	switch {
	case len(entry.Changes) > 0:
		wc.handleCommentEvent(c, entry)
	case len(entry.Messaging) > 0:
		wc.handleMessagingEvent(c, entry)
	}

	return c.JSON(fiber.Map{"message": "Event processed"})
}

func (wc *WebhookController) handleCommentEvent(c *fiber.Ctx, entry WebhookEntry) {
	change := entry.Changes[0]
	if change.Field != "comments" {
		return
	}

	value := change.Value
	if value.Text == "" || value.ID == "" {
		wc.Logger.Println("comment event missing text or id, skipping")
		return
	}

	// Our own replies come back as comment events too; drop them.
	if value.From.ID != "" && value.From.ID == wc.Responder.PageID {
		return
	}

	result := wc.Responder.HandleComment(c.Context(), value.Text, value.ID, value.Media.ID, value.From.ID)
	wc.logResult("comment", result)
}

func (wc *WebhookController) handleMessagingEvent(c *fiber.Ctx, entry WebhookEntry) {
	messaging := entry.Messaging[0]

	// Echo messages are our own outbound DMs reflected back; reacting to
	// them would loop forever.
	if messaging.Message.IsEcho {
		return
	}
	if messaging.Message.Text == "" || messaging.Sender.ID == "" {
		return
	}
	if messaging.Sender.ID == wc.Responder.PageID {
		return
	}

	result := wc.Responder.HandleMessage(c.Context(), messaging.Message.Text, messaging.Sender.ID, messaging.Recipient.ID)
	wc.logResult("message", result)
}

func (wc *WebhookController) logResult(kind string, result utils.DispatchResult) {
	entry := logrus.WithFields(logrus.Fields{
		"event":           kind,
		"outcome":         result.Outcome,
		"automation_id":   result.AutomationID,
		"public_replies":  result.PublicReplies,
		"private_replies": result.PrivateReplies,
	})

	if result.Outcome == utils.OutcomeFailed {
		entry.WithField("reason", result.Reason).Error("webhook dispatch failed")
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("event", kind)
			scope.SetExtra("automation_id", result.AutomationID)
			sentry.CaptureMessage(result.Reason)
		})
		return
	}
	entry.WithField("reason", result.Reason).Info("webhook dispatched")
}
