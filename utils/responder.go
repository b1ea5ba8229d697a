package utils

import (
	"context"
	"log"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mation/models"
)

// Fallback copy when a listener was saved without text.
const (
	defaultDMReply     = "Thanks for your message 💬"
	defaultPublicReply = "Thanks for your comment ❤️"
)

// MessageSender is the outbound surface of the platform messaging API the
// dispatcher needs. Satisfied by InstagramClient; faked in tests.
type MessageSender interface {
	SendDM(ctx context.Context, pageID, recipientID, text, token string) error
	SendDMImage(ctx context.Context, pageID, recipientID, imageURL, token string) error
	ReplyToComment(ctx context.Context, commentID, message, token string) error
	PrivateReplyToComment(ctx context.Context, pageID, commentID, message, token string) error
}

// DispatchOutcome classifies how processing of one inbound event ended.
type DispatchOutcome string

const (
	OutcomeSent        DispatchOutcome = "SENT"
	OutcomeNoMatch     DispatchOutcome = "NO_MATCH"
	OutcomeNoTrigger   DispatchOutcome = "NO_TRIGGER"
	OutcomeNoListener  DispatchOutcome = "NO_LISTENER"
	OutcomeNoToken     DispatchOutcome = "NO_TOKEN"
	OutcomeNotEligible DispatchOutcome = "NOT_ELIGIBLE"
	OutcomeFailed      DispatchOutcome = "FAILED"
)

// DispatchResult is the explicit result of dispatching one event. The
// webhook ingress logs it and answers 200 regardless; nothing here is ever
// surfaced to the platform.
type DispatchResult struct {
	Outcome        DispatchOutcome
	AutomationID   uint
	Reason         string
	PublicReplies  int
	PrivateReplies int
}

func resultFor(outcome DispatchOutcome, automationID uint, reason string) DispatchResult {
	return DispatchResult{Outcome: outcome, AutomationID: automationID, Reason: reason}
}

// Responder orchestrates matched automations into outbound replies. It does
// not retry failed sends; the only retry in the system is the token
// refresh-and-retry-once inside TokenManager.
type Responder struct {
	DB      *gorm.DB
	Matcher *Matcher
	Sender  MessageSender
	AI      AICompleter
	Tokens  *TokenManager
	PageID  string
	Logger  *log.Logger
}

// HandleComment processes one inbound comment event.
func (r *Responder) HandleComment(ctx context.Context, text, commentID, mediaID, fromUserID string) DispatchResult {
	if mediaID == "" {
		return resultFor(OutcomeNoMatch, 0, "comment event without media id")
	}

	keyword, err := r.Matcher.Match(text, mediaID)
	if err != nil {
		return resultFor(OutcomeFailed, 0, "keyword lookup failed: "+err.Error())
	}
	if keyword == nil {
		return resultFor(OutcomeNoMatch, 0, "no active automation matches this post")
	}

	automation, err := r.Matcher.GetKeywordAutomation(keyword.AutomationID, false)
	if err != nil || automation == nil {
		return resultFor(OutcomeNoMatch, keyword.AutomationID, "automation not found or inactive")
	}
	if !automation.HasTrigger(models.TriggerComment) {
		return resultFor(OutcomeNoTrigger, automation.ID, "no COMMENT trigger configured")
	}
	if automation.Listener == nil {
		return resultFor(OutcomeNoListener, automation.ID, "no listener configured")
	}

	integration := firstIntegration(&automation.User)
	if integration == nil {
		return resultFor(OutcomeNoToken, automation.ID, "no integration token")
	}

	logrus.WithFields(logrus.Fields{
		"automation_id": automation.ID,
		"keyword":       keyword.Word,
		"media_id":      mediaID,
		"listener":      automation.Listener.Listener,
	}).Info("comment matched automation")

	switch automation.Listener.Listener {
	case models.ListenerMessage:
		return r.replyToComment(ctx, automation, integration, commentID, fromUserID)
	case models.ListenerSmartAI:
		if !automation.User.IsPro() {
			return resultFor(OutcomeNotEligible, automation.ID, "SMARTAI requires the PRO plan")
		}
		return r.aiReplyToComment(ctx, automation, integration, commentID, fromUserID, text)
	}
	return resultFor(OutcomeNoListener, automation.ID, "unknown listener mode")
}

// HandleMessage processes one inbound DM event. If no keyword matches, an
// existing SMARTAI conversation with the sender is continued instead.
func (r *Responder) HandleMessage(ctx context.Context, text, senderID, recipientID string) DispatchResult {
	keyword, err := r.Matcher.Match(text, "")
	if err != nil {
		return resultFor(OutcomeFailed, 0, "keyword lookup failed: "+err.Error())
	}
	if keyword == nil {
		return r.continueConversation(ctx, text, senderID, recipientID)
	}

	automation, err := r.Matcher.GetKeywordAutomation(keyword.AutomationID, true)
	if err != nil || automation == nil {
		return resultFor(OutcomeNoMatch, keyword.AutomationID, "automation not found or inactive")
	}
	if !automation.HasTrigger(models.TriggerDM) {
		return resultFor(OutcomeNoTrigger, automation.ID, "no DM trigger configured")
	}
	if automation.Listener == nil {
		return resultFor(OutcomeNoListener, automation.ID, "no listener configured")
	}

	integration := firstIntegration(&automation.User)
	if integration == nil {
		return resultFor(OutcomeNoToken, automation.ID, "no integration token")
	}

	switch automation.Listener.Listener {
	case models.ListenerMessage:
		message := automation.Listener.Prompt
		if message == "" {
			message = defaultDMReply
		}
		message = FlattenLinks(message, automation.Listener.Links)

		err := r.Tokens.WithRetry(ctx, integration, func(token string) error {
			return r.Sender.SendDM(ctx, r.pageID(integration), senderID, message, token)
		})
		if err != nil {
			return resultFor(OutcomeFailed, automation.ID, "send DM failed: "+err.Error())
		}
		r.trackResponse(automation.ID, models.TriggerDM)
		return DispatchResult{Outcome: OutcomeSent, AutomationID: automation.ID, PrivateReplies: 1}

	case models.ListenerSmartAI:
		if !automation.User.IsPro() {
			return resultFor(OutcomeNotEligible, automation.ID, "SMARTAI requires the PRO plan")
		}

		reply, err := r.AI.Complete(ctx, automation.Listener.Prompt, nil, text)
		if err != nil {
			return resultFor(OutcomeFailed, automation.ID, "AI completion failed: "+err.Error())
		}

		pageID := r.pageID(integration)
		if err := r.saveChatPair(automation.ID, senderID, pageID, text, reply); err != nil {
			r.Logger.Printf("failed to save chat history for automation %d: %v", automation.ID, err)
		}

		err = r.Tokens.WithRetry(ctx, integration, func(token string) error {
			return r.Sender.SendDM(ctx, pageID, senderID, reply, token)
		})
		if err != nil {
			return resultFor(OutcomeFailed, automation.ID, "send AI DM failed: "+err.Error())
		}
		r.trackResponse(automation.ID, models.TriggerDM)
		return DispatchResult{Outcome: OutcomeSent, AutomationID: automation.ID, PrivateReplies: 1}
	}
	return resultFor(OutcomeNoListener, automation.ID, "unknown listener mode")
}

// replyToComment handles the fixed-template listener for a comment: one
// public reply under the comment plus one private reply to the commenter.
func (r *Responder) replyToComment(ctx context.Context, automation *models.Automation, integration *models.Integration, commentID, fromUserID string) DispatchResult {
	listener := automation.Listener
	result := DispatchResult{Outcome: OutcomeSent, AutomationID: automation.ID}

	publicReply := defaultPublicReply
	if listener.CommentReply != nil && *listener.CommentReply != "" {
		publicReply = *listener.CommentReply
	}

	// A failed public reply does not block the private one.
	err := r.Tokens.WithRetry(ctx, integration, func(token string) error {
		return r.Sender.ReplyToComment(ctx, commentID, publicReply, token)
	})
	if err != nil {
		r.Logger.Printf("public reply to comment %s failed: %v", commentID, err)
	} else {
		result.PublicReplies = 1
	}

	pageID := r.pageID(integration)

	// The private-reply endpoint cannot carry an attachment, so the image
	// goes as its own DM first. Best effort; the text reply still follows.
	if listener.DmImage != nil && *listener.DmImage != "" && fromUserID != "" {
		err := r.Tokens.WithRetry(ctx, integration, func(token string) error {
			return r.Sender.SendDMImage(ctx, pageID, fromUserID, *listener.DmImage, token)
		})
		if err != nil {
			r.Logger.Printf("image DM for comment %s failed: %v", commentID, err)
		}
	}

	message := listener.Prompt
	if message == "" {
		message = defaultDMReply
	}
	message = FlattenLinks(message, listener.Links)

	err = r.Tokens.WithRetry(ctx, integration, func(token string) error {
		return r.Sender.PrivateReplyToComment(ctx, pageID, commentID, message, token)
	})
	if err != nil {
		if result.PublicReplies == 0 {
			return resultFor(OutcomeFailed, automation.ID, "both replies failed: "+err.Error())
		}
		r.Logger.Printf("private reply to comment %s failed: %v", commentID, err)
	} else {
		result.PrivateReplies = 1
	}

	if result.PrivateReplies > 0 || result.PublicReplies > 0 {
		r.trackResponse(automation.ID, models.TriggerComment)
	}
	return result
}

// aiReplyToComment handles the SMARTAI listener for a comment.
func (r *Responder) aiReplyToComment(ctx context.Context, automation *models.Automation, integration *models.Integration, commentID, fromUserID, text string) DispatchResult {
	reply, err := r.AI.Complete(ctx, automation.Listener.Prompt, nil, text)
	if err != nil {
		return resultFor(OutcomeFailed, automation.ID, "AI completion failed: "+err.Error())
	}

	pageID := r.pageID(integration)
	if err := r.saveChatPair(automation.ID, fromUserID, pageID, text, reply); err != nil {
		r.Logger.Printf("failed to save chat history for automation %d: %v", automation.ID, err)
	}

	err = r.Tokens.WithRetry(ctx, integration, func(token string) error {
		return r.Sender.PrivateReplyToComment(ctx, pageID, commentID, reply, token)
	})
	if err != nil {
		return resultFor(OutcomeFailed, automation.ID, "send AI private reply failed: "+err.Error())
	}

	r.trackResponse(automation.ID, models.TriggerComment)
	return DispatchResult{Outcome: OutcomeSent, AutomationID: automation.ID, PrivateReplies: 1}
}

// continueConversation picks up an existing SMARTAI thread between the
// sender and the account the DM was addressed to, when no keyword matched
// the inbound DM.
func (r *Responder) continueConversation(ctx context.Context, text, senderID, recipientID string) DispatchResult {
	history, automationID, err := r.chatHistory(senderID, recipientID)
	if err != nil || automationID == 0 {
		return resultFor(OutcomeNoMatch, 0, "no keyword match and no prior conversation")
	}

	automation, err := r.Matcher.FindAutomation(automationID)
	if err != nil || automation == nil {
		return resultFor(OutcomeNoMatch, automationID, "conversation automation missing")
	}
	if automation.Listener == nil || automation.Listener.Listener != models.ListenerSmartAI {
		return resultFor(OutcomeNotEligible, automation.ID, "conversation automation is not SMARTAI")
	}
	if !automation.User.IsPro() {
		return resultFor(OutcomeNotEligible, automation.ID, "SMARTAI requires the PRO plan")
	}

	integration := firstIntegration(&automation.User)
	if integration == nil {
		return resultFor(OutcomeNoToken, automation.ID, "no integration token")
	}

	reply, err := r.AI.Complete(ctx, automation.Listener.Prompt, history, text)
	if err != nil {
		return resultFor(OutcomeFailed, automation.ID, "AI completion failed: "+err.Error())
	}

	pageID := r.pageID(integration)
	if err := r.saveChatPair(automation.ID, senderID, pageID, text, reply); err != nil {
		r.Logger.Printf("failed to save chat history for automation %d: %v", automation.ID, err)
	}

	err = r.Tokens.WithRetry(ctx, integration, func(token string) error {
		return r.Sender.SendDM(ctx, pageID, senderID, reply, token)
	})
	if err != nil {
		return resultFor(OutcomeFailed, automation.ID, "send continuation DM failed: "+err.Error())
	}
	return DispatchResult{Outcome: OutcomeSent, AutomationID: automation.ID, PrivateReplies: 1}
}

// chatHistory rebuilds the AI conversation between one end user and one
// connected account as alternating turns, oldest first. The query is scoped
// to the pair: the same user talking to two different connected accounts has
// two independent threads. Turns sent by the page are assistant turns.
// Returns the automation the thread belongs to.
func (r *Responder) chatHistory(participantID, pageID string) ([]ChatTurn, uint, error) {
	var rows []models.Dm
	err := r.DB.
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			participantID, pageID, pageID, participantID).
		Order("created_at asc, id asc").
		Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, 0, err
	}

	turns := make([]ChatTurn, 0, len(rows))
	for _, row := range rows {
		role := "user"
		if row.SenderID != participantID {
			role = "assistant"
		}
		turns = append(turns, ChatTurn{Role: role, Content: row.Message})
	}
	return turns, rows[len(rows)-1].AutomationID, nil
}

// saveChatPair writes the inbound turn and the AI reply in one transaction
// so a crash mid-request cannot leave half a conversation step.
func (r *Responder) saveChatPair(automationID uint, participantID, pageID, userText, aiText string) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		userTurn := models.Dm{
			AutomationID: automationID,
			SenderID:     participantID,
			ReceiverID:   pageID,
			Message:      userText,
		}
		if err := tx.Create(&userTurn).Error; err != nil {
			return err
		}
		aiTurn := models.Dm{
			AutomationID: automationID,
			SenderID:     pageID,
			ReceiverID:   participantID,
			Message:      aiText,
		}
		return tx.Create(&aiTurn).Error
	})
}

// trackResponse bumps the automation's usage counter for the event kind.
func (r *Responder) trackResponse(automationID uint, kind string) {
	column := "comment_count"
	if kind == models.TriggerDM {
		column = "dm_count"
	}
	err := r.DB.Model(&models.Listener{}).
		Where("automation_id = ?", automationID).
		UpdateColumn(column, gorm.Expr(column+" + ?", 1)).Error
	if err != nil {
		r.Logger.Printf("failed to track %s response for automation %d: %v", kind, automationID, err)
	}
}

// pageID is the id replies are sent from: the configured page when set,
// otherwise the connected account itself.
func (r *Responder) pageID(integration *models.Integration) string {
	if r.PageID != "" {
		return r.PageID
	}
	return integration.InstagramID
}

func firstIntegration(user *models.User) *models.Integration {
	if user == nil || len(user.Integrations) == 0 {
		return nil
	}
	integration := &user.Integrations[0]
	if integration.Token == "" {
		return nil
	}
	return integration
}
