package controller

import (
	"fmt"

	"gorm.io/gorm"

	"mation/models"
)

// The builder saves each panel of an automation with its own call, and
// every save replaces the previous child set. Replacement is all-or-nothing:
// the delete and the recreate run in one transaction so the matcher can
// never observe a half-replaced automation.

// ReplaceKeyword replaces the automation's keyword set with a single word.
func ReplaceKeyword(db *gorm.DB, automationID uint, word string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("automation_id = ?", automationID).Delete(&models.Keyword{}).Error; err != nil {
			return err
		}
		return tx.Create(&models.Keyword{AutomationID: automationID, Word: word}).Error
	})
}

// ReplaceTriggers replaces the automation's trigger set. Types must already
// be validated; duplicates are collapsed.
func ReplaceTriggers(db *gorm.DB, automationID uint, types []string) error {
	seen := make(map[string]struct{}, len(types))
	triggers := make([]models.Trigger, 0, len(types))
	for _, t := range types {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		triggers = append(triggers, models.Trigger{AutomationID: automationID, Type: t})
	}
	if len(triggers) == 0 {
		return fmt.Errorf("at least one trigger type is required")
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("automation_id = ?", automationID).Delete(&models.Trigger{}).Error; err != nil {
			return err
		}
		return tx.Create(&triggers).Error
	})
}

// ReplacePosts replaces the automation's monitored post set.
func ReplacePosts(db *gorm.DB, automationID uint, posts []models.Post) error {
	if len(posts) == 0 {
		return fmt.Errorf("at least one post is required")
	}
	for i := range posts {
		posts[i].AutomationID = automationID
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("automation_id = ?", automationID).Delete(&models.Post{}).Error; err != nil {
			return err
		}
		return tx.Create(&posts).Error
	})
}

// ListenerInput is the builder's listener configuration.
type ListenerInput struct {
	Listener     string
	Prompt       string
	CommentReply *string
	DmImage      *string
	Links        []models.ListenerLink
}

// UpsertListener creates or updates the automation's single listener and
// replaces its link rows, all in one transaction. Counters survive updates.
func UpsertListener(db *gorm.DB, automationID uint, input ListenerInput) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var listener models.Listener
		err := tx.Where("automation_id = ?", automationID).First(&listener).Error
		if err != nil {
			if err != gorm.ErrRecordNotFound {
				return err
			}
			listener = models.Listener{AutomationID: automationID}
		}

		listener.Listener = input.Listener
		listener.Prompt = input.Prompt
		listener.CommentReply = input.CommentReply
		listener.DmImage = input.DmImage

		if err := tx.Save(&listener).Error; err != nil {
			return err
		}

		if err := tx.Where("listener_id = ?", listener.ID).Delete(&models.ListenerLink{}).Error; err != nil {
			return err
		}
		for i := range input.Links {
			input.Links[i].ListenerID = listener.ID
		}
		if len(input.Links) > 0 {
			return tx.Create(&input.Links).Error
		}
		return nil
	})
}

// ValidateActivation checks an automation is complete enough to go live:
// keyword, trigger and listener are always required, and a COMMENT trigger
// additionally needs a monitored post.
func ValidateActivation(automation *models.Automation) error {
	if len(automation.Keywords) == 0 {
		return fmt.Errorf("add a keyword before activating")
	}
	if len(automation.Triggers) == 0 {
		return fmt.Errorf("add a trigger before activating")
	}
	if automation.Listener == nil {
		return fmt.Errorf("configure a response before activating")
	}
	if automation.HasTrigger(models.TriggerComment) && len(automation.Posts) == 0 {
		return fmt.Errorf("attach a post before activating a comment automation")
	}
	return nil
}
