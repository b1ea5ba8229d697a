package utils

import (
	"strings"

	"gorm.io/gorm"

	"mation/models"
)

// Matcher resolves inbound event text to a configured keyword and its
// automation. Only automations with active = true are ever considered; no
// match is a normal, silent outcome.
type Matcher struct {
	DB *gorm.DB
}

func NewMatcher(db *gorm.DB) *Matcher {
	return &Matcher{DB: db}
}

// Match finds the keyword that fires for the given free text. Matching is
// case-insensitive: the stored keyword must appear in the inbound text.
//
// For comment events mediaID scopes the match: all active candidates are
// enumerated and the one whose automation monitors that media id wins. For
// DM events mediaID is empty and the first active match wins.
func (m *Matcher) Match(text, mediaID string) (*models.Keyword, error) {
	content := strings.ToLower(strings.TrimSpace(text))
	if content == "" {
		return nil, nil
	}

	var candidates []models.Keyword
	err := m.DB.
		Joins("JOIN automations ON automations.id = keywords.automation_id").
		Where("automations.active = ?", true).
		Where("automations.deleted_at IS NULL").
		Preload("Automation").
		Preload("Automation.Posts").
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	// Containment is checked here rather than with SQL LIKE so stored words
	// containing pattern metacharacters match literally.
	var keywords []models.Keyword
	for i := range candidates {
		word := strings.ToLower(strings.TrimSpace(candidates[i].Word))
		if word == "" || !strings.Contains(content, word) {
			continue
		}
		keywords = append(keywords, candidates[i])
	}
	if len(keywords) == 0 {
		return nil, nil
	}

	if mediaID == "" {
		return &keywords[0], nil
	}

	for i := range keywords {
		if keywords[i].Automation.MonitorsPost(mediaID) {
			return &keywords[i], nil
		}
	}
	return nil, nil
}

// GetKeywordAutomation loads the full automation an event will be
// dispatched against: triggers filtered to the event kind, posts, listener
// with links, and the owner's subscription and integrations. Returns nil if
// the automation went inactive between match and load.
func (m *Matcher) GetKeywordAutomation(automationID uint, dm bool) (*models.Automation, error) {
	kind := models.TriggerComment
	if dm {
		kind = models.TriggerDM
	}

	var automation models.Automation
	err := m.DB.
		Where("id = ? AND active = ?", automationID, true).
		Preload("Triggers", "type = ?", kind).
		Preload("Posts").
		Preload("Listener").
		Preload("Listener.Links").
		Preload("User.Subscription").
		Preload("User.Integrations").
		First(&automation).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &automation, nil
}

// FindAutomation loads an automation regardless of active state, for
// conversation continuation.
func (m *Matcher) FindAutomation(automationID uint) (*models.Automation, error) {
	var automation models.Automation
	err := m.DB.
		Preload("Listener").
		Preload("Listener.Links").
		Preload("User.Subscription").
		Preload("User.Integrations").
		First(&automation, automationID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &automation, nil
}
