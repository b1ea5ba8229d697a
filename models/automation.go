package models

import (
	"gorm.io/gorm"
)

// Trigger kinds
const (
	TriggerComment = "COMMENT"
	TriggerDM      = "DM"
)

// Listener modes
const (
	ListenerMessage = "MESSAGE"
	ListenerSmartAI = "SMARTAI"
)

// Automation is a user-defined rule mapping a keyword/trigger/post
// combination to a reply behavior. Created empty by the dashboard and
// filled in by separate builder save calls.
type Automation struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name   string `gorm:"default:'Untitled'" json:"name"`
	Active bool   `gorm:"default:false" json:"active"`

	// Relations. Keywords, Triggers and Posts are replaced wholesale by the
	// builder save calls; Listener is upserted; Dms are append-only.
	Keywords []Keyword `gorm:"foreignKey:AutomationID" json:"keywords,omitempty"`
	Triggers []Trigger `gorm:"foreignKey:AutomationID" json:"triggers,omitempty"`
	Posts    []Post    `gorm:"foreignKey:AutomationID" json:"posts,omitempty"`
	Listener *Listener `gorm:"foreignKey:AutomationID" json:"listener,omitempty"`
	Dms      []Dm      `gorm:"foreignKey:AutomationID" json:"dms,omitempty"`

	User User `json:"-"`
}

// HasTrigger reports whether the automation is configured to fire for the
// given event kind.
func (a *Automation) HasTrigger(kind string) bool {
	for _, t := range a.Triggers {
		if t.Type == kind {
			return true
		}
	}
	return false
}

// MonitorsPost reports whether the given media id is in the automation's
// post set.
func (a *Automation) MonitorsPost(mediaID string) bool {
	for _, p := range a.Posts {
		if p.PostID == mediaID {
			return true
		}
	}
	return false
}

// Keyword is the text an inbound comment or DM is matched against.
type Keyword struct {
	gorm.Model
	AutomationID uint   `gorm:"not null;index" json:"automation_id"`
	Word         string `gorm:"not null;index" json:"word"`

	Automation Automation `json:"-"`
}

// Trigger is the event kind (COMMENT or DM) an automation responds to.
type Trigger struct {
	gorm.Model
	AutomationID uint   `gorm:"not null;index" json:"automation_id"`
	Type         string `gorm:"not null" json:"type"` // COMMENT, DM
}

// Post is one monitored media item of the connected account.
type Post struct {
	gorm.Model
	AutomationID uint   `gorm:"not null;index" json:"automation_id"`
	PostID       string `gorm:"column:postid;not null;index" json:"postid"`
	Caption      string `json:"caption"`
	Media        string `json:"media"`
	MediaType    string `gorm:"default:'IMAGE'" json:"media_type"` // IMAGE, VIDEO, CAROSEL_ALBUM
}

// Listener is the reply configuration for an automation. The DM image and
// link buttons are first-class columns rather than JSON packed into the
// comment reply text.
type Listener struct {
	gorm.Model
	AutomationID uint `gorm:"not null;uniqueIndex" json:"automation_id"`

	Listener     string  `gorm:"not null" json:"listener"` // MESSAGE, SMARTAI
	Prompt       string  `gorm:"not null" json:"prompt"`
	CommentReply *string `json:"comment_reply,omitempty"`
	DmImage      *string `json:"dm_image,omitempty"`

	DmCount      int `gorm:"default:0" json:"dm_count"`
	CommentCount int `gorm:"default:0" json:"comment_count"`

	Links []ListenerLink `gorm:"foreignKey:ListenerID" json:"links,omitempty"`
}

// ListenerLink is one link appended to an outgoing DM. The messaging
// endpoint has no button support for private replies, so links are
// flattened into the message text at send time.
type ListenerLink struct {
	gorm.Model
	ListenerID uint   `gorm:"not null;index" json:"listener_id"`
	Title      string `gorm:"not null" json:"title"`
	URL        string `gorm:"not null" json:"url"`
}

// Dm is one conversation turn, kept to rebuild AI chat context. Rows are
// pure inserts, never updated or pruned.
type Dm struct {
	gorm.Model
	AutomationID uint   `gorm:"not null;index" json:"automation_id"`
	SenderID     string `gorm:"index" json:"sender_id"`
	ReceiverID   string `gorm:"index" json:"receiver_id"`
	Message      string `json:"message"`
}
