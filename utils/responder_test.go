package utils

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"mation/models"
)

type sentCall struct {
	kind      string // dm, dm_image, public_reply, private_reply
	recipient string
	message   string
}

type fakeSender struct {
	calls []sentCall
	fail  error
}

func (f *fakeSender) SendDM(ctx context.Context, pageID, recipientID, text, token string) error {
	f.calls = append(f.calls, sentCall{kind: "dm", recipient: recipientID, message: text})
	return f.fail
}

func (f *fakeSender) SendDMImage(ctx context.Context, pageID, recipientID, imageURL, token string) error {
	f.calls = append(f.calls, sentCall{kind: "dm_image", recipient: recipientID, message: imageURL})
	return f.fail
}

func (f *fakeSender) ReplyToComment(ctx context.Context, commentID, message, token string) error {
	f.calls = append(f.calls, sentCall{kind: "public_reply", recipient: commentID, message: message})
	return f.fail
}

func (f *fakeSender) PrivateReplyToComment(ctx context.Context, pageID, commentID, message, token string) error {
	f.calls = append(f.calls, sentCall{kind: "private_reply", recipient: commentID, message: message})
	return f.fail
}

func (f *fakeSender) count(kind string) int {
	n := 0
	for _, c := range f.calls {
		if c.kind == kind {
			n++
		}
	}
	return n
}

type fakeAI struct {
	calls   int
	history []ChatTurn
	reply   string
	err     error
}

func (f *fakeAI) Complete(ctx context.Context, prompt string, history []ChatTurn, userText string) (string, error) {
	f.calls++
	f.history = history
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fixture struct {
	db         *gorm.DB
	sender     *fakeSender
	ai         *fakeAI
	responder  *Responder
	automation *models.Automation
	user       *models.User
}

// newFixture seeds a complete automation owned by a user with a healthy
// integration token.
func newFixture(t *testing.T, plan, listenerMode, trigger string) *fixture {
	t.Helper()

	db := openTestDB(t)

	user := models.User{ExternalID: "ext-responder"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	db.Create(&models.Subscription{UserID: user.ID, Plan: plan})

	expiry := time.Now().Add(30 * 24 * time.Hour)
	db.Create(&models.Integration{
		UserID:      user.ID,
		Token:       "ig-token",
		ExpiresAt:   &expiry,
		InstagramID: "acct-1",
	})

	automation := models.Automation{UserID: user.ID, Name: "prices", Active: true}
	if err := db.Create(&automation).Error; err != nil {
		t.Fatalf("failed to create automation: %v", err)
	}
	db.Create(&models.Keyword{AutomationID: automation.ID, Word: "price"})
	db.Create(&models.Trigger{AutomationID: automation.ID, Type: trigger})
	db.Create(&models.Post{AutomationID: automation.ID, PostID: "123", Media: "https://example.com/p.jpg"})
	db.Create(&models.Listener{
		AutomationID: automation.ID,
		Listener:     listenerMode,
		Prompt:       "Our prices are in the DM!",
		CommentReply: Pointer("Check your DMs!"),
	})

	sender := &fakeSender{}
	ai := &fakeAI{reply: "Here is our price list."}
	responder := &Responder{
		DB:      db,
		Matcher: NewMatcher(db),
		Sender:  sender,
		AI:      ai,
		Tokens:  NewTokenManager(db, &fakeRefresher{response: &TokenResponse{AccessToken: "x"}}, testLogger()),
		PageID:  "page-1",
		Logger:  testLogger(),
	}

	return &fixture{db: db, sender: sender, ai: ai, responder: responder, automation: &automation, user: &user}
}

func (f *fixture) listener(t *testing.T) *models.Listener {
	t.Helper()
	var listener models.Listener
	if err := f.db.Where("automation_id = ?", f.automation.ID).First(&listener).Error; err != nil {
		t.Fatalf("failed to load listener: %v", err)
	}
	return &listener
}

func TestHandleCommentSendsPublicAndPrivateReply(t *testing.T) {
	f := newFixture(t, models.PlanFree, models.ListenerMessage, models.TriggerComment)

	result := f.responder.HandleComment(context.Background(), "what's the price?", "c-1", "123", "u-9")

	if result.Outcome != OutcomeSent {
		t.Fatalf("expected SENT, got %s (%s)", result.Outcome, result.Reason)
	}
	if got := f.sender.count("public_reply"); got != 1 {
		t.Errorf("expected 1 public reply, got %d", got)
	}
	if got := f.sender.count("private_reply"); got != 1 {
		t.Errorf("expected 1 private reply, got %d", got)
	}
	if listener := f.listener(t); listener.CommentCount != 1 {
		t.Errorf("expected commentCount 1, got %d", listener.CommentCount)
	}
}

func TestHandleCommentIgnoresOtherPosts(t *testing.T) {
	f := newFixture(t, models.PlanFree, models.ListenerMessage, models.TriggerComment)

	result := f.responder.HandleComment(context.Background(), "what's the price?", "c-1", "999", "u-9")

	if result.Outcome != OutcomeNoMatch {
		t.Fatalf("expected NO_MATCH for unmonitored post, got %s", result.Outcome)
	}
	if len(f.sender.calls) != 0 {
		t.Errorf("expected zero outbound calls, got %v", f.sender.calls)
	}
	if listener := f.listener(t); listener.CommentCount != 0 {
		t.Errorf("expected commentCount unchanged, got %d", listener.CommentCount)
	}
}

func TestHandleCommentRequiresCommentTrigger(t *testing.T) {
	f := newFixture(t, models.PlanFree, models.ListenerMessage, models.TriggerDM)

	result := f.responder.HandleComment(context.Background(), "price", "c-1", "123", "u-9")

	if result.Outcome != OutcomeNoTrigger {
		t.Fatalf("expected NO_TRIGGER, got %s", result.Outcome)
	}
	if len(f.sender.calls) != 0 {
		t.Errorf("expected zero outbound calls, got %v", f.sender.calls)
	}
}

func TestHandleCommentSmartAIRequiresProPlan(t *testing.T) {
	f := newFixture(t, models.PlanFree, models.ListenerSmartAI, models.TriggerComment)

	result := f.responder.HandleComment(context.Background(), "price", "c-1", "123", "u-9")

	if result.Outcome != OutcomeNotEligible {
		t.Fatalf("expected NOT_ELIGIBLE, got %s", result.Outcome)
	}
	if f.ai.calls != 0 {
		t.Errorf("expected zero AI calls, got %d", f.ai.calls)
	}
	if len(f.sender.calls) != 0 {
		t.Errorf("expected zero outbound calls, got %v", f.sender.calls)
	}
}

func TestHandleCommentSmartAIRepliesAndRecordsHistory(t *testing.T) {
	f := newFixture(t, models.PlanPro, models.ListenerSmartAI, models.TriggerComment)

	result := f.responder.HandleComment(context.Background(), "what's the price?", "c-1", "123", "u-9")

	if result.Outcome != OutcomeSent {
		t.Fatalf("expected SENT, got %s (%s)", result.Outcome, result.Reason)
	}
	if f.ai.calls != 1 {
		t.Errorf("expected 1 AI call, got %d", f.ai.calls)
	}
	if got := f.sender.count("private_reply"); got != 1 {
		t.Errorf("expected 1 private reply, got %d", got)
	}

	var turns []models.Dm
	f.db.Where("automation_id = ?", f.automation.ID).Order("id asc").Find(&turns)
	if len(turns) != 2 {
		t.Fatalf("expected 2 chat history rows, got %d", len(turns))
	}
	if turns[0].SenderID != "u-9" || turns[1].SenderID != "page-1" {
		t.Errorf("expected user turn then page turn, got %q then %q", turns[0].SenderID, turns[1].SenderID)
	}
	if listener := f.listener(t); listener.CommentCount != 1 {
		t.Errorf("expected commentCount 1, got %d", listener.CommentCount)
	}
}

func TestHandleMessageSendsTemplateDM(t *testing.T) {
	f := newFixture(t, models.PlanFree, models.ListenerMessage, models.TriggerDM)

	result := f.responder.HandleMessage(context.Background(), "price please", "u-9", "page-1")

	if result.Outcome != OutcomeSent {
		t.Fatalf("expected SENT, got %s (%s)", result.Outcome, result.Reason)
	}
	if got := f.sender.count("dm"); got != 1 {
		t.Errorf("expected 1 DM, got %d", got)
	}
	if f.sender.calls[0].message != "Our prices are in the DM!" {
		t.Errorf("expected the configured template verbatim, got %q", f.sender.calls[0].message)
	}
	if listener := f.listener(t); listener.DmCount != 1 {
		t.Errorf("expected dmCount 1, got %d", listener.DmCount)
	}
}

func TestHandleMessageContinuesConversationWithHistory(t *testing.T) {
	f := newFixture(t, models.PlanPro, models.ListenerSmartAI, models.TriggerDM)

	// Previous exchange between the user and the page.
	f.db.Create(&models.Dm{AutomationID: f.automation.ID, SenderID: "u-9", ReceiverID: "page-1", Message: "hi"})
	f.db.Create(&models.Dm{AutomationID: f.automation.ID, SenderID: "page-1", ReceiverID: "u-9", Message: "hello!"})

	// "thanks" matches no keyword, so this rides on the existing thread.
	result := f.responder.HandleMessage(context.Background(), "thanks", "u-9", "page-1")

	if result.Outcome != OutcomeSent {
		t.Fatalf("expected SENT, got %s (%s)", result.Outcome, result.Reason)
	}
	if f.ai.calls != 1 {
		t.Errorf("expected 1 AI call, got %d", f.ai.calls)
	}
	if len(f.ai.history) != 2 {
		t.Fatalf("expected 2 prior turns handed to the AI, got %d", len(f.ai.history))
	}
	if f.ai.history[0].Role != "user" || f.ai.history[1].Role != "assistant" {
		t.Errorf("expected user then assistant roles, got %q then %q", f.ai.history[0].Role, f.ai.history[1].Role)
	}
	if got := f.sender.count("dm"); got != 1 {
		t.Errorf("expected 1 continuation DM, got %d", got)
	}
}

// seedTenant creates a PRO user with a connected account and an active
// SMARTAI automation of their own.
func seedTenant(t *testing.T, db *gorm.DB, externalID, accountID, word string) *models.Automation {
	t.Helper()

	user := models.User{ExternalID: externalID}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	db.Create(&models.Subscription{UserID: user.ID, Plan: models.PlanPro})

	expiry := time.Now().Add(30 * 24 * time.Hour)
	db.Create(&models.Integration{
		UserID:      user.ID,
		Token:       "token-" + accountID,
		ExpiresAt:   &expiry,
		InstagramID: accountID,
	})

	automation := models.Automation{UserID: user.ID, Name: externalID, Active: true}
	if err := db.Create(&automation).Error; err != nil {
		t.Fatalf("failed to create automation: %v", err)
	}
	db.Create(&models.Keyword{AutomationID: automation.ID, Word: word})
	db.Create(&models.Trigger{AutomationID: automation.ID, Type: models.TriggerDM})
	db.Create(&models.Listener{
		AutomationID: automation.ID,
		Listener:     models.ListenerSmartAI,
		Prompt:       "Prompt for " + externalID,
	})
	return &automation
}

func TestContinuationIsScopedToTheRecipientAccount(t *testing.T) {
	db := openTestDB(t)

	// Two tenants, each with their own connected account and a prior
	// thread with the same end user.
	first := seedTenant(t, db, "ext-a", "acct-1", "alpha")
	second := seedTenant(t, db, "ext-b", "acct-2", "beta")

	db.Create(&models.Dm{AutomationID: first.ID, SenderID: "u-9", ReceiverID: "acct-1", Message: "hi acct-1"})
	db.Create(&models.Dm{AutomationID: first.ID, SenderID: "acct-1", ReceiverID: "u-9", Message: "hello from acct-1"})
	db.Create(&models.Dm{AutomationID: second.ID, SenderID: "u-9", ReceiverID: "acct-2", Message: "hi acct-2"})
	db.Create(&models.Dm{AutomationID: second.ID, SenderID: "acct-2", ReceiverID: "u-9", Message: "hello from acct-2"})

	sender := &fakeSender{}
	ai := &fakeAI{reply: "sure"}
	responder := &Responder{
		DB:      db,
		Matcher: NewMatcher(db),
		Sender:  sender,
		AI:      ai,
		Tokens:  NewTokenManager(db, &fakeRefresher{response: &TokenResponse{AccessToken: "x"}}, testLogger()),
		Logger:  testLogger(),
	}

	// No keyword matches "thanks"; the DM was addressed to acct-1, so the
	// continuation must ride on the first tenant's thread even though the
	// second tenant's thread was written more recently.
	result := responder.HandleMessage(context.Background(), "thanks", "u-9", "acct-1")

	if result.Outcome != OutcomeSent {
		t.Fatalf("expected SENT, got %s (%s)", result.Outcome, result.Reason)
	}
	if result.AutomationID != first.ID {
		t.Errorf("expected the recipient account's automation %d, got %d", first.ID, result.AutomationID)
	}
	if len(ai.history) != 2 {
		t.Fatalf("expected only the 2 turns of the acct-1 thread, got %d", len(ai.history))
	}
	if ai.history[0].Content != "hi acct-1" || ai.history[1].Content != "hello from acct-1" {
		t.Errorf("expected acct-1 thread only, got %+v", ai.history)
	}
}

func TestHandleMessageNoMatchNoHistoryIsSilent(t *testing.T) {
	f := newFixture(t, models.PlanFree, models.ListenerMessage, models.TriggerDM)

	result := f.responder.HandleMessage(context.Background(), "unrelated text", "u-9", "page-1")

	if result.Outcome != OutcomeNoMatch {
		t.Fatalf("expected NO_MATCH, got %s", result.Outcome)
	}
	if len(f.sender.calls) != 0 {
		t.Errorf("expected zero outbound calls, got %v", f.sender.calls)
	}
}

func TestHandleCommentAppendsFlattenedLinks(t *testing.T) {
	f := newFixture(t, models.PlanFree, models.ListenerMessage, models.TriggerComment)

	var listener models.Listener
	f.db.Where("automation_id = ?", f.automation.ID).First(&listener)
	f.db.Create(&models.ListenerLink{ListenerID: listener.ID, Title: "Shop", URL: "https://shop.example.com"})

	result := f.responder.HandleComment(context.Background(), "price", "c-1", "123", "u-9")
	if result.Outcome != OutcomeSent {
		t.Fatalf("expected SENT, got %s (%s)", result.Outcome, result.Reason)
	}

	var private *sentCall
	for i := range f.sender.calls {
		if f.sender.calls[i].kind == "private_reply" {
			private = &f.sender.calls[i]
		}
	}
	if private == nil {
		t.Fatal("expected a private reply")
	}
	want := "Our prices are in the DM!\n\nShop\nhttps://shop.example.com"
	if private.message != want {
		t.Errorf("expected links flattened into the message,\nwant %q\ngot  %q", want, private.message)
	}
}
