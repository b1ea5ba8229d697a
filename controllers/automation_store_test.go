package controller

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"mation/models"
	"mation/utils"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.Subscription{},
		&models.Integration{},
		&models.Automation{},
		&models.Keyword{},
		&models.Trigger{},
		&models.Post{},
		&models.Listener{},
		&models.ListenerLink{},
		&models.Dm{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func createAutomation(t *testing.T, db *gorm.DB) *models.Automation {
	t.Helper()

	user := models.User{ExternalID: "ext-builder"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	automation := models.Automation{UserID: user.ID, Name: "builder"}
	if err := db.Create(&automation).Error; err != nil {
		t.Fatalf("failed to create automation: %v", err)
	}
	return &automation
}

func countRows(t *testing.T, db *gorm.DB, model interface{}, automationID uint) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Where("automation_id = ?", automationID).Count(&n).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	return n
}

func TestReplaceKeywordReplacesNotAppends(t *testing.T) {
	db := openTestDB(t)
	automation := createAutomation(t, db)

	if err := ReplaceKeyword(db, automation.ID, "price"); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	if err := ReplaceKeyword(db, automation.ID, "discount"); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	if n := countRows(t, db, &models.Keyword{}, automation.ID); n != 1 {
		t.Errorf("expected 1 keyword after two saves, got %d", n)
	}

	var keyword models.Keyword
	db.Where("automation_id = ?", automation.ID).First(&keyword)
	if keyword.Word != "discount" {
		t.Errorf("expected the latest word to win, got %q", keyword.Word)
	}
}

func TestReplaceTriggersReplacesAndDeduplicates(t *testing.T) {
	db := openTestDB(t)
	automation := createAutomation(t, db)

	err := ReplaceTriggers(db, automation.ID, []string{models.TriggerComment, models.TriggerDM, models.TriggerComment})
	if err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	if n := countRows(t, db, &models.Trigger{}, automation.ID); n != 2 {
		t.Errorf("expected duplicates collapsed to 2 triggers, got %d", n)
	}

	err = ReplaceTriggers(db, automation.ID, []string{models.TriggerDM})
	if err != nil {
		t.Fatalf("second save failed: %v", err)
	}
	if n := countRows(t, db, &models.Trigger{}, automation.ID); n != 1 {
		t.Errorf("expected 1 trigger after re-save, got %d", n)
	}
}

func TestReplaceTriggersRejectsEmptySet(t *testing.T) {
	db := openTestDB(t)
	automation := createAutomation(t, db)

	if err := ReplaceTriggers(db, automation.ID, nil); err == nil {
		t.Error("expected an error for an empty trigger set")
	}
}

func TestReplacePostsReplacesNotAppends(t *testing.T) {
	db := openTestDB(t)
	automation := createAutomation(t, db)

	first := []models.Post{
		{PostID: "111", Media: "https://example.com/a.jpg"},
		{PostID: "222", Media: "https://example.com/b.jpg"},
	}
	if err := ReplacePosts(db, automation.ID, first); err != nil {
		t.Fatalf("first save failed: %v", err)
	}

	second := []models.Post{{PostID: "333", Media: "https://example.com/c.jpg"}}
	if err := ReplacePosts(db, automation.ID, second); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	if n := countRows(t, db, &models.Post{}, automation.ID); n != 1 {
		t.Errorf("expected 1 post after re-save, got %d", n)
	}
	var post models.Post
	db.Where("automation_id = ?", automation.ID).First(&post)
	if post.PostID != "333" {
		t.Errorf("expected the latest post set, got %q", post.PostID)
	}
}

func TestUpsertListenerPreservesCountersAndReplacesLinks(t *testing.T) {
	db := openTestDB(t)
	automation := createAutomation(t, db)

	err := UpsertListener(db, automation.ID, ListenerInput{
		Listener: models.ListenerMessage,
		Prompt:   "first version",
		Links:    []models.ListenerLink{{Title: "Shop", URL: "https://shop.example.com"}},
	})
	if err != nil {
		t.Fatalf("first save failed: %v", err)
	}

	// Simulate dispatched responses between the two saves.
	err = db.Model(&models.Listener{}).
		Where("automation_id = ?", automation.ID).
		Updates(map[string]interface{}{"dm_count": 4, "comment_count": 2}).Error
	if err != nil {
		t.Fatalf("failed to bump counters: %v", err)
	}

	err = UpsertListener(db, automation.ID, ListenerInput{
		Listener:     models.ListenerSmartAI,
		Prompt:       "second version",
		CommentReply: utils.Pointer("Check your DMs!"),
		Links: []models.ListenerLink{
			{Title: "Docs", URL: "https://docs.example.com"},
			{Title: "Pricing", URL: "https://example.com/pricing"},
		},
	})
	if err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	if n := countRows(t, db, &models.Listener{}, automation.ID); n != 1 {
		t.Fatalf("expected a single listener row, got %d", n)
	}

	var listener models.Listener
	if err := db.Where("automation_id = ?", automation.ID).First(&listener).Error; err != nil {
		t.Fatalf("failed to reload listener: %v", err)
	}
	if listener.Listener != models.ListenerSmartAI || listener.Prompt != "second version" {
		t.Errorf("expected updated configuration, got %s %q", listener.Listener, listener.Prompt)
	}
	if listener.DmCount != 4 || listener.CommentCount != 2 {
		t.Errorf("expected counters to survive the update, got dm=%d comment=%d", listener.DmCount, listener.CommentCount)
	}

	var links []models.ListenerLink
	db.Where("listener_id = ?", listener.ID).Order("id asc").Find(&links)
	if len(links) != 2 {
		t.Fatalf("expected old links replaced by 2 new ones, got %d", len(links))
	}
	if links[0].Title != "Docs" || links[1].Title != "Pricing" {
		t.Errorf("expected the new link set, got %+v", links)
	}
}

func TestValidateActivation(t *testing.T) {
	keyword := models.Keyword{Word: "price"}
	listener := models.Listener{Listener: models.ListenerMessage}

	cases := []struct {
		name       string
		automation models.Automation
		wantErr    bool
	}{
		{
			name:       "missing keyword",
			automation: models.Automation{Triggers: []models.Trigger{{Type: models.TriggerDM}}, Listener: &listener},
			wantErr:    true,
		},
		{
			name:       "missing trigger",
			automation: models.Automation{Keywords: []models.Keyword{keyword}, Listener: &listener},
			wantErr:    true,
		},
		{
			name:       "missing listener",
			automation: models.Automation{Keywords: []models.Keyword{keyword}, Triggers: []models.Trigger{{Type: models.TriggerDM}}},
			wantErr:    true,
		},
		{
			name: "comment trigger without a post",
			automation: models.Automation{
				Keywords: []models.Keyword{keyword},
				Triggers: []models.Trigger{{Type: models.TriggerComment}},
				Listener: &listener,
			},
			wantErr: true,
		},
		{
			name: "complete comment automation",
			automation: models.Automation{
				Keywords: []models.Keyword{keyword},
				Triggers: []models.Trigger{{Type: models.TriggerComment}},
				Posts:    []models.Post{{PostID: "123"}},
				Listener: &listener,
			},
			wantErr: false,
		},
		{
			name: "complete dm automation without posts",
			automation: models.Automation{
				Keywords: []models.Keyword{keyword},
				Triggers: []models.Trigger{{Type: models.TriggerDM}},
				Listener: &listener,
			},
			wantErr: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateActivation(&tc.automation)
			if tc.wantErr && err == nil {
				t.Error("expected a validation error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("expected activation to pass, got %v", err)
			}
		})
	}
}
