package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"talanoor-go/internal/model"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB 打开一个独立的内存 SQLite 库并建好表。
// 只保留一个连接，所有语句落在同一个内存库上。
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&model.User{}, &model.Conversation{}, &model.Message{}); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

func createConversation(t *testing.T, db *gorm.DB, userID *uint, status string, updatedAt time.Time) *model.Conversation {
	t.Helper()
	conv := &model.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    status,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
	if userID == nil {
		name, phone := "مهمان", "09120000000"
		conv.GuestName, conv.Phone = &name, &phone
	}
	if err := NewConversationRepository(db).Create(context.Background(), conv); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return conv
}

func countMessages(t *testing.T, db *gorm.DB, chatID string) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&model.Message{}).Where("chat_id = ?", chatID).Count(&n).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	return n
}

var errClosed = errors.New("conversation closed")

func rejectClosed(conv *model.Conversation) error {
	if conv.IsClosed() {
		return errClosed
	}
	return nil
}

func TestAppendRejectedByGuardWritesNothing(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	before := time.Now().Add(-time.Hour).Truncate(time.Second)
	conv := createConversation(t, db, nil, model.ChatStatusClosed, before)

	_, created, err := repo.Append(context.Background(), &model.Message{ChatID: conv.ID, Content: "سلام", IsFromUser: true}, rejectClosed)
	if !errors.Is(err, errClosed) {
		t.Fatalf("expected guard error, got %v", err)
	}
	if created {
		t.Fatal("created must be false when the guard rejects")
	}
	if n := countMessages(t, db, conv.ID); n != 0 {
		t.Fatalf("expected no message row, found %d", n)
	}

	var reloaded model.Conversation
	if err := db.First(&reloaded, "id = ?", conv.ID).Error; err != nil {
		t.Fatalf("reload conversation: %v", err)
	}
	if !reloaded.UpdatedAt.Equal(before) {
		t.Fatalf("updated_at must not move on a rejected append: %v -> %v", before, reloaded.UpdatedAt)
	}
}

func TestAppendUnknownConversation(t *testing.T) {
	db := newTestDB(t)
	_, _, err := NewMessageRepository(db).Append(context.Background(), &model.Message{ChatID: uuid.NewString(), Content: "x"}, nil)
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestAppendDeduplicatesClientMsgID(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()
	conv := createConversation(t, db, nil, model.ChatStatusOpen, time.Now().Add(-time.Hour))

	clientID := "c-1"
	first, created, err := repo.Append(ctx, &model.Message{ChatID: conv.ID, Content: "سلام", IsFromUser: true, ClientMsgID: &clientID}, rejectClosed)
	if err != nil || !created {
		t.Fatalf("first append: created=%v err=%v", created, err)
	}

	retryID := "c-1"
	second, created, err := repo.Append(ctx, &model.Message{ChatID: conv.ID, Content: "سلام", IsFromUser: true, ClientMsgID: &retryID}, rejectClosed)
	if err != nil {
		t.Fatalf("retry append: %v", err)
	}
	if created {
		t.Fatal("retry with the same clientMsgId must not create a row")
	}
	if second.ID != first.ID {
		t.Fatalf("expected the stored message %d, got %d", first.ID, second.ID)
	}
	if n := countMessages(t, db, conv.ID); n != 1 {
		t.Fatalf("expected one message row, found %d", n)
	}

	// 同一个 clientMsgId 在另一个对话里互不影响
	other := createConversation(t, db, nil, model.ChatStatusOpen, time.Now())
	if _, created, err := repo.Append(ctx, &model.Message{ChatID: other.ID, Content: "سلام", ClientMsgID: &retryID}, nil); err != nil || !created {
		t.Fatalf("append to another chat: created=%v err=%v", created, err)
	}

	// 不带 clientMsgId 的消息不去重
	for i := 0; i < 2; i++ {
		if _, created, err := repo.Append(ctx, &model.Message{ChatID: conv.ID, Content: "دوباره"}, nil); err != nil || !created {
			t.Fatalf("append without clientMsgId: created=%v err=%v", created, err)
		}
	}
	if n := countMessages(t, db, conv.ID); n != 3 {
		t.Fatalf("expected three message rows, found %d", n)
	}
}

func TestAppendTouchesConversationUpdatedAt(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	before := time.Now().Add(-time.Hour)
	conv := createConversation(t, db, nil, model.ChatStatusOpen, before)

	stored, _, err := repo.Append(context.Background(), &model.Message{ChatID: conv.ID, Content: "سلام", IsFromUser: true}, rejectClosed)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	var reloaded model.Conversation
	if err := db.First(&reloaded, "id = ?", conv.ID).Error; err != nil {
		t.Fatalf("reload conversation: %v", err)
	}
	if reloaded.UpdatedAt.Before(stored.CreatedAt) {
		t.Fatalf("conversation updated_at %v is older than message created_at %v", reloaded.UpdatedAt, stored.CreatedAt)
	}
	if !reloaded.UpdatedAt.After(before) {
		t.Fatalf("expected updated_at to advance past %v, got %v", before, reloaded.UpdatedAt)
	}
}

func TestAppendKeepsOperatorSide(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()
	conv := createConversation(t, db, nil, model.ChatStatusOpen, time.Now())

	if _, _, err := repo.Append(ctx, &model.Message{ChatID: conv.ID, Content: "سلام، چطور کمک کنم؟", IsFromUser: false}, nil); err != nil {
		t.Fatalf("Append operator: %v", err)
	}
	if _, _, err := repo.Append(ctx, &model.Message{ChatID: conv.ID, Content: "قیمت سکه؟", IsFromUser: true}, nil); err != nil {
		t.Fatalf("Append user: %v", err)
	}

	msgs, err := repo.ListByChat(ctx, conv.ID)
	if err != nil {
		t.Fatalf("ListByChat: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].IsFromUser || !msgs[1].IsFromUser {
		t.Fatalf("sender side not preserved: %+v", msgs)
	}
	if msgs[0].ID > msgs[1].ID {
		t.Fatalf("expected chronological order, got ids %d, %d", msgs[0].ID, msgs[1].ID)
	}
}

func TestListByChatEmpty(t *testing.T) {
	db := newTestDB(t)
	msgs, err := NewMessageRepository(db).ListByChat(context.Background(), uuid.NewString())
	if err != nil {
		t.Fatalf("ListByChat: %v", err)
	}
	if msgs == nil || len(msgs) != 0 {
		t.Fatalf("expected an empty non-nil slice, got %#v", msgs)
	}
}
