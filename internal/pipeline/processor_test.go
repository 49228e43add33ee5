package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"talanoor-go/internal/model"
	"talanoor-go/pkg/tasks"
)

type recordingIndexer struct {
	docs []model.MessageDocument
	err  error
}

func (r *recordingIndexer) IndexMessage(_ context.Context, doc model.MessageDocument) error {
	if r.err != nil {
		return r.err
	}
	r.docs = append(r.docs, doc)
	return nil
}

func TestProcessIndexesMessage(t *testing.T) {
	idx := &recordingIndexer{}
	p := NewProcessor(idx)
	uid := uint(7)
	task := tasks.MessageIndexTask{
		MessageID:  42,
		ChatID:     "c-1",
		Content:    "قیمت سکه امروز چند است؟",
		IsFromUser: true,
		UserID:     &uid,
		CreatedAt:  time.Now(),
	}

	if err := p.Process(context.Background(), task); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(idx.docs) != 1 {
		t.Fatalf("expected 1 indexed doc, got %d", len(idx.docs))
	}
	got := idx.docs[0]
	if got.MessageID != 42 || got.ChatID != "c-1" || got.UserID == nil || *got.UserID != 7 {
		t.Fatalf("unexpected doc: %+v", got)
	}
}

func TestProcessSkipsBlankContent(t *testing.T) {
	idx := &recordingIndexer{}
	p := NewProcessor(idx)

	if err := p.Process(context.Background(), tasks.MessageIndexTask{MessageID: 1, Content: "  \n"}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(idx.docs) != 0 {
		t.Fatalf("blank content should not be indexed")
	}
}

func TestProcessPropagatesIndexError(t *testing.T) {
	idx := &recordingIndexer{err: errors.New("es down")}
	p := NewProcessor(idx)

	err := p.Process(context.Background(), tasks.MessageIndexTask{MessageID: 1, Content: "سلام"})
	if err == nil {
		t.Fatal("expected error so the consumer retries")
	}
}
