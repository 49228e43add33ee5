package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"talanoor-go/pkg/tasks"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// scriptedReader 依次返回预设的结果，用完后阻塞到 ctx 取消。
type scriptedReader struct {
	mu        sync.Mutex
	results   []fetchResult
	fetches   int
	committed []kafka.Message
}

type fetchResult struct {
	msg kafka.Message
	err error
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	r.fetches++
	if len(r.results) > 0 {
		res := r.results[0]
		r.results = r.results[1:]
		r.mu.Unlock()
		return res.msg, res.err
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *scriptedReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

type recordingProcessor struct {
	mu    sync.Mutex
	seen  []tasks.MessageIndexTask
	fail  bool
	onRun func()
}

func (p *recordingProcessor) Process(_ context.Context, task tasks.MessageIndexTask) error {
	p.mu.Lock()
	p.seen = append(p.seen, task)
	p.mu.Unlock()
	if p.onRun != nil {
		p.onRun()
	}
	if p.fail {
		return errors.New("index unavailable")
	}
	return nil
}

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func shortBackoff(t *testing.T) {
	t.Helper()
	origMin, origMax := fetchBackoffMin, fetchBackoffMax
	fetchBackoffMin, fetchBackoffMax = time.Millisecond, 4*time.Millisecond
	t.Cleanup(func() { fetchBackoffMin, fetchBackoffMax = origMin, origMax })
}

func taskMessage(t *testing.T, task tasks.MessageIndexTask) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}
	return kafka.Message{Key: []byte(task.ChatID), Value: raw}
}

func runConsume(t *testing.T, ctx context.Context, r messageReader, rdb *redis.Client, p TaskProcessor) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		consume(ctx, r, rdb, p)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop after cancellation")
	}
}

func TestConsumeKeepsRunningAfterFetchErrors(t *testing.T) {
	shortBackoff(t)
	rdb, _ := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := taskMessage(t, tasks.MessageIndexTask{MessageID: 7, ChatID: "chat-1", Content: "سلام"})
	reader := &scriptedReader{results: []fetchResult{
		{err: errors.New("broker unreachable")},
		{err: errors.New("broker unreachable")},
		{msg: msg},
	}}
	proc := &recordingProcessor{onRun: cancel}

	runConsume(t, ctx, reader, rdb, proc)

	if len(proc.seen) != 1 || proc.seen[0].MessageID != 7 {
		t.Fatalf("expected task 7 to be processed after fetch errors, got %+v", proc.seen)
	}
	if len(reader.committed) != 1 {
		t.Fatalf("expected one committed message, got %d", len(reader.committed))
	}
}

func TestConsumeStopsWhileBackingOff(t *testing.T) {
	origMin, origMax := fetchBackoffMin, fetchBackoffMax
	fetchBackoffMin, fetchBackoffMax = time.Hour, time.Hour
	t.Cleanup(func() { fetchBackoffMin, fetchBackoffMax = origMin, origMax })
	rdb, _ := newTestRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	reader := &scriptedReader{results: []fetchResult{{err: errors.New("broker unreachable")}}}
	runConsume(t, ctx, reader, rdb, &recordingProcessor{})

	if reader.fetches != 1 {
		t.Fatalf("expected a single fetch before shutdown, got %d", reader.fetches)
	}
}

func TestConsumeCommitsAfterMaxAttempts(t *testing.T) {
	shortBackoff(t)
	rdb, mr := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := taskMessage(t, tasks.MessageIndexTask{MessageID: 9, ChatID: "chat-2"})
	results := make([]fetchResult, maxAttempts)
	for i := range results {
		results[i] = fetchResult{msg: msg}
	}
	reader := &scriptedReader{results: results}
	proc := &recordingProcessor{fail: true}
	proc.onRun = func() {
		proc.mu.Lock()
		n := len(proc.seen)
		proc.mu.Unlock()
		if n == maxAttempts {
			// 最后一次失败处理完成后才取消，留出提交的机会
			go func() {
				time.Sleep(20 * time.Millisecond)
				cancel()
			}()
		}
	}

	runConsume(t, ctx, reader, rdb, proc)

	if len(reader.committed) != 1 {
		t.Fatalf("expected the poisoned task to be committed once, got %d", len(reader.committed))
	}
	got, err := mr.Get("kafka:attempts:message:9")
	if err != nil || got != "3" {
		t.Fatalf("expected attempts counter 3, got %q (%v)", got, err)
	}
}

func TestConsumeCommitsMalformedMessage(t *testing.T) {
	rdb, _ := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &scriptedReader{results: []fetchResult{{msg: kafka.Message{Value: []byte("not-json")}}}}
	proc := &recordingProcessor{}
	go func() {
		for {
			reader.mu.Lock()
			n := len(reader.committed)
			reader.mu.Unlock()
			if n > 0 {
				cancel()
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	runConsume(t, ctx, reader, rdb, proc)

	if len(proc.seen) != 0 {
		t.Fatalf("malformed message must not reach the processor, got %+v", proc.seen)
	}
}
