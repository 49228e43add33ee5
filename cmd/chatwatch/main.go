// chatwatch 在终端里跟踪一个客服对话：优先通过 WebSocket 订阅，连接失败时回退到定时轮询。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"talanoor-go/internal/model"
	"talanoor-go/internal/realtime"
	"talanoor-go/pkg/log"
	"talanoor-go/pkg/supportclient"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	log.Init("info", "console", "")
	defer log.Sync()

	addr := flag.String("addr", envOr("TALANOOR_ADDR", "http://localhost:8080"), "服务地址")
	chatID := flag.String("chat", "", "对话 ID")
	tok := flag.String("token", os.Getenv("TALANOOR_TOKEN"), "登录用户的 access token")
	guestToken := flag.String("guest-token", os.Getenv("TALANOOR_GUEST_TOKEN"), "游客的访客令牌")
	say := flag.String("say", "", "启动时先发送的一条消息")
	interval := flag.Duration("poll", supportclient.DefaultPollInterval, "回退轮询的间隔")
	retry := flag.Duration("retry", time.Minute, "回退轮询多久后重新尝试实时连接")
	flag.Parse()

	if *chatID == "" || (*tok == "" && *guestToken == "") {
		flag.Usage()
		log.Fatalf("需要 -chat 以及 -token 或 -guest-token")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := supportclient.NewClient(*addr, supportclient.Auth{Token: *tok, GuestToken: *guestToken})

	if *say != "" {
		key := fmt.Sprintf("chatwatch-%d", time.Now().UnixNano())
		if _, err := client.Send(ctx, *chatID, *say, key); err != nil {
			log.Fatalf("发送消息失败: %v", err)
		}
	}

	w := &watcher{client: client, chatID: *chatID, interval: *interval, retry: *retry}
	w.run(ctx)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type watcher struct {
	client   *supportclient.Client
	chatID   string
	interval time.Duration
	retry    time.Duration
	lastID   uint
}

func (w *watcher) run(ctx context.Context) {
	for ctx.Err() == nil {
		// 先全量拉取一次，补上订阅建立之前的消息
		if msgs, err := w.client.Messages(ctx, w.chatID); err == nil {
			w.printNew(msgs)
		}

		events, err := w.client.Subscribe(ctx, w.chatID)
		if err == nil {
			log.Infow("实时连接已建立", "chatId", w.chatID)
			for ev := range events {
				w.printEvent(ev)
			}
			if ctx.Err() != nil {
				return
			}
			log.Warnf("实时连接已断开，回退到轮询")
		} else {
			log.Warnf("实时连接失败，回退到轮询: %v", err)
		}

		pollCtx, cancel := context.WithTimeout(ctx, w.retry)
		supportclient.NewPoller(w.client, w.chatID, w.interval, w.printNew).Run(pollCtx)
		cancel()
	}
}

// printNew 轮询每次拿到完整列表，只打印还没显示过的部分。
func (w *watcher) printNew(msgs []model.Message) {
	for _, m := range msgs {
		if m.ID > w.lastID {
			printMessage(m)
			w.lastID = m.ID
		}
	}
}

func (w *watcher) printEvent(ev realtime.Event) {
	switch ev.Type {
	case realtime.EventMessage:
		if ev.Message != nil && ev.Message.ID > w.lastID {
			printMessage(*ev.Message)
			w.lastID = ev.Message.ID
		}
	case realtime.EventStatus:
		fmt.Printf("--- وضعیت: %s (%s)\n", ev.Status, ev.At.Local().Format("15:04:05"))
	}
}

func printMessage(m model.Message) {
	side := "پشتیبانی"
	if m.IsFromUser {
		side = "کاربر"
	}
	fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), side, m.Content)
}
