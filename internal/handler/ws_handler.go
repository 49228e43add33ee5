// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"
	"strings"
	"time"

	"talanoor-go/internal/middleware"
	"talanoor-go/internal/realtime"
	"talanoor-go/internal/service"
	"talanoor-go/pkg/log"
	"talanoor-go/pkg/metrics"
	"talanoor-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// StreamHandler 通过 WebSocket 把单个对话的事件实时推送给客户端，取代定时轮询。
type StreamHandler struct {
	chatService service.ChatService
	userService service.UserService
	jwtManager  *token.JWTManager
	broker      realtime.Broker
}

// NewStreamHandler 创建一个新的 StreamHandler。
func NewStreamHandler(chatService service.ChatService, userService service.UserService, jwtManager *token.JWTManager, broker realtime.Broker) *StreamHandler {
	return &StreamHandler{
		chatService: chatService,
		userService: userService,
		jwtManager:  jwtManager,
		broker:      broker,
	}
}

// actorFor 根据查询参数确定连接方身份：token 为登录用户，guestToken 为游客。
func (h *StreamHandler) actorFor(c *gin.Context) (service.Actor, bool) {
	if tokenString := strings.TrimSpace(c.Query("token")); tokenString != "" {
		user, _, ok := middleware.Authenticate(c, h.jwtManager, h.userService, tokenString)
		if !ok {
			return service.Actor{}, false
		}
		return service.UserActor(user), true
	}
	if guestToken := strings.TrimSpace(c.Query("guestToken")); guestToken != "" {
		return service.GuestActor(guestToken), true
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "缺少 token 或 guestToken"})
	return service.Actor{}, false
}

// Handle 处理 GET /ws/chats/:chatId。
func (h *StreamHandler) Handle(c *gin.Context) {
	actor, ok := h.actorFor(c)
	if !ok {
		return
	}
	chatID := c.Param("chatId")
	if _, err := h.chatService.Authorize(c.Request.Context(), actor, chatID); err != nil {
		respondError(c, "StreamAuthorize", err)
		return
	}

	// 先订阅再升级，握手完成后发布的事件不会丢失
	events, unsubscribe, err := h.broker.Subscribe(c.Request.Context(), chatID)
	if err != nil {
		respondError(c, "StreamSubscribe", err)
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	metrics.WebsocketConnectionsActive.Inc()
	defer metrics.WebsocketConnectionsActive.Dec()
	log.Infow("WebSocket 连接已建立", "chatId", chatID, "guest", actor.IsGuest())

	// 读循环只用于处理 pong 和发现连接关闭，客户端发送的消息一律忽略
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			log.Infow("WebSocket 连接已关闭", "chatId", chatID)
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream ended"), time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Warnf("推送对话事件失败: %v", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
