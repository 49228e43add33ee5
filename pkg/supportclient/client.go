// Package supportclient 是客服对话接口的 Go 客户端：拉取消息、发送消息、订阅实时事件。
package supportclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"talanoor-go/internal/model"
	"talanoor-go/internal/realtime"
	"talanoor-go/pkg/log"

	"github.com/gorilla/websocket"
)

const guestTokenHeader = "X-Guest-Token"

// Auth 是客户端的身份：Token 为登录用户的 access token，GuestToken 为游客的访客令牌。
// 两者都设置时以 Token 为准。
type Auth struct {
	Token      string
	GuestToken string
}

func (a Auth) guest() bool {
	return a.Token == "" && a.GuestToken != ""
}

// APIError 是服务端返回的非 2xx 响应。
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("support api returned %d: %s", e.Status, e.Message)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client 通过 HTTP 和 WebSocket 访问客服对话接口。
type Client struct {
	baseURL string
	auth    Auth
	client  *http.Client
	dialer  *websocket.Dialer
}

// NewClient 创建客户端，baseURL 形如 http://localhost:8080。
func NewClient(baseURL string, auth Auth) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    auth,
		client:  &http.Client{Timeout: 15 * time.Second},
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (c *Client) messagesPath(chatID string) string {
	if c.auth.guest() {
		return "/api/v1/chats/guest/" + url.PathEscape(chatID) + "/messages"
	}
	return "/api/v1/chats/" + url.PathEscape(chatID) + "/messages"
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reqBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(reqBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth.guest() {
		req.Header.Set(guestTokenHeader, c.auth.GuestToken)
	} else if c.auth.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.auth.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call support api: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode/100 != 2 {
			return &APIError{Status: resp.StatusCode, Message: resp.Status}
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return &APIError{Status: resp.StatusCode, Message: env.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

// Messages 拉取对话的完整消息列表，按时间升序。
func (c *Client) Messages(ctx context.Context, chatID string) ([]model.Message, error) {
	var msgs []model.Message
	if err := c.do(ctx, http.MethodGet, c.messagesPath(chatID), nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Send 以当前身份发送一条消息。clientMsgID 非空时服务端按它去重，重试是安全的。
func (c *Client) Send(ctx context.Context, chatID, content, clientMsgID string) (*model.Message, error) {
	body := map[string]interface{}{"content": content}
	if clientMsgID != "" {
		body["clientMsgId"] = clientMsgID
	}
	var msg model.Message
	if err := c.do(ctx, http.MethodPost, c.messagesPath(chatID), body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// streamURL 把 http(s) 地址换成 ws(s)，并带上鉴权查询参数。
func (c *Client) streamURL(chatID string) (string, error) {
	u, err := url.Parse(c.baseURL + "/ws/chats/" + url.PathEscape(chatID))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	if c.auth.guest() {
		q.Set("guestToken", c.auth.GuestToken)
	} else {
		q.Set("token", c.auth.Token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Subscribe 建立 WebSocket 连接并返回对话事件流。
// 连接断开或 ctx 取消时 channel 被关闭，调用方可以据此回退到轮询。
func (c *Client) Subscribe(ctx context.Context, chatID string) (<-chan realtime.Event, error) {
	wsURL, err := c.streamURL(chatID)
	if err != nil {
		return nil, err
	}
	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, &APIError{Status: resp.StatusCode, Message: resp.Status}
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	events := make(chan realtime.Event, 16)
	done := make(chan struct{})

	// ctx 取消时关闭连接，使读循环退出
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = conn.Close()
	}()

	go func() {
		defer close(events)
		defer close(done)
		for {
			var ev realtime.Event
			if err := conn.ReadJSON(&ev); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warnf("[supportclient] 读取事件失败, chatId: %s, error: %v", chatID, err)
				}
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}
