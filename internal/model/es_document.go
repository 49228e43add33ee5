package model

import "time"

// MessageDocument 是写入 Elasticsearch 的消息文档。
type MessageDocument struct {
	MessageID  uint      `json:"message_id"`
	ChatID     string    `json:"chat_id"`
	Content    string    `json:"content"`
	IsFromUser bool      `json:"is_from_user"`
	IsGuest    bool      `json:"is_guest"`
	UserID     *uint     `json:"user_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// MessageSearchHit 是管理员全文检索返回的单条结果。
type MessageSearchHit struct {
	MessageDocument
	Score     float64  `json:"score"`
	Highlight []string `json:"highlight,omitempty"`
}
