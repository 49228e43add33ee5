// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "time"

// MessageIndexTask 是一条需要写入搜索索引的聊天消息。
type MessageIndexTask struct {
	MessageID  uint      `json:"message_id"`
	ChatID     string    `json:"chat_id"`
	Content    string    `json:"content"`
	IsFromUser bool      `json:"is_from_user"`
	IsGuest    bool      `json:"is_guest"`
	UserID     *uint     `json:"user_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
