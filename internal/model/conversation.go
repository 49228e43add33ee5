// Package model 包含了应用的数据模型定义。
package model

import "time"

// 对话状态
const (
	ChatStatusOpen   = "open"
	ChatStatusClosed = "closed"
)

// Conversation 是一位访客（游客或注册用户）与客服之间的一段对话。
// UserID 为 nil 表示游客对话，此时 GuestName/Phone 是对话的身份标识。
type Conversation struct {
	ID             string    `gorm:"type:char(36);primaryKey" json:"id"`
	UserID         *uint     `gorm:"index" json:"userId"`
	GuestName      *string   `gorm:"type:varchar(100)" json:"guestName"`
	Phone          *string   `gorm:"type:varchar(20)" json:"phone"`
	GuestTokenHash string    `gorm:"type:char(64)" json:"-"`
	Status         string    `gorm:"type:varchar(16);index;not null;default:open" json:"status"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime;index" json:"updatedAt"`
	Messages       []Message `gorm:"foreignKey:ChatID" json:"messages,omitempty"`
	User           *User     `gorm:"foreignKey:UserID" json:"-"`
}

func (Conversation) TableName() string {
	return "chats"
}

// IsGuest 判断是否为游客对话。
func (c *Conversation) IsGuest() bool {
	return c.UserID == nil
}

// IsClosed 判断对话是否已关闭。
func (c *Conversation) IsClosed() bool {
	return c.Status == ChatStatusClosed
}

// Message 是对话中的一条消息，创建后不可修改。
// IsFromUser 为 true 表示访客一侧，false 表示客服一侧。
type Message struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ChatID      string    `gorm:"type:char(36);not null;index:idx_chat_created,priority:1;uniqueIndex:idx_chat_client_msg,priority:1" json:"chatId"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	IsFromUser  bool      `gorm:"not null" json:"isFromUser"`
	ClientMsgID *string   `gorm:"type:varchar(64);uniqueIndex:idx_chat_client_msg,priority:2" json:"clientMsgId,omitempty"`
	CreatedAt   time.Time `gorm:"index:idx_chat_created,priority:2" json:"createdAt"`
}

func (Message) TableName() string {
	return "messages"
}

// ConversationDetail 是客服后台查看单个对话时返回的完整结构。
type ConversationDetail struct {
	Conversation
	Messages []Message    `json:"messages"`
	User     *UserSummary `json:"user"`
}

// ConversationSummary 是客服后台列表中的一行：不带完整消息列表，只带最后一条消息和消息数。
type ConversationSummary struct {
	Conversation
	User         *UserSummary `json:"user"`
	LastMessage  *Message     `json:"lastMessage"`
	MessageCount int64        `json:"messageCount"`
}
