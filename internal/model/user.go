// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// 用户角色
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// User 对应 'users' 表。手机号和邮箱都可以作为登录标识。
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(100);not null" json:"name"`
	Email     string    `gorm:"type:varchar(191);uniqueIndex;not null" json:"email"`
	Phone     string    `gorm:"type:varchar(20);uniqueIndex;not null" json:"phone"`
	Password  string    `gorm:"type:varchar(255);not null" json:"-"`
	Role      string    `gorm:"type:varchar(16);not null;default:USER" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (User) TableName() string {
	return "users"
}

// IsAdmin 判断用户是否具有管理员（客服）权限。
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// UserSummary 是嵌入在对话详情中的用户公开信息。
type UserSummary struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}
