package model

import "time"

// BlogPost 对应 'blog_posts' 表，只读模型，内容由后台直接写入数据库。
type BlogPost struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Slug        string     `gorm:"type:varchar(191);uniqueIndex;not null" json:"slug"`
	Title       string     `gorm:"type:varchar(255);not null" json:"title"`
	Excerpt     string     `gorm:"type:text" json:"excerpt"`
	Content     string     `gorm:"type:longtext" json:"content"`
	Category    string     `gorm:"type:varchar(100);index" json:"category"`
	CoverImage  string     `gorm:"type:varchar(255)" json:"coverImage"`
	Published   bool       `gorm:"not null;default:false;index" json:"published"`
	PublishedAt *time.Time `json:"publishedAt"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (BlogPost) TableName() string {
	return "blog_posts"
}
