package repository

import (
	"context"

	"talanoor-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BlogRepository 提供已发布博客文章的只读访问。
type BlogRepository interface {
	ListPublished(ctx context.Context, category string) ([]model.BlogPost, error)
	FindPublishedBySlug(ctx context.Context, slug string) (*model.BlogPost, error)
	// UpsertBySlug 按 slug 插入或覆盖文章，启动导入时使用。
	UpsertBySlug(ctx context.Context, post *model.BlogPost) error
}

type blogRepository struct {
	db *gorm.DB
}

// NewBlogRepository 创建一个新的 BlogRepository 实例。
func NewBlogRepository(db *gorm.DB) BlogRepository {
	return &blogRepository{db: db}
}

func (r *blogRepository) ListPublished(ctx context.Context, category string) ([]model.BlogPost, error) {
	posts := make([]model.BlogPost, 0)
	q := r.db.WithContext(ctx).
		Select("id", "slug", "title", "excerpt", "category", "cover_image", "published", "published_at", "created_at", "updated_at").
		Where("published = ?", true)
	if category != "" {
		q = q.Where("category = ?", category)
	}
	err := q.Order("published_at DESC").Find(&posts).Error
	return posts, err
}

func (r *blogRepository) FindPublishedBySlug(ctx context.Context, slug string) (*model.BlogPost, error) {
	var post model.BlogPost
	if err := r.db.WithContext(ctx).Where("slug = ? AND published = ?", slug, true).First(&post).Error; err != nil {
		return nil, err
	}
	return &post, nil
}

func (r *blogRepository) UpsertBySlug(ctx context.Context, post *model.BlogPost) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slug"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "excerpt", "content", "category", "cover_image", "published", "published_at", "updated_at"}),
	}).Create(post).Error
}
