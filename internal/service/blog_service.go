package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"talanoor-go/internal/model"
	"talanoor-go/internal/repository"
	"talanoor-go/pkg/cache"
	"talanoor-go/pkg/log"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// 列表缓存的 key，不按分类筛选时使用
const allCategories = "all"

// BlogService 提供博客文章的只读访问，结果经过 Redis 读穿透缓存。
type BlogService interface {
	ListPosts(ctx context.Context, category string) ([]model.BlogPost, error)
	GetPost(ctx context.Context, slug string) (*model.BlogPost, error)
	// Invalidate 清空全部博客缓存，是内容变更后唯一的失效入口。
	Invalidate(ctx context.Context) error
	// Refresh 重新加载单篇文章并清空列表缓存，文章已下线时返回 ErrNotFound。
	Refresh(ctx context.Context, slug string) error
	// Changes 返回缓存失效/刷新通知，形如 "list:<key>" 或 "post:<key>"。
	Changes(ctx context.Context) (<-chan string, func(), error)
}

type blogService struct {
	repo  repository.BlogRepository
	lists *cache.ReadThrough[[]model.BlogPost]
	posts *cache.ReadThrough[model.BlogPost]
}

// NewBlogService 创建一个新的 BlogService 实例。
func NewBlogService(repo repository.BlogRepository, rdb *redis.Client, ttl time.Duration) BlogService {
	return &blogService{
		repo:  repo,
		lists: cache.NewReadThrough[[]model.BlogPost](rdb, "blog:list", ttl),
		posts: cache.NewReadThrough[model.BlogPost](rdb, "blog:post", ttl),
	}
}

func (s *blogService) ListPosts(ctx context.Context, category string) ([]model.BlogPost, error) {
	category = strings.TrimSpace(category)
	key := category
	if key == "" {
		key = allCategories
	}
	return s.lists.Get(ctx, key, func(ctx context.Context) ([]model.BlogPost, error) {
		return s.repo.ListPublished(ctx, category)
	})
}

func (s *blogService) GetPost(ctx context.Context, slug string) (*model.BlogPost, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, ErrNotFound
	}
	post, err := s.posts.Get(ctx, slug, s.loadPost(slug))
	if errors.Is(err, cache.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func (s *blogService) loadPost(slug string) cache.Loader[model.BlogPost] {
	return func(ctx context.Context) (model.BlogPost, error) {
		p, err := s.repo.FindPublishedBySlug(ctx, slug)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.BlogPost{}, cache.ErrNotFound
		}
		if err != nil {
			return model.BlogPost{}, err
		}
		return *p, nil
	}
}

func (s *blogService) Invalidate(ctx context.Context) error {
	if err := s.lists.Invalidate(ctx); err != nil {
		return err
	}
	if err := s.posts.Invalidate(ctx); err != nil {
		return err
	}
	log.Info("[BlogService] 博客缓存已清空")
	return nil
}

func (s *blogService) Refresh(ctx context.Context, slug string) error {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return ErrNotFound
	}
	// 列表里带摘要和标题，任何文章变化都让列表整体失效
	if err := s.lists.Invalidate(ctx); err != nil {
		return err
	}
	if _, err := s.posts.Refresh(ctx, slug, s.loadPost(slug)); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			// 已下线的文章不能继续从缓存返回
			if delErr := s.posts.Invalidate(ctx, slug); delErr != nil {
				return delErr
			}
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *blogService) Changes(ctx context.Context) (<-chan string, func(), error) {
	listEvents, stopLists, err := s.lists.Subscribe(ctx)
	if err != nil {
		return nil, nil, err
	}
	postEvents, stopPosts, err := s.posts.Subscribe(ctx)
	if err != nil {
		stopLists()
		return nil, nil, err
	}

	out := make(chan string, 16)
	var wg sync.WaitGroup
	forward := func(kind string, in <-chan string) {
		defer wg.Done()
		for key := range in {
			select {
			case out <- kind + ":" + key:
			case <-ctx.Done():
				return
			}
		}
	}
	wg.Add(2)
	go forward("list", listEvents)
	go forward("post", postEvents)
	go func() {
		wg.Wait()
		close(out)
	}()

	return out, func() {
		stopLists()
		stopPosts()
	}, nil
}
