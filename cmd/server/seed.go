package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"talanoor-go/internal/config"
	"talanoor-go/internal/model"
	"talanoor-go/internal/repository"
	"talanoor-go/internal/service"
	"talanoor-go/pkg/hash"
	"talanoor-go/pkg/log"

	"gorm.io/gorm"
)

// seedAdmin 在配置了手机号和密码时创建初始管理员账号（幂等）。
func seedAdmin(cfg config.AdminConfig, userRepo repository.UserRepository) {
	phone := service.NormalizePhone(cfg.Phone)
	if phone == "" || cfg.Password == "" {
		log.Info("seedAdmin: 未配置初始管理员，跳过")
		return
	}

	existing, err := userRepo.FindByIdentifier(phone)
	if err == nil {
		if !existing.IsAdmin() {
			log.Warnf("seedAdmin: 手机号 %s 已注册为普通用户，未提升为管理员", phone)
		}
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Errorf("seedAdmin: 查询管理员失败: %v", err)
		return
	}

	hashed, err := hash.HashPassword(cfg.Password)
	if err != nil {
		log.Errorf("seedAdmin: 密码哈希失败: %v", err)
		return
	}
	email := cfg.Email
	if email == "" {
		email = phone + "@example.com"
	}
	admin := &model.User{Name: cfg.Name, Email: email, Phone: phone, Password: hashed, Role: model.RoleAdmin}
	if err := userRepo.Create(admin); err != nil {
		log.Errorf("seedAdmin: 创建管理员失败: %v", err)
		return
	}
	log.Infof("seedAdmin: 已创建初始管理员, id=%d", admin.ID)
}

// seedBlogPosts 扫描目录下的 *.json 文章并按 slug 导入，完成后清空博客缓存。
func seedBlogPosts(ctx context.Context, dir string, blogRepo repository.BlogRepository, blogService service.BlogService) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("seedBlogPosts: 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return
	}

	imported := 0
	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || !strings.HasSuffix(info.Name(), ".json") {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			log.Warnf("seedBlogPosts: 读取文件失败: %s, err=%v", path, err)
			return nil
		}
		var post model.BlogPost
		if err := json.Unmarshal(raw, &post); err != nil {
			log.Warnf("seedBlogPosts: 解析文件失败: %s, err=%v", path, err)
			return nil
		}
		if post.Slug == "" {
			post.Slug = strings.TrimSuffix(info.Name(), ".json")
		}
		post.ID = 0
		if err := blogRepo.UpsertBySlug(ctx, &post); err != nil {
			log.Warnf("seedBlogPosts: 导入失败: %s, err=%v", post.Slug, err)
			return nil
		}
		imported++
		return nil
	})
	if walkErr != nil {
		log.Warnf("seedBlogPosts: 遍历目录发生错误: %v", walkErr)
	}

	if imported > 0 {
		if err := blogService.Invalidate(ctx); err != nil {
			log.Warnf("seedBlogPosts: 清空博客缓存失败: %v", err)
		}
		log.Infof("seedBlogPosts: 已导入 %d 篇文章", imported)
	}
}
