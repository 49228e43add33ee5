// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"talanoor-go/internal/service"

	"github.com/gin-gonic/gin"
)

// BlogHandler 提供博客文章的只读接口以及缓存失效入口。
type BlogHandler struct {
	blogService service.BlogService
}

// NewBlogHandler 创建一个新的 BlogHandler 实例。
func NewBlogHandler(blogService service.BlogService) *BlogHandler {
	return &BlogHandler{blogService: blogService}
}

// ListPosts 返回已发布的文章列表，可按 category 筛选。
func (h *BlogHandler) ListPosts(c *gin.Context) {
	posts, err := h.blogService.ListPosts(c.Request.Context(), c.Query("category"))
	if err != nil {
		respondError(c, "ListPosts", err)
		return
	}
	respondOK(c, http.StatusOK, posts)
}

// GetPost 按 slug 返回单篇文章。
func (h *BlogHandler) GetPost(c *gin.Context) {
	post, err := h.blogService.GetPost(c.Request.Context(), c.Param("slug"))
	if err != nil {
		respondError(c, "GetPost", err)
		return
	}
	respondOK(c, http.StatusOK, post)
}

// InvalidateCache 清空博客缓存，内容更新后由管理员调用。
func (h *BlogHandler) InvalidateCache(c *gin.Context) {
	if err := h.blogService.Invalidate(c.Request.Context()); err != nil {
		respondError(c, "InvalidateBlogCache", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "cache invalidated"})
}

// RefreshPost 重新加载单篇文章的缓存。
func (h *BlogHandler) RefreshPost(c *gin.Context) {
	if err := h.blogService.Refresh(c.Request.Context(), c.Param("slug")); err != nil {
		respondError(c, "RefreshBlogPost", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "post refreshed"})
}
