// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"talanoor-go/internal/model"
	"talanoor-go/internal/repository"
	"talanoor-go/pkg/hash"
	"talanoor-go/pkg/log"
	"talanoor-go/pkg/token"

	"gorm.io/gorm"
)

const minPasswordLength = 8

// RegisterInput 是注册表单提交的字段。Email 可以为空。
type RegisterInput struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// UserService 接口定义了所有与用户相关的业务操作。
type UserService interface {
	Register(in RegisterInput) (*model.User, error)
	Login(identifier, password string) (accessToken, refreshToken string, err error)
	GetProfile(userID uint) (*model.User, error)
	Logout(ctx context.Context, tokenString string) error
	IsTokenRevoked(ctx context.Context, tokenString string) (bool, error)
	RefreshToken(refreshTokenString string) (newAccessToken, newRefreshToken string, err error)
}

// userService 是 UserService 接口的实现。
type userService struct {
	userRepo   repository.UserRepository
	tokenRepo  repository.TokenRepository
	jwtManager *token.JWTManager
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(userRepo repository.UserRepository, tokenRepo repository.TokenRepository, jwtManager *token.JWTManager) UserService {
	return &userService{
		userRepo:   userRepo,
		tokenRepo:  tokenRepo,
		jwtManager: jwtManager,
	}
}

// Register 处理用户注册的业务逻辑。
func (s *userService) Register(in RegisterInput) (*model.User, error) {
	firstName := strings.TrimSpace(in.FirstName)
	lastName := strings.TrimSpace(in.LastName)
	phone := NormalizePhone(in.Phone)
	email := strings.TrimSpace(in.Email)

	// 1. 校验输入
	if !minRunes(firstName, 2) {
		return nil, fmt.Errorf("%w: نام باید حداقل ۲ کاراکتر باشد", ErrValidation)
	}
	if !minRunes(lastName, 2) {
		return nil, fmt.Errorf("%w: نام خانوادگی باید حداقل ۲ کاراکتر باشد", ErrValidation)
	}
	if err := validatePhone(phone); err != nil {
		return nil, err
	}
	if email != "" {
		if err := validateEmail(email); err != nil {
			return nil, err
		}
	}
	if len(in.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: رمز عبور باید حداقل ۸ کاراکتر باشد", ErrValidation)
	}

	// 2. 检查手机号或邮箱是否已存在
	exists, err := s.userRepo.ExistsByPhoneOrEmail(phone, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: کاربری با این شماره موبایل یا ایمیل قبلاً ثبت نام کرده است", ErrConflict)
	}

	// 3. 对密码进行哈希处理
	hashedPassword, err := hash.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	// 未填写邮箱时使用占位地址，保证唯一索引可用
	if email == "" {
		email = phone + "@example.com"
	}

	newUser := &model.User{
		Name:     firstName + " " + lastName,
		Email:    email,
		Phone:    phone,
		Password: hashedPassword,
		Role:     model.RoleUser, // 默认角色
	}
	if err := s.userRepo.Create(newUser); err != nil {
		log.Errorf("[UserService] 创建用户失败, phone: %s, error: %v", phone, err)
		return nil, err
	}
	return newUser, nil
}

// Login 处理用户登录的业务逻辑，identifier 可以是邮箱或手机号。
func (s *userService) Login(identifier, password string) (accessToken, refreshToken string, err error) {
	identifier = strings.TrimSpace(identifier)
	if !strings.Contains(identifier, "@") {
		identifier = NormalizePhone(identifier)
	}

	// 1. 查找用户
	user, err := s.userRepo.FindByIdentifier(identifier)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", ErrUnauthorized
		}
		return "", "", err
	}

	// 2. 验证密码
	if !hash.CheckPasswordHash(password, user.Password) {
		return "", "", ErrUnauthorized
	}

	// 3. 生成 access token 和 refresh token
	return s.issueTokens(user)
}

func (s *userService) issueTokens(user *model.User) (string, string, error) {
	accessToken, err := s.jwtManager.GenerateToken(user.ID, user.Phone, user.Role)
	if err != nil {
		return "", "", err
	}
	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID, user.Phone, user.Role)
	if err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

// GetProfile 根据用户 ID 获取用户详细信息。
func (s *userService) GetProfile(userID uint) (*model.User, error) {
	user, err := s.userRepo.FindByID(userID)
	if err != nil {
		return nil, notFound(err)
	}
	return user, nil
}

// Logout 处理用户登出逻辑，将 token 加入 Redis 黑名单。
func (s *userService) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.jwtManager.VerifyToken(tokenString)
	if err != nil {
		return ErrUnauthorized
	}
	// token 的剩余有效期将作为黑名单条目的过期时间。
	return s.tokenRepo.Revoke(ctx, tokenString, time.Until(claims.ExpiresAt.Time))
}

// IsTokenRevoked 判断 token 是否已登出。
func (s *userService) IsTokenRevoked(ctx context.Context, tokenString string) (bool, error) {
	return s.tokenRepo.IsRevoked(ctx, tokenString)
}

// RefreshToken 使用 refresh token 签发一对新的 token，并使旧的 refresh token 失效。
func (s *userService) RefreshToken(refreshTokenString string) (string, string, error) {
	claims, err := s.jwtManager.VerifyRefreshToken(refreshTokenString)
	if err != nil {
		return "", "", ErrUnauthorized
	}

	ctx := context.Background()
	revoked, err := s.tokenRepo.IsRevoked(ctx, refreshTokenString)
	if err != nil {
		return "", "", err
	}
	if revoked {
		return "", "", ErrUnauthorized
	}

	// 用户可能已被删除或角色已变更，以数据库为准
	user, err := s.userRepo.FindByID(claims.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", ErrUnauthorized
		}
		return "", "", err
	}

	accessToken, refreshToken, err := s.issueTokens(user)
	if err != nil {
		return "", "", err
	}
	if err := s.tokenRepo.Revoke(ctx, refreshTokenString, time.Until(claims.ExpiresAt.Time)); err != nil {
		log.Warnf("[UserService] 旧 refresh token 加入黑名单失败: %v", err)
	}
	return accessToken, refreshToken, nil
}
