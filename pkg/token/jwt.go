// Package token 提供了用于生成和验证 JSON Web Tokens (JWT) 的功能。
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// TypeAccess 标记 access token
	TypeAccess = "access"
	// TypeRefresh 标记 refresh token
	TypeRefresh = "refresh"
)

// ErrWrongTokenType 表示令牌类型与用途不符，例如用 refresh token 访问接口。
var ErrWrongTokenType = errors.New("wrong token type")

// JWTManager 负责管理 JWT 的生成和验证。
type JWTManager struct {
	secretKey       []byte        // secretKey 用于签名和验证 token 的密钥
	accessTokenDur  time.Duration // accessTokenDur 定义了 access token 的有效期
	refreshTokenDur time.Duration // refreshTokenDur 定义了 refresh token 的有效期
}

// CustomClaims 定义了我们想要在 JWT 中存储的自定义数据。
type CustomClaims struct {
	UserID    uint   `json:"userId"`
	Phone     string `json:"phone"`
	Role      string `json:"role"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// NewJWTManager 创建一个新的 JWTManager 实例。
func NewJWTManager(secret string, accessTokenExpireHours, refreshTokenExpireDays int) *JWTManager {
	return &JWTManager{
		secretKey:       []byte(secret),
		accessTokenDur:  time.Hour * time.Duration(accessTokenExpireHours),
		refreshTokenDur: time.Duration(refreshTokenExpireDays) * 24 * time.Hour,
	}
}

// GenerateToken 根据给定的用户信息生成一个新的 access token。
func (m *JWTManager) GenerateToken(userID uint, phone, role string) (string, error) {
	return m.sign(userID, phone, role, TypeAccess, m.accessTokenDur)
}

// GenerateRefreshToken 生成 refresh token，与 access token 相同但有效期更长。
func (m *JWTManager) GenerateRefreshToken(userID uint, phone, role string) (string, error) {
	return m.sign(userID, phone, role, TypeRefresh, m.refreshTokenDur)
}

func (m *JWTManager) sign(userID uint, phone, role, tokenType string, ttl time.Duration) (string, error) {
	jti, err := GenerateRandomString(8)
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims := CustomClaims{
		UserID:    userID,
		Phone:     phone,
		Role:      role,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			// jti 保证同一秒内签发的两个 token 也不相同（登出黑名单以 token 为键）
			ID: jti,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// VerifyToken 验证给定的 token 字符串。
// 如果 token 有效，它会返回 CustomClaims 对象。
func (m *JWTManager) VerifyToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		// 检查签名方法是否为 HMAC
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*CustomClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// VerifyAccessToken 验证 token 并要求其为 access token。
func (m *JWTManager) VerifyAccessToken(tokenString string) (*CustomClaims, error) {
	claims, err := m.VerifyToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TypeAccess {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// VerifyRefreshToken 验证 token 并要求其为 refresh token。
func (m *JWTManager) VerifyRefreshToken(tokenString string) (*CustomClaims, error) {
	claims, err := m.VerifyToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TypeRefresh {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// randRead 在测试中可替换以模拟熵源故障。
var randRead = rand.Read

// GenerateRandomString 返回 length 个随机字节的十六进制编码。
// 熵源不可用时返回错误，访客令牌不能退化成可预测的值。
func GenerateRandomString(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := randRead(bytes); err != nil {
		return "", fmt.Errorf("generate random string: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
