// Package hash 提供密码哈希与访客令牌摘要的工具函数。
package hash

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword 使用 bcrypt 对密码进行哈希。
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPasswordHash 校验明文密码与哈希是否匹配。
func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// DigestToken 返回令牌的 SHA-256 十六进制摘要，数据库中只保存摘要。
func DigestToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// TokenMatches 以常量时间比较令牌与已保存的摘要。
func TokenMatches(token, digest string) bool {
	if token == "" || digest == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(DigestToken(token)), []byte(digest)) == 1
}
