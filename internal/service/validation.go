package service

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

// 伊朗手机号：09 开头共 11 位。
var phonePattern = regexp.MustCompile(`^09\d{9}$`)

// 波斯语与阿拉伯语数字统一转换为 ASCII 数字，用户常用波斯语输入法填写手机号。
var digitReplacer = strings.NewReplacer(
	"۰", "0", "۱", "1", "۲", "2", "۳", "3", "۴", "4",
	"۵", "5", "۶", "6", "۷", "7", "۸", "8", "۹", "9",
	"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
	"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
)

// NormalizePhone 去掉空白并统一数字。
func NormalizePhone(phone string) string {
	return digitReplacer.Replace(strings.TrimSpace(phone))
}

func validatePhone(phone string) error {
	if !phonePattern.MatchString(phone) {
		return fmt.Errorf("%w: شماره موبایل باید با ۰۹ شروع شود و ۱۱ رقم باشد", ErrValidation)
	}
	return nil
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: ایمیل نامعتبر است", ErrValidation)
	}
	return nil
}

func minRunes(s string, n int) bool {
	return utf8.RuneCountInString(s) >= n
}
