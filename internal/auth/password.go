package auth

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/guidehub/internal/model"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)

// パスワードの最小文字数
const minPasswordLength = 6

// HashPassword はbcryptでパスワードをハッシュ化する。
func HashPassword(plain string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(b), nil
}

// CheckPassword はハッシュと平文パスワードが一致するかを返す。
func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// NormalizeEmail は前後の空白を除去し小文字化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateUsername はユーザー名の形式を検証する。
func ValidateUsername(username string) *model.FieldError {
	if !usernamePattern.MatchString(username) {
		return &model.FieldError{
			Field:   "username",
			Message: "Username must be 3-20 characters and contain only letters, numbers, and underscores",
		}
	}
	return nil
}

// ValidateEmail はメールアドレスの形式を検証する。
func ValidateEmail(email string) *model.FieldError {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return &model.FieldError{Field: "email", Message: "Please enter a valid email"}
	}
	return nil
}

// ValidatePassword はパスワード強度と確認入力の一致を検証する。
// field には検証対象の入力項目名を渡す。
func ValidatePassword(field, password, confirm string) []model.FieldError {
	var errs []model.FieldError

	if len(password) < minPasswordLength {
		errs = append(errs, model.FieldError{
			Field:   field,
			Message: fmt.Sprintf("Password must be at least %d characters", minPasswordLength),
		})
	}

	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		errs = append(errs, model.FieldError{
			Field:   field,
			Message: "Password must contain at least one uppercase letter, one lowercase letter, and one number",
		})
	}

	if password != confirm {
		errs = append(errs, model.FieldError{Field: "confirmPassword", Message: "Passwords do not match"})
	}
	return errs
}
