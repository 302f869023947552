package db

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// User 是使用打卡功能的终端用户，ID 为 uuid 字符串。
type User struct {
	ID           string `gorm:"primaryKey;size:36"`
	Email        string `gorm:"size:255;uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Admin 是后台运维账号，与终端用户分开存储。
type Admin struct {
	gorm.Model
	Username string `gorm:"unique;not null"`
	Password string `gorm:"not null"`
}

// EnsureAdmin 存在性检查：若提供的用户名与密码均非空且不存在对应账号，则创建一个 bcrypt 哈希的运维账号。
func EnsureAdmin(username, password string) error {
	trimmedUser := strings.TrimSpace(username)
	trimmedPassword := strings.TrimSpace(password)
	if trimmedUser == "" || trimmedPassword == "" {
		return nil
	}

	if DB == nil {
		return errors.New("database not initialized")
	}

	var existing Admin
	if err := DB.Where("username = ?", trimmedUser).First(&existing).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		hashed, err := bcrypt.GenerateFromPassword([]byte(trimmedPassword), bcrypt.DefaultCost)
		if err != nil {
			return err
		}

		return DB.Create(&Admin{Username: trimmedUser, Password: string(hashed)}).Error
	}

	return nil
}
