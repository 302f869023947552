package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/wakestake/internal/db"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AdminService 校验后台运维账号。
type AdminService struct {
	db *gorm.DB
}

// NewAdminService 构造 AdminService
func NewAdminService(gdb *gorm.DB) *AdminService {
	return &AdminService{db: gdb}
}

// Authenticate 校验用户名与密码，失败统一返回 ErrInvalidCredentials。
func (s *AdminService) Authenticate(ctx context.Context, username, password string) (db.Admin, error) {
	var admin db.Admin
	found, err := first(s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)), &admin)
	if err != nil {
		return db.Admin{}, fmt.Errorf("load admin: %w", err)
	}
	if !found {
		return db.Admin{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.Password), []byte(password)); err != nil {
		return db.Admin{}, ErrInvalidCredentials
	}
	return admin, nil
}
