package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/wakestake/internal/db"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const minPasswordLength = 8

var (
	// ErrInvalidCredentials 邮箱或密码错误
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrEmailTaken 邮箱已注册
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidEmail 邮箱格式错误
	ErrInvalidEmail = errors.New("invalid email")
	// ErrWeakPassword 密码过短
	ErrWeakPassword = errors.New("password too short")
	// ErrInvalidToken 令牌缺失、过期或签名不匹配
	ErrInvalidToken = errors.New("invalid token")
)

// TokenVerifier 校验 bearer token 并返回用户 ID。
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Claims 为签发的 JWT 载荷，Subject 为用户 ID。
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// AuthService 提供本地账号注册、登录与令牌校验。
type AuthService struct {
	db     *gorm.DB
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthService 构造 AuthService，ttl<=0 时默认 7 天。
func NewAuthService(gdb *gorm.DB, secret string, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &AuthService{db: gdb, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// SetClock 替换时间来源，主要面向测试场景。
func (s *AuthService) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

// Signup 创建账号并返回令牌。
func (s *AuthService) Signup(ctx context.Context, email, password string) (db.User, string, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return db.User{}, "", err
	}
	if len(password) < minPasswordLength {
		return db.User{}, "", ErrWeakPassword
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&db.User{}).Where("email = ?", normalized).Count(&count).Error; err != nil {
		return db.User{}, "", fmt.Errorf("check email: %w", err)
	}
	if count > 0 {
		return db.User{}, "", ErrEmailTaken
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return db.User{}, "", fmt.Errorf("hash password: %w", err)
	}

	user := db.User{ID: uuid.NewString(), Email: normalized, PasswordHash: string(hashed)}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return db.User{}, "", ErrEmailTaken
		}
		return db.User{}, "", fmt.Errorf("create user: %w", err)
	}

	token, err := s.issue(user)
	if err != nil {
		return db.User{}, "", err
	}
	return user, token, nil
}

// Signin 校验密码并返回新令牌。
func (s *AuthService) Signin(ctx context.Context, email, password string) (db.User, string, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return db.User{}, "", ErrInvalidCredentials
	}

	var user db.User
	found, err := first(s.db.WithContext(ctx).Where("email = ?", normalized), &user)
	if err != nil {
		return db.User{}, "", fmt.Errorf("load user: %w", err)
	}
	if !found {
		return db.User{}, "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return db.User{}, "", ErrInvalidCredentials
	}

	token, err := s.issue(user)
	if err != nil {
		return db.User{}, "", err
	}
	return user, token, nil
}

// Verify 校验 HS256 签名与过期时间。
func (s *AuthService) Verify(token string) (string, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func (s *AuthService) issue(user db.User) (string, error) {
	now := s.now()
	claims := Claims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func normalizeEmail(raw string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", ErrInvalidEmail
	}
	return trimmed, nil
}
