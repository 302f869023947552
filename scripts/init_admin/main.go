package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/wakestake/internal/config"
	"github.com/wakestake/internal/db"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// 创建或重置后台运维账号
func main() {
	username := flag.String("username", "", "admin username (defaults to SUPER_ROOT_USER_NAME)")
	password := flag.String("password", "", "admin password (defaults to SUPER_ROOT_PASSWORD)")
	reset := flag.Bool("reset", false, "overwrite the password of an existing admin")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("加载配置失败:", err)
	}
	if *username == "" {
		*username = cfg.SuperRootUserName
	}
	if *password == "" {
		*password = cfg.SuperRootPassword
	}
	if strings.TrimSpace(*username) == "" || len(*password) < 8 {
		log.Fatal("需要用户名以及至少 8 位的密码")
	}

	// 初始化数据库
	if err := db.Init(cfg.DatabaseDriver, cfg.DatabasePath, cfg.DatabaseURL); err != nil {
		log.Fatal("数据库初始化失败:", err)
	}

	var existing db.Admin
	err = db.DB.Where("username = ?", strings.TrimSpace(*username)).First(&existing).Error
	switch {
	case err == nil && !*reset:
		fmt.Println("管理员已存在，如需重置密码请加 -reset")
		return
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		log.Fatal("查询管理员失败:", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatal("密码加密失败:", err)
	}

	if existing.ID != 0 {
		if err := db.DB.Model(&existing).Update("password", string(hashed)).Error; err != nil {
			log.Fatal("重置密码失败:", err)
		}
		fmt.Println("管理员密码已重置:", existing.Username)
		return
	}

	if err := db.DB.Create(&db.Admin{Username: strings.TrimSpace(*username), Password: string(hashed)}).Error; err != nil {
		log.Fatal("创建管理员失败:", err)
	}
	fmt.Println("管理员创建成功:", strings.TrimSpace(*username))
}
