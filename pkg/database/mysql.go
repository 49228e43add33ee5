package database

import (
	"time"

	"talanoor-go/internal/model"
	"talanoor-go/pkg/log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitMySQL 初始化 MySQL 数据库连接，autoMigrate 为 true 时同步表结构。
func InitMySQL(dsn string, autoMigrate bool) {
	var err error
	DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatal("failed to connect database", err)
	}

	// 配置连接池
	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatal("failed to get sql.DB", err)
	}

	sqlDB.SetMaxIdleConns(10)           // 设置空闲连接池中连接的最大数量
	sqlDB.SetMaxOpenConns(100)          // 设置打开数据库连接的最大数量
	sqlDB.SetConnMaxLifetime(time.Hour) // 设置了连接可复用的最大时间

	if autoMigrate {
		if err := DB.AutoMigrate(&model.User{}, &model.Conversation{}, &model.Message{}, &model.BlogPost{}); err != nil {
			log.Fatal("failed to migrate database", err)
		}
		log.Info("MySQL schema migrated")
	}

	log.Info("MySQL database connected successfully")
}
