package database

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/SlpAus/contest-vote-engine/internal/platform/config"
	"github.com/SlpAus/contest-vote-engine/internal/platform/logging"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DB 是全局的数据库连接，供cmd层使用
var DB *gorm.DB

// Open 根据配置打开数据库连接
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Dialect {
	case config.DialectPostgres:
		dialector = postgres.Open(cfg.DSN)
	case config.DialectSqlite, "":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("不支持的数据库类型: %s", cfg.Dialect)
	}

	// GORM日志配置
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger,
		// 把驱动层的唯一约束错误统一翻译为 gorm.ErrDuplicatedKey
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	if db.Dialector.Name() == config.DialectSqlite {
		// SQLite只允许一个写者，串行化连接避免 database is locked
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return db, nil
}

// InitDB 初始化全局数据库连接，失败时直接panic
func InitDB(cfg config.DatabaseConfig) {
	db, err := Open(cfg)
	if err != nil {
		panic(err)
	}
	DB = db
	logging.Log.Infof("数据库连接成功！(%s)", db.Dialector.Name())
}

// ForUpdate 在支持行锁的数据库上为查询加上 FOR UPDATE。
// SQLite本身是串行写入的，不支持该语法，直接返回原查询。
func ForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == config.DialectPostgres {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}
