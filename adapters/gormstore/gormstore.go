// Package gormstore 以 gorm 實作 ports.Store
package gormstore

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"bidlot/core/ports"
	"bidlot/models"
)

type Config struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s", c.User, c.Password, c.Host, c.Port, c.Database, c.Schema)
}

// OpenPostgres 連線到 PostgreSQL，資料表建立在 Config.Schema 下
func OpenPostgres(config Config) (*gorm.DB, error) {
	const op = "OpenPostgres"
	db, err := gorm.Open(postgres.Open(config.DSN()), GormConfig(config.Schema))
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}
	return db, nil
}

// OpenSQLite 開啟本機的 SQLite 資料庫，供開發與單機部署使用
func OpenSQLite(path string) (*gorm.DB, error) {
	const op = "OpenSQLite"
	db, err := gorm.Open(sqlite.Open(path), GormConfig(""))
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to open database, err=%w", op, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to get connection pool, err=%w", op, err)
	}
	// SQLite 同時只允許一個寫入者
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// GormConfig 回傳共用的 gorm 設定，schema 為空時不加資料表前綴
func GormConfig(schemaName string) *gorm.Config {
	naming := schema.NamingStrategy{}
	if schemaName != "" {
		naming.TablePrefix = schemaName + "."
	}
	return &gorm.Config{
		TranslateError: true,
		NamingStrategy: naming,
	}
}

// Migrate 建立或更新所有資料表
func Migrate(db *gorm.DB) error {
	const op = "Migrate"
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("[%s] Fail to migrate schema, err=%w", op, err)
	}
	return nil
}

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Transaction 在資料庫交易中執行 fn，ctx 取消時交易會被回滾
func (s *Store) Transaction(ctx context.Context, fn func(tx ports.Repositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&repositories{db: tx})
	})
}

type repositories struct {
	db *gorm.DB
}

func (r *repositories) Items() ports.ItemRepository { return &itemRepository{db: r.db} }
func (r *repositories) Bids() ports.BidRepository   { return &bidRepository{db: r.db} }
func (r *repositories) Users() ports.UserRepository { return &userRepository{db: r.db} }
