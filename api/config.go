package api

import "time"

type ServerConfig struct {
	S3    S3Config
	DB    DBConfig
	Redis RedisConfig
	Sweep SweepConfig
}

type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Bucket          string
	PublicBaseURL   string
}

// Enabled 未設定 bucket 時不刪除圖片檔案
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string

	// SQLitePath 有值時改用 SQLite，忽略 PostgreSQL 設定
	SQLitePath  string
	AutoMigrate bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	KeyPrefix  string
	LockExpiry time.Duration
	StreamKeys RedisStreamKeys
}

// Enabled 未設定位址時改用單機的鎖與事件分送
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

type RedisStreamKeys struct {
	Events string
}

type SweepConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}
