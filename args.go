package main

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"bidlot/api"
)

func ParseArgs() Args {
	// server config
	pflag.String("server-url", "0.0.0.0:8080", "")

	// s3 config
	pflag.String("s3-endpoint", "", "")
	pflag.String("s3-bucket", "", "")
	pflag.String("s3-public-base-url", "", "")
	pflag.String("s3-access-key-id", "", "")
	pflag.String("s3-secret-access-key", "", "")

	// db config
	pflag.String("db-user", "", "")
	pflag.String("db-password", "", "")
	pflag.String("db-host", "", "")
	pflag.Int("db-port", 5432, "")
	pflag.String("db-database", "", "")
	pflag.String("db-schema", "", "")
	pflag.String("db-sqlite-path", "", "")
	pflag.Bool("db-auto-migrate", false, "")

	// redis config
	pflag.String("redis-addr", "", "")
	pflag.String("redis-password", "", "")
	pflag.Int("redis-db", 15, "")
	pflag.String("redis-key-prefix", "bidlot:", "")
	pflag.Duration("redis-lock-expiry", 0, "")

	// redis stream keys
	pflag.String("redis-stream-key-for-events", "bidlot-auction-events", "")

	// sweep config
	pflag.Duration("sweep-interval", 0, "")
	pflag.Duration("sweep-timeout", 0, "")

	// bind pflag to viper
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("BIDLOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// initial arguments
	return Args{
		ServerURL: viper.GetString("server-url"),
		ServerConfig: api.ServerConfig{
			S3: api.S3Config{
				Endpoint:        viper.GetString("s3-endpoint"),
				Bucket:          viper.GetString("s3-bucket"),
				PublicBaseURL:   viper.GetString("s3-public-base-url"),
				AccessKeyID:     viper.GetString("s3-access-key-id"),
				SecretAccessKey: viper.GetString("s3-secret-access-key"),
			},
			DB: api.DBConfig{
				User:        viper.GetString("db-user"),
				Password:    viper.GetString("db-password"),
				Host:        viper.GetString("db-host"),
				Port:        viper.GetInt("db-port"),
				Database:    viper.GetString("db-database"),
				Schema:      viper.GetString("db-schema"),
				SQLitePath:  viper.GetString("db-sqlite-path"),
				AutoMigrate: viper.GetBool("db-auto-migrate"),
			},
			Redis: api.RedisConfig{
				Addr:       viper.GetString("redis-addr"),
				Password:   viper.GetString("redis-password"),
				DB:         viper.GetInt("redis-db"),
				KeyPrefix:  viper.GetString("redis-key-prefix"),
				LockExpiry: viper.GetDuration("redis-lock-expiry"),
				StreamKeys: api.RedisStreamKeys{
					Events: viper.GetString("redis-stream-key-for-events"),
				},
			},
			Sweep: api.SweepConfig{
				Interval: viper.GetDuration("sweep-interval"),
				Timeout:  viper.GetDuration("sweep-timeout"),
			},
		},
	}
}

type Args struct {
	ServerURL    string
	ServerConfig api.ServerConfig
}

func (args Args) Validate() bool {
	db := args.ServerConfig.DB
	return args.ServerURL != "" && (db.Host != "" || db.SQLitePath != "")
}
