package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"bidlot/adapters/gormstore"
	"bidlot/adapters/metrics"
	redisAdapter "bidlot/adapters/redis"
	internalS3 "bidlot/adapters/s3"
	"bidlot/adapters/sse"
	"bidlot/core/accounts"
	"bidlot/core/bidding"
	"bidlot/core/keylock"
	"bidlot/core/lifecycle"
	"bidlot/core/ports"
	"bidlot/core/timewindow"
	"bidlot/models"
)

const (
	defaultSweepInterval = time.Minute
	keepAliveInterval    = 30 * time.Second
)

type ServerImpl struct {
	lifecycle *lifecycle.Lifecycle
	bidding   *bidding.Engine
	accounts  *accounts.Service
	sweeper   *lifecycle.Sweeper
	hub       *sse.Hub[models.AuctionEvent]
	producer  *redisAdapter.EventProducer
	metrics   *metrics.Metrics
	clock     timewindow.Clock
	closers   []func() error
	keepAlive time.Duration
	logger    *slog.Logger

	config ServerConfig
}

// dependencies 是服務層需要的外部元件，測試時可以換成記憶體實作
type dependencies struct {
	store     ports.Store
	locker    ports.Locker
	remover   ports.ImageRemover
	publisher ports.EventPublisher
	hub       *sse.Hub[models.AuctionEvent]
	producer  *redisAdapter.EventProducer
	clock     timewindow.Clock
	closers   []func() error
}

func NewServer(config ServerConfig) (*ServerImpl, error) {
	const op = "NewServer"
	deps := dependencies{clock: timewindow.NewRealClock()}

	// 初始化資料庫連線
	db, err := openDatabase(config.DB)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to open database, err=%w", op, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to get connection pool, err=%w", op, err)
	}
	deps.closers = append(deps.closers, sqlDB.Close)
	if config.DB.AutoMigrate {
		if err := gormstore.Migrate(db); err != nil {
			return nil, fmt.Errorf("[%s] Fail to migrate database, err=%w", op, err)
		}
	}
	deps.store = gormstore.New(db)

	// 初始化Redis連線，沒有設定時使用單機的鎖與事件分送
	topic := func(event models.AuctionEvent) string { return event.ItemID.String() }
	if config.Redis.Enabled() {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		deps.closers = append([]func() error{redisClient.Close}, deps.closers...)

		lockerOpts := []redisAdapter.LockerOption{
			redisAdapter.WithLockerPrefix(config.Redis.KeyPrefix + "lock:"),
			redisAdapter.WithLockerLogger(slog.Default()),
		}
		if config.Redis.LockExpiry > 0 {
			lockerOpts = append(lockerOpts, redisAdapter.WithLockerExpiry(config.Redis.LockExpiry))
		}
		deps.locker, err = redisAdapter.NewLocker(redisClient, lockerOpts...)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create locker, err=%w", op, err)
		}

		deps.producer, err = redisAdapter.NewEventProducer(
			redisClient,
			config.Redis.StreamKeys.Events,
			redisAdapter.WithProducerLogger(slog.Default()),
			redisAdapter.WithProducerMaxLen(10000),
		)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create producer, err=%w", op, err)
		}
		consumer, err := redisAdapter.NewEventConsumer(
			redisClient,
			config.Redis.StreamKeys.Events,
			redisAdapter.WithConsumerLogger(slog.Default()),
		)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create consumer, err=%w", op, err)
		}
		deps.hub = sse.NewHub(topic,
			sse.WithLogger[models.AuctionEvent](slog.Default()),
			sse.WithSource[models.AuctionEvent](consumer),
		)
		deps.publisher = deps.producer
	} else {
		deps.locker = keylock.New()
		deps.hub = sse.NewHub(topic, sse.WithLogger[models.AuctionEvent](slog.Default()))
		deps.publisher = deps.hub
	}

	// 初始化S3客戶端
	deps.remover = ports.NopImageRemover()
	if config.S3.Enabled() {
		s3Cfg, err := awsCfg.LoadDefaultConfig(
			context.Background(),
			awsCfg.WithBaseEndpoint(config.S3.Endpoint),
			awsCfg.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(config.S3.AccessKeyID, config.S3.SecretAccessKey, "")),
			awsCfg.WithRegion("auto"),
		)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to load AWS config, err=%w", op, err)
		}
		deps.remover, err = internalS3.NewImageRemover(s3.NewFromConfig(s3Cfg), config.S3.Bucket, config.S3.PublicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create image remover, err=%w", op, err)
		}
	}

	return newServerImpl(config, deps), nil
}

func openDatabase(config DBConfig) (*gorm.DB, error) {
	if config.SQLitePath != "" {
		return gormstore.OpenSQLite(config.SQLitePath)
	}
	return gormstore.OpenPostgres(gormstore.Config{
		User:     config.User,
		Password: config.Password,
		Host:     config.Host,
		Port:     config.Port,
		Database: config.Database,
		Schema:   config.Schema,
	})
}

func newServerImpl(config ServerConfig, deps dependencies) *ServerImpl {
	logger := slog.Default()
	m := metrics.New()

	items := lifecycle.New(deps.store, deps.locker,
		lifecycle.WithLogger(logger),
		lifecycle.WithClock(deps.clock),
		lifecycle.WithPublisher(deps.publisher),
		lifecycle.WithMetrics(m),
	)

	interval := config.Sweep.Interval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	sweeperOpts := []lifecycle.SweeperOption{lifecycle.WithSweeperLogger(logger)}
	if config.Sweep.Timeout > 0 {
		sweeperOpts = append(sweeperOpts, lifecycle.WithSweeperTimeout(config.Sweep.Timeout))
	}

	return &ServerImpl{
		lifecycle: items,
		bidding: bidding.New(deps.store, deps.locker,
			bidding.WithLogger(logger),
			bidding.WithClock(deps.clock),
			bidding.WithPublisher(deps.publisher),
			bidding.WithMetrics(m),
		),
		accounts: accounts.New(deps.store, deps.locker,
			accounts.WithLogger(logger),
			accounts.WithClock(deps.clock),
			accounts.WithImageRemover(deps.remover),
			accounts.WithMetrics(m),
		),
		sweeper:   lifecycle.NewSweeper(items, interval, sweeperOpts...),
		hub:       deps.hub,
		producer:  deps.producer,
		metrics:   m,
		clock:     deps.clock,
		closers:   deps.closers,
		keepAlive: keepAliveInterval,
		logger:    logger.With(slog.String("caller", "Server")),
		config:    config,
	}
}

func (impl *ServerImpl) Start() {
	// 啟動事件寫入
	if impl.producer != nil {
		impl.producer.Start()
	}
	// 啟動事件分送
	impl.hub.Start()
	// 啟動定期掃描
	impl.sweeper.Start()
}

func (impl *ServerImpl) Close() {
	impl.sweeper.Close()
	impl.hub.Close()
	if impl.producer != nil {
		impl.producer.Close()
	}
	var errs []error
	for _, closer := range impl.closers {
		errs = append(errs, closer())
	}
	if err := errors.Join(errs...); err != nil {
		impl.logger.Warn("fail to release resources", slog.Any("error", err))
	}
}
