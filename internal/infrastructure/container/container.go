package container

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"tradestream/internal/application/port"
	"tradestream/internal/infrastructure/config"
	"tradestream/internal/infrastructure/storage/memory"
	pgrepo "tradestream/internal/infrastructure/storage/postgres"
	redisrepo "tradestream/internal/infrastructure/storage/redis"
	sqliterepo "tradestream/internal/infrastructure/storage/sqlite"
)

// Container 持有进程内所有存储连接
type Container struct {
	cfg         *config.Config
	pg          *sql.DB
	redisClient *redis.Client
	redisRepo   *redisrepo.Repo
	sqliteRepo  *sqliterepo.Repo

	trades      *pgrepo.TradeRepo
	accounts    *pgrepo.AccountRepo
	tokens      *pgrepo.TokenRepo
	permissions *pgrepo.PermissionRepo
	jobs        *pgrepo.AlterJobRepo

	// redis 或 sqlite 关闭时的进程内替代
	memQueue   *memory.Queue
	memBeat    *memory.Heartbeat
	memCandles *memory.CandleCache

	closeOnce   sync.Once
	closerChain []func() error
}

func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{
		cfg:         cfg,
		closerChain: make([]func() error, 0),
	}
	if err := c.initStorage(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) initStorage(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.Storage.Postgres.DSN) != "" {
		if err := c.initPostgres(ctx); err != nil {
			return fmt.Errorf("postgres init failed: %w", err)
		}
	}

	if c.cfg.Storage.Redis.Enabled {
		if err := c.initRedis(ctx); err != nil {
			return fmt.Errorf("redis init failed: %w", err)
		}
	} else {
		c.memQueue = memory.NewQueue()
		c.memBeat = memory.NewHeartbeat()
		log.Warn().Msg("redis disabled: notification queue and heartbeat are in-process only")
	}

	if c.cfg.Storage.SQLite.Enabled {
		if err := c.initSQLite(); err != nil {
			return fmt.Errorf("sqlite init failed: %w", err)
		}
	} else {
		c.memCandles = memory.NewCandleCache()
		log.Warn().Msg("sqlite disabled: altered candles are kept in memory")
	}
	return nil
}

func (c *Container) initPostgres(ctx context.Context) error {
	db, err := pgrepo.Open(ctx, c.cfg.Storage.Postgres.DSN)
	if err != nil {
		return err
	}
	c.pg = db
	c.trades = pgrepo.NewTradeRepo(db)
	c.accounts = pgrepo.NewAccountRepo(db)
	c.tokens = pgrepo.NewTokenRepo(db)
	c.permissions = pgrepo.NewPermissionRepo(db)
	c.jobs = pgrepo.NewAlterJobRepo(db)

	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing postgres connection")
		return db.Close()
	})
	log.Info().Msg("postgres initialized")
	return nil
}

// OpenRedis 连接并 ping Redis
func OpenRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr,
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

func (c *Container) initRedis(ctx context.Context) error {
	rdb, err := OpenRedis(ctx, c.cfg)
	if err != nil {
		return err
	}
	c.redisClient = rdb
	c.redisRepo = redisrepo.New(rdb, c.cfg.Storage.Redis.Prefix, c.cfg.HeartbeatTTL())
	if err := c.redisRepo.ClearShutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("clear stale shutdown marker")
	}

	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})
	log.Info().
		Str("addr", c.cfg.Storage.Redis.Addr).
		Int("db", c.cfg.Storage.Redis.DB).
		Str("prefix", c.cfg.Storage.Redis.Prefix).
		Msg("redis initialized")
	return nil
}

func (c *Container) initSQLite() error {
	repo, err := sqliterepo.New(c.cfg.Storage.SQLite.Path)
	if err != nil {
		return err
	}
	c.sqliteRepo = repo

	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing sqlite connection")
		return repo.Close()
	})
	log.Info().Str("path", c.cfg.Storage.SQLite.Path).Msg("sqlite initialized")
	return nil
}

func (c *Container) Config() *config.Config { return c.cfg }

// Stores 返回关系库仓储，未配置 postgres 时返回错误
func (c *Container) Stores() (*pgrepo.TradeRepo, *pgrepo.AccountRepo, *pgrepo.TokenRepo, *pgrepo.PermissionRepo, *pgrepo.AlterJobRepo, error) {
	if c.pg == nil {
		return nil, nil, nil, nil, nil, errors.New("postgres not configured")
	}
	return c.trades, c.accounts, c.tokens, c.permissions, c.jobs, nil
}

func (c *Container) Queue() port.NotificationQueue {
	if c.redisRepo != nil {
		return c.redisRepo
	}
	return c.memQueue
}

func (c *Container) Liveness() port.LivenessWriter {
	if c.redisRepo != nil {
		return c.redisRepo
	}
	return c.memBeat
}

// Shutdown 没有 redis 时为 nil
func (c *Container) Shutdown() port.ShutdownMarker {
	if c.redisRepo != nil {
		return c.redisRepo
	}
	return nil
}

func (c *Container) Candles() port.CandleCache {
	if c.sqliteRepo != nil {
		return c.sqliteRepo
	}
	return c.memCandles
}

func (c *Container) RedisRepo() *redisrepo.Repo { return c.redisRepo }

// Close 按创建的逆序释放资源
func (c *Container) Close() error {
	var err error
	c.closeOnce.Do(func() {
		for i := len(c.closerChain) - 1; i >= 0; i-- {
			if e := c.closerChain[i](); e != nil {
				log.Error().Err(e).Msg("error closing resource")
				if err == nil {
					err = e
				}
			}
		}
		log.Info().Msg("container closed")
	})
	return err
}
