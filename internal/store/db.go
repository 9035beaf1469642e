package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/keyguard/internal/config"
)

// ApplicationName tags keyguard sessions in pg_stat_activity unless the URL
// already names one.
const ApplicationName = "keyguard"

// PoolConfig builds the pgxpool settings for the credential store. The query
// timeout is also set as the session statement_timeout so the server stops
// work the client has already abandoned.
func PoolConfig(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	poolCfg.MinConns = int32(min(cfg.MaxIdleConns, int(poolCfg.MaxConns)))
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	params := poolCfg.ConnConfig.RuntimeParams
	if _, ok := params["application_name"]; !ok {
		params["application_name"] = ApplicationName
	}
	if _, ok := params["statement_timeout"]; !ok && cfg.QueryTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(cfg.QueryTimeout.Milliseconds(), 10)
	}
	return poolCfg, nil
}

// Connect opens the credential store pool and pings it once. Errors name the
// target without the password.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	cc := poolCfg.ConnConfig
	target := fmt.Sprintf("host=%s port=%d db=%s user=%s", cc.Host, cc.Port, cc.Database, cc.User)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open credential store (%s): %w", target, err)
	}

	pingCtx, cancel := withTimeout(ctx, cfg.QueryTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping credential store (%s): %w", target, err)
	}

	return pool, nil
}
