package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/snapshot-refresher/internal/config"
	apperrors "github.com/snapshot-refresher/internal/errors"
)

const clickHousePingTimeout = 5 * time.Second

// ClickHouseDB is the analytics store holding archived snapshot summaries.
// The archive only appends one row per snapshot, so a small pool suffices.
type ClickHouseDB struct {
	driver.Conn
}

func clickHouseOptions(cfg *config.ClickHouseConfig) *clickhouse.Options {
	return &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings:     clickhouse.Settings{"max_execution_time": 30},
		DialTimeout:  10 * time.Second,
		MaxOpenConns: 4,
		MaxIdleConns: 2,
	}
}

// NewClickHouseDB opens the archive connection and verifies it answers
func NewClickHouseDB(cfg *config.ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(clickHouseOptions(cfg))
	if err != nil {
		return nil, apperrors.NewDatabaseError("open clickhouse", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), clickHousePingTimeout)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, apperrors.NewDatabaseError("ping clickhouse", err)
	}
	return &ClickHouseDB{Conn: conn}, nil
}
