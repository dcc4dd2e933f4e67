package health

import (
	"context"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// DBProbe пингует пул соединений gorm.
func DBProbe(db *gorm.DB) Probe {
	return Probe{Name: "database", Check: func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}}
}

func RedisProbe(c *redis.Client) Probe {
	return Probe{Name: "redis", Check: func(ctx context.Context) error {
		return c.Ping(ctx).Err()
	}}
}
