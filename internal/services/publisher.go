package services

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/helios-labs/strategy-governor/internal/database"
	"github.com/helios-labs/strategy-governor/internal/models"
)

// SnapshotKey is where execution consumers read the active override
// snapshot. No TTL: consumers always re-fetch rather than cache.
const SnapshotKey = "governance:overrides:snapshot"

// RedisSnapshotPublisher mirrors committed snapshots into Redis.
type RedisSnapshotPublisher struct {
	redis  *database.RedisClient
	logger *logrus.Logger
}

// NewRedisSnapshotPublisher creates a publisher over an existing
// connection.
func NewRedisSnapshotPublisher(redis *database.RedisClient, logger *logrus.Logger) *RedisSnapshotPublisher {
	return &RedisSnapshotPublisher{redis: redis, logger: logger}
}

// Publish writes the snapshot JSON. Failures are logged and swallowed;
// the durable store remains the source of truth.
func (p *RedisSnapshotPublisher) Publish(ctx context.Context, snapshot *models.OverrideSnapshot) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		p.logger.WithError(err).Error("Snapshot publish: marshal failed")
		return
	}
	if err := p.redis.Set(ctx, SnapshotKey, data, 0); err != nil {
		p.logger.WithError(err).WithField("version", snapshot.Version).Warn("Snapshot publish to Redis failed")
		return
	}
	p.logger.WithField("version", snapshot.Version).Debug("Snapshot published to Redis")
}
