// Package notify projects order lifecycle events into per-device Redis keys
// so devices can poll without reaching the database.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-pos-payments/internal/kafka"
	"github.com/ariefcatur/go-pos-payments/internal/orders"
	"github.com/ariefcatur/go-pos-payments/internal/redisx"
)

// Topics the projector subscribes to.
var Topics = []string{
	orders.TopicOrderCreated,
	orders.TopicOrderSettled,
	orders.TopicOrderExpired,
	orders.TopicOrderRefunded,
}

type Projector struct {
	Redis redis.Cmdable
	Log   *zap.Logger
}

// Handle is installed as the consumer handler. A nil return commits the offset.
func (p *Projector) Handle(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// poison message, skip it
		p.Log.Warn("undecodable envelope", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if orders.TopicFor(env.EventType) == "" {
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, "notifier", env.EventID)
	if seen, _ := redisx.Exists(ctx, p.Redis, dkey); seen {
		return nil
	}

	tp, err := kafkax.UnwrapPayload[orders.TransactionPayload](env.Payload)
	if err != nil {
		p.Log.Warn("undecodable payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	latest := fmt.Sprintf(redisx.KeyLatestTx, tp.TenantID, tp.DeviceID)
	if stale, err := p.older(ctx, latest, tp); err != nil {
		return err
	} else if !stale {
		if err := p.Redis.Set(ctx, latest, kafkax.MustMarshal(tp), redisx.TTLLatest).Err(); err != nil {
			return err
		}
	}

	status := fmt.Sprintf(redisx.KeyTxStatus, tp.TransactionID)
	if err := p.Redis.Set(ctx, status, kafkax.MustMarshal(tp), redisx.TTLStatusCache).Err(); err != nil {
		return err
	}

	_ = p.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	p.Log.Debug("projected",
		zap.String("event_type", env.EventType),
		zap.String("transaction_id", tp.TransactionID),
		zap.String("header_type", kafkax.Header(m, "x-event-type")))
	return nil
}

// older reports whether the stored latest entry belongs to a different, newer
// transaction; an update to the same transaction always wins.
func (p *Projector) older(ctx context.Context, key string, tp orders.TransactionPayload) (bool, error) {
	raw, ok, err := redisx.GetString(ctx, p.Redis, key)
	if err != nil || !ok {
		return false, err
	}
	var cur orders.TransactionPayload
	if json.Unmarshal([]byte(raw), &cur) != nil {
		return false, nil
	}
	return cur.TransactionID != tp.TransactionID && cur.At.After(tp.At), nil
}
