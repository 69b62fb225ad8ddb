package bridge

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisConfig keeps the latest value per kind in the hash <prefix>:<device>
// and publishes every record on Channel.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
	Channel  string `json:"channel,omitempty"`
}

func init() {
	RegisterTransport("redis", func(c TransportConfig) (Transport, error) {
		if c.Redis == nil || c.Redis.Addr == "" {
			return nil, errors.New("redis transport requires an addr")
		}
		cfg := *c.Redis
		if cfg.Prefix == "" {
			cfg.Prefix = "dht"
		}
		if cfg.Channel == "" {
			cfg.Channel = cfg.Prefix + ":readings"
		}
		return &redisTransport{cfg: cfg}, nil
	})
}

type redisTransport struct{ cfg RedisConfig }

func (t *redisTransport) String() string { return "redis " + t.cfg.Addr }

func (t *redisTransport) Open(ctx context.Context) (Link, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     t.cfg.Addr,
		Password: t.cfg.Password,
		DB:       t.cfg.DB,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return &redisLink{c: c, cfg: t.cfg}, nil
}

type redisLink struct {
	c   *redis.Client
	cfg RedisConfig
}

func (l *redisLink) Send(ctx context.Context, r Record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	pipe := l.c.Pipeline()
	pipe.HSet(ctx, redisKey(l.cfg.Prefix, r.Device), r.Kind, b)
	pipe.Publish(ctx, l.cfg.Channel, b)
	_, err = pipe.Exec(ctx)
	return err
}

func (l *redisLink) Close() error { return l.c.Close() }

func redisKey(prefix, device string) string { return prefix + ":" + device }
