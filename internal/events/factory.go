package events

import (
	"fmt"
	"strings"

	"github.com/soltixdb/ringkv/internal/config"
)

// Bus types
const (
	TypeNATS   = "nats"
	TypeRedis  = "redis"
	TypeKafka  = "kafka"
	TypeMemory = "memory"
	TypeNone   = "none"
)

// NewBus creates the bus selected by configuration. Type "none" returns a nil
// Bus and a nil error; an Emitter over a nil Bus drops everything.
func NewBus(cfg config.EventsConfig) (Bus, error) {
	busType := strings.ToLower(cfg.Type)
	if busType == "" {
		busType = TypeMemory
	}

	switch busType {
	case TypeNATS:
		return newNATSBus(NATSConfig{
			URL:      cfg.URL,
			Username: cfg.Username,
			Password: cfg.Password,
			Prefix:   subjectPrefix(cfg.Subject),
		})

	case TypeRedis:
		return newRedisBus(RedisConfig{
			URL:      cfg.URL,
			Password: cfg.Password,
			DB:       cfg.RedisDB,
			Stream:   cfg.RedisStream,
			Group:    cfg.RedisGroup,
			Consumer: cfg.RedisConsumer,
		})

	case TypeKafka:
		return newKafkaBus(KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.KafkaGroupID,
		})

	case TypeMemory:
		return newMemoryBus(), nil

	case TypeNone:
		return nil, nil

	default:
		return nil, fmt.Errorf("unsupported events type: %s (supported: nats, redis, kafka, memory, none)", busType)
	}
}

func subjectPrefix(prefix string) string {
	if prefix == "" {
		return DefaultPrefix
	}
	return prefix
}
