package stubbackend

import (
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
)

const RedisSlug = "redis"

// RedisSettings selects the Redis Streams bus shared by several stub instances.
type RedisSettings struct {
	Enabled bool   `glazed:"redis-enabled"`
	Addr    string `glazed:"redis-addr"`
}

// NewRedisSection returns the section definition for RedisSettings.
func NewRedisSection() (schema.Section, error) {
	return schema.NewSection(
		RedisSlug,
		"Redis Streams bus for pushes shared between stub instances",
		schema.WithFields(
			fields.New("redis-enabled", fields.TypeBool,
				fields.WithHelp("Route pushes through Redis Streams"),
				fields.WithDefault(false)),
			fields.New("redis-addr", fields.TypeString,
				fields.WithHelp("Redis address host:port"),
				fields.WithDefault("localhost:6379")),
		),
	)
}
