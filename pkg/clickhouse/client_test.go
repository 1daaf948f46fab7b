package clickhouse

import (
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
)

func TestConfigOptions(t *testing.T) {
	opts := Config{
		Host:             "ch.local",
		Database:         "tradescout",
		Password:         "p@ss",
		MaxExecutionTime: 30 * time.Second,
		AsyncInsert:      true,
	}.withDefaults().options()

	assert.Equal(t, []string{"ch.local:9000"}, opts.Addr)
	assert.Equal(t, clickhouse.Native, opts.Protocol)
	assert.Equal(t, "tradescout", opts.Auth.Database)
	assert.Equal(t, "default", opts.Auth.Username)
	assert.Equal(t, "p@ss", opts.Auth.Password)
	assert.Equal(t, 5*time.Second, opts.DialTimeout)
	assert.Equal(t, 30, opts.Settings["max_execution_time"])
	assert.Equal(t, 1, opts.Settings["async_insert"])
	assert.NotContains(t, opts.Settings, "wait_for_async_insert")
}

func TestConfigOptionsHTTP(t *testing.T) {
	opts := Config{Host: "ch", Port: 8123, UseHTTP: true}.withDefaults().options()
	assert.Equal(t, clickhouse.HTTP, opts.Protocol)
	assert.Equal(t, []string{"ch:8123"}, opts.Addr)
	assert.Empty(t, opts.Settings)
}

func TestNewClientRequiresHost(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}
