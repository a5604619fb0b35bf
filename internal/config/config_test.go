package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, ":8082", cfg.HTTPAddr)
	assert.Equal(t, "orders-api", cfg.ServiceName)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3*time.Second, cfg.CustomersTimeout)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092 ,")
	t.Setenv("CUSTOMERS_API_BASE", "http://localhost:3001")
	t.Setenv("SERVICE_TOKEN", "tok")
	t.Setenv("CUSTOMERS_TIMEOUT", "750ms")

	cfg := Load()
	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "http://localhost:3001", cfg.CustomersBaseURL)
	assert.Equal(t, "tok", cfg.CustomersToken)
	assert.Equal(t, 750*time.Millisecond, cfg.CustomersTimeout)
}

func TestBadDurationFallsBack(t *testing.T) {
	t.Setenv("CUSTOMERS_TIMEOUT", "soon")
	assert.Equal(t, 3*time.Second, Load().CustomersTimeout)
}
