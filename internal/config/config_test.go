package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_DSN", "postgres://billing@localhost:5432/billing")
	t.Setenv("STRIPE_APIKEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOKSECRET", "whsec_123")
	t.Setenv("AUTH_JWTSECRET", "secret")
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	setRequiredEnv(t)
	t.Setenv("APP_PORT", "9999")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.App.Port)
	assert.Equal(t, "sk_test_123", cfg.Stripe.APIKey)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 7*24*time.Hour, cfg.Billing.InvitationTTL)
	assert.Equal(t, int32(10), cfg.Database.MaxConns)
	assert.True(t, cfg.IsProduction())

	catalog, err := cfg.Catalog()
	require.NoError(t, err)
	_, ok := catalog.Get("growth")
	assert.True(t, ok)
}

func TestLoadConfig_MissingRequired(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("APP_ENV", "production")

	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stripe.apiKey")
	assert.Contains(t, err.Error(), "database.dsn")
}
