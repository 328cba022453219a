package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("BASIC_MONTHLY_LIMIT", "abc")
	t.Setenv("NOTIFIER_WORKERS", "12")

	cfg := Load()

	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 1000, cfg.BasicMonthlyLimit)
	require.Equal(t, 12, cfg.NotifierWorkers)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestRequireSecrets(t *testing.T) {
	cfg := Config{
		StripeSecretKey:           "sk_test_1",
		WebhookSecretTransaction:  "whsec_tx",
		WebhookSecretSubscription: "whsec_sub",
		JWTSecret:                 "s3cret",
	}
	require.NoError(t, cfg.RequireSecrets())

	cfg.JWTSecret = ""
	cfg.WebhookSecretSubscription = " "
	err := cfg.RequireSecrets()
	require.ErrorIs(t, err, ErrMissingSecret)
	require.ErrorContains(t, err, "JWT_SECRET")
	require.ErrorContains(t, err, "STRIPE_WEBHOOK_SECRET_SUBSCRIPTION")
}
