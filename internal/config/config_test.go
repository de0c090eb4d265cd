package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg := Load()

	assert.Equal(t, []byte("test-secret"), cfg.JWT.Secret)
	assert.Equal(t, 15*time.Minute, cfg.JWT.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.JWT.RefreshTTL)
	assert.Equal(t, time.Hour, cfg.JWT.ResetTTL)
	assert.Equal(t, 256, cfg.WebSocket.SendBuffer)
	assert.Equal(t, "chat-messages", cfg.Kafka.Topic)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("ACCESS_TOKEN_TTL", "5m")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092 ,")
	t.Setenv("MODERATION_BLOCKED_WORDS", "spam,scam")
	t.Setenv("WS_SEND_BUFFER", "32")

	cfg := Load()

	assert.Equal(t, 5*time.Minute, cfg.JWT.AccessTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"spam", "scam"}, cfg.Moderation.BlockedWords)
	assert.Equal(t, 32, cfg.WebSocket.SendBuffer)
}

func TestSplitCSV(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"single", "a", []string{"a"}},
		{"spaces and blanks", " a , ,b ", []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitCSV(tt.in))
		})
	}
}
