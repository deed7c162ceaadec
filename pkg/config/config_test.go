package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromViper_ValoresPorDefecto(t *testing.T) {
	cfg := fromViper(viper.New())

	assert.Equal(t, "development", cfg.App.Env)
	assert.Equal(t, 10, cfg.Workflow.Workers)
	assert.Equal(t, 5, cfg.TTN.ContentRetries)
	assert.Equal(t, 5*time.Second, cfg.TTN.ContentRetryDelay)
	assert.Equal(t, 5*time.Second, cfg.TTN.ConsultDelay)
	assert.Equal(t, 24*time.Hour, cfg.Signer.PolicyHashTTL)
	assert.Equal(t, 30*time.Minute, cfg.Workflow.SessionMaxAge)
	assert.Equal(t, "@every 5m", cfg.Workflow.SweepSchedule)
	assert.True(t, cfg.ANCE.SSLVerify)
	assert.False(t, cfg.DB.Enabled)
}

func TestFromViper_Sobrescrituras(t *testing.T) {
	v := viper.New()
	v.Set("WORKFLOW_WORKERS", "4")
	v.Set("TTN_CONTENT_RETRY_DELAY_SECONDS", 2)
	v.Set("ANCE_SSL_VERIFY", "false")
	v.Set("DB_ENABLED", "true")
	v.Set("HTTP_PORT", "not-a-number")

	cfg := fromViper(v)

	assert.Equal(t, 4, cfg.Workflow.Workers)
	assert.Equal(t, 2*time.Second, cfg.TTN.ContentRetryDelay)
	assert.False(t, cfg.ANCE.SSLVerify)
	assert.True(t, cfg.DB.Enabled)
	assert.Equal(t, 8080, cfg.HTTP.Port, "un entero inválido conserva el valor por defecto")
}

func TestValidate(t *testing.T) {
	cfg := fromViper(viper.New())
	cfg.ANCE.SignURL = "https://ance.example/signHash/{alias}/SHA256"
	require.NoError(t, cfg.Validate())

	cfg.App.Env = "production"
	assert.Error(t, cfg.Validate(), "sin JWT_SECRET en producción")

	cfg.JWT.Secret = "s3cr3t"
	require.NoError(t, cfg.Validate())

	cfg.Signer.Mode = "local"
	assert.Error(t, cfg.Validate(), "modo local sin .p12")

	cfg.Signer.Mode = "hsm"
	assert.Error(t, cfg.Validate())

	cfg.Signer.Mode = "remote"
	cfg.Workflow.Workers = 0
	assert.Error(t, cfg.Validate())
}

func TestDBConfig_DSN(t *testing.T) {
	c := DBConfig{Host: "db", Port: 5432, User: "u", Password: "p@ss/word", DBName: "elfatoura", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p%40ss%2Fword@db:5432/elfatoura?sslmode=disable", c.ConnectionString())

	c.DatabaseURL = "postgres://x"
	assert.Equal(t, "postgres://x", c.ConnectionString())
}
