package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestLookupPrefersEnvironment(t *testing.T) {
	keyring.MockInit()
	require.NoError(t, keyring.Set("estate", "TELEGRAM_BOT_TOKEN", "from-keyring"))
	t.Setenv("TELEGRAM_BOT_TOKEN", "  from-env ")

	assert.Equal(t, "from-env", Lookup("TELEGRAM_BOT_TOKEN", "estate"))
}

func TestLookupFallsBackToKeyring(t *testing.T) {
	keyring.MockInit()
	t.Setenv("SMTP_PASSWORD", "")
	require.NoError(t, Store("estate", "SMTP_PASSWORD", "hunter2"))

	assert.Equal(t, "hunter2", Lookup("SMTP_PASSWORD", "estate"))
	assert.Empty(t, Lookup("SMTP_PASSWORD", ""))
	assert.Empty(t, Lookup("TWILIO_AUTH_TOKEN", "estate"))
}

func TestStoreRejectsEmpty(t *testing.T) {
	keyring.MockInit()
	assert.Error(t, Store("", "KEY", "value"))
	assert.Error(t, Store("estate", "KEY", "  "))
}
