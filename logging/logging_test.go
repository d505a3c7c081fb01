package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskConnectionString(t *testing.T) {
	cases := map[string]string{
		"postgres://app:s3cret@db:5432/estate":    "postgres://app:****@db:5432/estate",
		"postgres://app@db:5432/estate":           "postgres://app@db:5432/estate",
		"file:/var/lib/estate.db":                 "file:/var/lib/estate.db",
		"postgresql://u:p@h/d?sslmode=disable":    "postgresql://u:****@h/d?sslmode=disable",
	}
	for in, want := range cases {
		assert.Equal(t, want, MaskConnectionString(in), in)
	}
}

func TestMaskRecipient(t *testing.T) {
	assert.Equal(t, "m***@example.com", MaskRecipient("mario@example.com"))
	assert.Equal(t, "****4567", MaskRecipient("+393331234567"))
	assert.Equal(t, "****", MaskRecipient("123"))
}

func TestRotatingWriterKeepsOneBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifier.log")

	w, err := NewRotatingWriter(path, 16)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("first line that overflows\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)

	backup, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(backup), "first line"))

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(current))
}
