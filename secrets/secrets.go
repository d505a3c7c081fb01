package secrets

import (
	"errors"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

// Lookup returns the credential stored in the environment variable key.
// When the variable is empty and a keyring service is configured, the OS
// keychain entry (service, key) is used instead. Missing secrets yield "".
func Lookup(key, keyringService string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	if strings.TrimSpace(keyringService) == "" {
		return ""
	}
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(val)
}

// Store saves a credential in the OS keychain under (service, key).
func Store(keyringService, key, value string) error {
	if strings.TrimSpace(keyringService) == "" {
		return errors.New("keyring service name is empty")
	}
	if strings.TrimSpace(value) == "" {
		return errors.New("secret value is empty")
	}
	return keyring.Set(keyringService, key, value)
}
