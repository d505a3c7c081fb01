package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNaturalKey(t *testing.T) {
	assert.Equal(t, "idealista|123", NaturalKey(" Idealista ", " 123 "))
	assert.NotEqual(t, NaturalKey("a", "1"), NaturalKey("b", "1"))
}

func TestFold(t *testing.T) {
	assert.Equal(t, "forli centro", Fold("  Forlì   Centro "))
	assert.Equal(t, "roma", Fold("ROMA"))
	assert.Equal(t, "", Fold("   "))
}
