package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestOrNop(t *testing.T) {
	assert.NotPanics(t, func() {
		OrNop(nil).Infow("discarded", "key", "value")
	})
	log := zap.NewExample().Sugar()
	assert.Same(t, log, OrNop(log))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 3))
	assert.Equal(t, "ab... (truncated)", Truncate("abc", 2))
}
