package audit

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSave(t *testing.T) {
	d, err := NewDir(filepath.Join(t.TempDir(), "user_TempImage"))
	require.NoError(t, err)
	d.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	name, full, err := d.Save("face.PNG", []byte("png-bytes"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "20240102030405_"))
	assert.True(t, strings.HasSuffix(name, ".png"))
	assert.Equal(t, filepath.Join(d.Path(), name), full)

	data, err := os.ReadFile(full)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
}

func TestSaveConcurrentWritersNeverCollide(t *testing.T) {
	d, err := NewDir(t.TempDir())
	require.NoError(t, err)

	const writers = 50
	var wg sync.WaitGroup
	names := make(chan string, writers)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name, _, err := d.Save("x.jpg", []byte("x"))
			assert.NoError(t, err)
			names <- name
		}()
	}
	wg.Wait()
	close(names)

	seen := map[string]bool{}
	for n := range names {
		assert.False(t, seen[n])
		seen[n] = true
	}
	entries, err := os.ReadDir(d.Path())
	require.NoError(t, err)
	assert.Len(t, entries, writers)
}

func TestNewDirRequiresPath(t *testing.T) {
	_, err := NewDir("")
	assert.Error(t, err)
}
