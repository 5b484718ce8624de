package prompt

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time {
	return time.Date(2024, 7, 1, 10, 30, 0, 0, time.UTC)
}

func TestLoader_DefaultTemplate(t *testing.T) {
	l, err := New(Config{Logger: zerolog.Nop(), Now: fixedNow})
	require.NoError(t, err)
	defer l.Close()

	out := l.Render()
	assert.Contains(t, out, "travel guide")
	// Copenhagen is UTC+2 in July.
	assert.Contains(t, out, "2024-07-01T12:30:00+02:00")
	assert.NoError(t, l.Watch())
}

func TestLoader_FileTemplate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "system.tmpl")
	require.NoError(t, os.WriteFile(path, []byte("Now: {{.Now}} in {{.Timezone}} on {{.Date}}"), 0o644))

	l, err := New(Config{File: path, Timezone: "UTC", Logger: zerolog.Nop(), Now: fixedNow})
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, "Now: 2024-07-01T10:30:00+00:00 in UTC on 2024-07-01", l.Render())
}

func TestLoader_Errors(t *testing.T) {
	t.Run("should reject an unknown timezone", func(t *testing.T) {
		_, err := New(Config{Timezone: "Mars/Olympus", Logger: zerolog.Nop()})
		assert.Error(t, err)
	})

	t.Run("should reject a missing file", func(t *testing.T) {
		_, err := New(Config{File: filepath.Join(t.TempDir(), "missing.tmpl"), Logger: zerolog.Nop()})
		assert.Error(t, err)
	})

	t.Run("should keep the previous template on a bad reload", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "system.tmpl")
		require.NoError(t, os.WriteFile(path, []byte("good"), 0o644))

		l, err := New(Config{File: path, Logger: zerolog.Nop()})
		require.NoError(t, err)
		defer l.Close()

		require.NoError(t, os.WriteFile(path, []byte("{{.Broken"), 0o644))
		assert.Error(t, l.Reload())
		assert.Equal(t, "good", l.Render())
	})
}

func TestLoader_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "system.tmpl")
	require.NoError(t, os.WriteFile(path, []byte("version one"), 0o644))

	l, err := New(Config{File: path, Logger: zerolog.Nop(), Debounce: 10 * time.Millisecond})
	require.NoError(t, err)
	defer l.Close()
	require.NoError(t, l.Watch())

	require.NoError(t, os.WriteFile(path, []byte("version two"), 0o644))

	assert.Eventually(t, func() bool {
		return l.Render() == "version two"
	}, 3*time.Second, 20*time.Millisecond)
}
