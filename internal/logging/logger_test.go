package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerConsoleThreshold(t *testing.T) {
	var buf bytes.Buffer
	l, err := New("terrain", Options{Console: &buf, ConsoleLevel: WARN, FileLevel: TRACE})
	require.NoError(t, err)

	l.Infof("не должно попасть")
	l.Warnf("грид %d", 3)

	out := buf.String()
	assert.NotContains(t, out, "не должно попасть")
	assert.Contains(t, out, "[WARN] [terrain] грид 3")
}

func TestLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()
	l, err := New("loader", Options{Dir: dir, DisableConsole: true, FileLevel: DEBUG})
	require.NoError(t, err)

	l.Debugf("загрузка %s", "terrain.vxdb")
	l.Tracef("ниже порога")
	require.NoError(t, l.Close())

	files, err := filepath.Glob(filepath.Join(dir, "loader_*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "[DEBUG] [loader] загрузка terrain.vxdb")
	assert.NotContains(t, string(data), "ниже порога")
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, DEBUG, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, INFO, lvl)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func TestManagerReusesComponentLoggers(t *testing.T) {
	m := NewManager(Options{DisableConsole: true})

	a, err := m.Get("scheduler")
	require.NoError(t, err)
	b, err := m.Get("scheduler")
	require.NoError(t, err)
	assert.Same(t, a, b, "один компонент - один логгер")

	require.NoError(t, m.SetLevel("scheduler", ERROR, ERROR))
	assert.Error(t, m.SetLevel("unknown", ERROR, ERROR))
	assert.Equal(t, []string{"scheduler"}, m.Components())
	assert.NoError(t, m.CloseAll())
	assert.Empty(t, m.Components())
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	OrNop(nil).Errorf("тихо")
}
