package writer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenFiles_NamingPolicy(t *testing.T) {
	outDir := t.TempDir()
	w := New(outDir, "", false, nil)

	out1, _ := w.OpenFiles("host1")
	out2, _ := w.OpenFiles("host1")
	out3, _ := w.OpenFiles("host2")

	assert.Equal(t, filepath.Join(outDir, "host1"), out1)
	assert.Equal(t, filepath.Join(outDir, "host1.1"), out2)
	assert.Equal(t, filepath.Join(outDir, "host2"), out3)

	w.Quit()
	w.Join()
}

func TestWriter_DeferredOpenAndOrderedWrites(t *testing.T) {
	outDir := t.TempDir()
	w := New(outDir, "", false, nil)

	out, _ := w.OpenFiles("host1")
	// No data written yet: nothing should exist on disk.
	_, err := os.Stat(out)
	assert.True(t, os.IsNotExist(err))

	w.Enqueue(out, []byte("a\n"))
	w.Enqueue(out, []byte("b\n"))
	w.Close(out)
	w.Quit()
	w.Join()

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", string(data))
}

func TestWriter_EOFWithoutWriteLeavesNoFile(t *testing.T) {
	outDir := t.TempDir()
	w := New(outDir, "", false, nil)

	out, _ := w.OpenFiles("host1")
	w.Close(out)
	w.Quit()
	w.Join()

	_, err := os.Stat(out)
	assert.True(t, os.IsNotExist(err))
}

func TestWriter_NoDirsConfigured(t *testing.T) {
	w := New("", "", false, nil)
	out, errp := w.OpenFiles("host1")
	assert.Empty(t, out)
	assert.Empty(t, errp)
	w.Quit()
	w.Join()
}

func TestWriter_AppendMode(t *testing.T) {
	outDir := t.TempDir()
	path := filepath.Join(outDir, "host1")
	require.NoError(t, os.WriteFile(path, []byte("existing\n"), 0644))

	w := New(outDir, "", true, nil)
	w.OpenFiles("host1")
	w.Enqueue(path, []byte("more\n"))
	w.Close(path)
	w.Quit()
	w.Join()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "existing\nmore\n", string(data))
}
