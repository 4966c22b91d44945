package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func writeTestImage(t *testing.T, path string, rows, cols int) {
	t.Helper()
	m := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC3)
	defer m.Close()
	require.True(t, gocv.IMWrite(path, m), "failed to write %s", path)
}

func TestPrefetchReaderOrder(t *testing.T) {
	dir := t.TempDir()
	// 不同尺寸用于校验顺序
	sizes := []struct{ rows, cols int }{{4, 5}, {6, 7}, {8, 9}}
	paths := make([]string, 0, len(sizes))
	for i, size := range sizes {
		p := filepath.Join(dir, string(rune('a'+i))+".png")
		writeTestImage(t, p, size.rows, size.cols)
		paths = append(paths, p)
	}

	reader := NewPrefetchReader(paths, 1)
	reader.Start()

	for i, size := range sizes {
		item, ok := reader.Next()
		require.True(t, ok, "item %d missing", i)
		assert.Equal(t, paths[i], item.Path)
		assert.Equal(t, size.rows, item.Image.Rows())
		assert.Equal(t, size.cols, item.Image.Cols())
		item.Image.Close()
	}

	// 序列耗尽后始终返回 ok == false
	_, ok := reader.Next()
	assert.False(t, ok)
	_, ok = reader.Next()
	assert.False(t, ok)
}

func TestPrefetchReaderUndecodableImage(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.png")
	writeTestImage(t, good, 4, 4)
	bad := filepath.Join(dir, "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("not an image"), 0644))

	reader := NewPrefetchReader([]string{bad, good}, 2)
	reader.Start()

	// 解码失败仍按序传递空 Mat，由消费方决定跳过
	item, ok := reader.Next()
	require.True(t, ok)
	assert.Equal(t, bad, item.Path)
	assert.True(t, item.Image.Empty())
	item.Image.Close()

	item, ok = reader.Next()
	require.True(t, ok)
	assert.Equal(t, good, item.Path)
	assert.False(t, item.Image.Empty())
	item.Image.Close()

	_, ok = reader.Next()
	assert.False(t, ok)
}

func TestIOWriterWritesAll(t *testing.T) {
	dir := t.TempDir()
	writer := NewIOWriter(2, 2)

	var paths []string
	for i := 0; i < 5; i++ {
		p := filepath.Join(dir, string(rune('a'+i))+".png")
		paths = append(paths, p)
		writer.Submit(WriteTask{
			Output:   gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3),
			SavePath: p,
		})
	}
	writer.Close()

	for _, p := range paths {
		info, err := os.Stat(p)
		require.NoError(t, err, "missing output %s", p)
		assert.Greater(t, info.Size(), int64(0))
	}
}
