package imagefs

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 20), B: 7, A: 255})
		}
	}
	return img
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewStore()
	path := filepath.Join(dir, "frame_00000.png")

	src := testImage(12, 9)
	require.NoError(t, s.SaveImage(path, src))

	got, err := s.LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, src.Bounds(), got.Bounds())
	for y := 0; y < 9; y++ {
		for x := 0; x < 12; x++ {
			r1, g1, b1, _ := src.At(x, y).RGBA()
			r2, g2, b2, _ := got.At(x, y).RGBA()
			assert.Equal(t, []uint32{r1, g1, b1}, []uint32{r2, g2, b2})
		}
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestSaveIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	s := NewStore()
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "b.png")

	require.NoError(t, s.SaveImage(a, testImage(5, 5)))
	require.NoError(t, s.SaveImage(b, testImage(5, 5)))

	da, err := os.ReadFile(a)
	require.NoError(t, err)
	db, err := os.ReadFile(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

func TestListImagesSortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"frame_00002.png", "frame_00000.png", "frame_00001.jpg", "notes.txt", ".frame_00003.png.123.tmp"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0755))

	paths, err := ListImages(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "frame_00000.png"),
		filepath.Join(dir, "frame_00001.jpg"),
		filepath.Join(dir, "frame_00002.png"),
	}, paths)
}

func TestLoadImageMissing(t *testing.T) {
	_, err := NewStore().LoadImage(filepath.Join(t.TempDir(), "nope.png"))
	assert.True(t, os.IsNotExist(err))
}
