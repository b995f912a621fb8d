package cursor_test

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"deedles.dev/wlcomp/cursor"
	"deedles.dev/wlcomp/shm/shmimage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testImage struct {
	size, w, h, xhot, yhot int
	delay                  uint32
	color                  uint32
}

// encode writes an Xcursor file with the images in order, followed by
// a single comment.
func encode(images []testImage, comment string) []byte {
	const (
		headerSize  = 16
		tocSize     = 12
		imageHeader = 36
	)

	ntoc := len(images) + 1
	pos := headerSize + ntoc*tocSize

	var body, toc bytes.Buffer
	put := func(buf *bytes.Buffer, vs ...uint32) {
		for _, v := range vs {
			binary.Write(buf, binary.LittleEndian, v)
		}
	}

	for _, img := range images {
		put(&toc, 0xfffd0002, uint32(img.size), uint32(pos+body.Len()))
		put(&body, imageHeader, 0xfffd0002, uint32(img.size), 1)
		put(&body, uint32(img.w), uint32(img.h), uint32(img.xhot), uint32(img.yhot), img.delay)
		for range img.w * img.h {
			put(&body, img.color)
		}
	}

	put(&toc, 0xfffe0001, 3, uint32(pos+body.Len()))
	put(&body, 20, 0xfffe0001, 3, 1, uint32(len(comment)))
	body.WriteString(comment)

	var file bytes.Buffer
	put(&file, 0x72756358, headerSize, 0x10000, uint32(ntoc))
	file.Write(toc.Bytes())
	file.Write(body.Bytes())
	return file.Bytes()
}

var sample = []testImage{
	{size: 16, w: 16, h: 16, xhot: 1, yhot: 2, color: 0xff000000},
	{size: 32, w: 32, h: 32, xhot: 3, yhot: 4, delay: 50, color: 0xffff0000},
	{size: 32, w: 32, h: 32, xhot: 3, yhot: 4, delay: 50, color: 0xff00ff00},
}

func TestDecodeClosestSize(t *testing.T) {
	tests := []struct {
		name  string
		size  int
		want  int
		count int
	}{
		{"exact", 32, 32, 2},
		{"smaller", 18, 16, 1},
		{"larger", 64, 32, 2},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c, err := cursor.Decode(bytes.NewReader(encode(sample, "hi")), test.size)
			require.NoError(t, err)
			require.Len(t, c.Frames, test.count)
			assert.Equal(t, test.want, c.Frames[0].NominalSize)
			assert.Equal(t, test.want, c.Frames[0].Image.Bounds().Dx())
		})
	}
}

func TestDecodeFrames(t *testing.T) {
	// A plain reader makes the decoder skip forward instead of seeking.
	c, err := cursor.Decode(bytes.NewBuffer(encode(sample, "copyright")), 32)
	require.NoError(t, err)
	require.Len(t, c.Frames, 2)

	f := c.Frames[1]
	assert.Equal(t, 3, f.XHot)
	assert.Equal(t, 4, f.YHot)
	assert.Equal(t, 50*time.Millisecond, f.Delay)
	assert.Equal(t, shmimage.ARGB8888Color(0xff00ff00), f.Image.ARGB8888At(5, 5))

	require.Len(t, c.Comments, 1)
	assert.Equal(t, cursor.CommentSubtypeOther, c.Comments[0].Subtype)
	assert.Equal(t, "copyright", c.Comments[0].Comment)
}

func TestDecodeErrors(t *testing.T) {
	_, err := cursor.Decode(bytes.NewReader([]byte("not a cursor file")), 24)
	assert.ErrorIs(t, err, cursor.ErrBadMagic)

	data := encode(sample, "")
	_, err = cursor.Decode(bytes.NewReader(data[:len(data)/2]), 32)
	assert.Error(t, err)

	_, err = cursor.Decode(bytes.NewReader(encode(nil, "empty")), 24)
	assert.ErrorIs(t, err, cursor.ErrNoImages)
}

func writeTheme(t *testing.T, root, name string, inherits string, cursors map[string][]testImage) {
	dir := filepath.Join(root, name, "cursors")
	require.NoError(t, os.MkdirAll(dir, 0755))
	for n, images := range cursors {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), encode(images, ""), 0644))
	}
	if inherits != "" {
		index := "[Icon Theme]\nName=" + name + "\nInherits=" + inherits + "\n"
		require.NoError(t, os.WriteFile(filepath.Join(root, name, "index.theme"), []byte(index), 0644))
	}
}

func TestThemeInheritance(t *testing.T) {
	root := t.TempDir()
	t.Setenv("XCURSOR_PATH", root)

	writeTheme(t, root, "child", "base", map[string][]testImage{
		"xterm": sample[:1],
	})
	writeTheme(t, root, "base", "child", map[string][]testImage{
		"left_ptr": sample[1:],
		"xterm":    sample[1:2],
	})

	theme, err := cursor.LoadTheme("child", 24)
	require.NoError(t, err)

	c, err := theme.Load("xterm")
	require.NoError(t, err)
	assert.Equal(t, 16, c.Frames[0].NominalSize, "the child theme's cursor wins")

	img, hotspot, err := theme.Cursor("default", 32)
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
	assert.Equal(t, 3, hotspot.X)

	_, _, err = theme.Cursor("nonexistent", 24)
	assert.ErrorIs(t, err, cursor.ErrCursorNotFound)
}

func TestThemeNotFound(t *testing.T) {
	t.Setenv("XCURSOR_PATH", t.TempDir())
	_, err := cursor.LoadTheme("missing", 24)
	assert.ErrorIs(t, err, cursor.ErrThemeNotFound)
}
