package filestore

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// pngHeader is the PNG signature followed by the start of an IHDR chunk.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func Test_SaveImage_Stores_Sniffed_Image(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	store, err := NewLocalFileStore(dir, "/files/")
	req.NoError(err)

	payload := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0x42}, 2048)...)
	stored, err := store.SaveImage(bytes.NewReader(payload))
	req.NoError(err)

	req.Equal("image/png", stored.MimeType)
	req.True(strings.HasSuffix(stored.Key, ".png"))
	req.True(strings.HasPrefix(stored.URL, "/files/uploads/"))

	written, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(stored.Key)))
	req.NoError(err)
	req.Equal(payload, written)
}

func Test_SaveImage_Rejects_Non_Images(t *testing.T) {
	req := require.New(t)
	store, err := NewLocalFileStore(t.TempDir(), "/files")
	req.NoError(err)

	_, err = store.SaveImage(strings.NewReader("just some text, definitely not a picture"))
	req.ErrorIs(err, ErrNotAnImage)
}
