package upload

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileType(t *testing.T) {
	tests := []struct {
		mime string
		want string
	}{
		{"image/png", "image"},
		{"image/jpeg", "image"},
		{"video/mp4", "video"},
		{"application/pdf", "pdf"},
		{"application/pdf; charset=binary", "pdf"},
		{"text/plain", ""},
		{"application/zip", ""},
	}
	for _, tt := range tests {
		if got := FileType(tt.mime); got != tt.want {
			t.Errorf("FileType(%q) = %q, want %q", tt.mime, got, tt.want)
		}
	}
}

// makeFileHeader 构造一个携带指定内容的 multipart 文件头。
func makeFileHeader(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/chat/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(32<<20))
	return req.MultipartForm.File["file"][0]
}

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR fake image payload")

func TestStore_Save(t *testing.T) {
	store, err := NewStore(t.TempDir(), 1)
	require.NoError(t, err)

	fh := makeFileHeader(t, "pic.png", pngBytes)
	res, err := store.Save(fh)
	require.NoError(t, err)

	require.Equal(t, "image", res.Type)
	require.Equal(t, "pic.png", res.Name)
	require.True(t, strings.HasPrefix(res.URL, "/uploads/pic-"), "url = %s", res.URL)
	require.True(t, strings.HasSuffix(res.URL, ".png"), "url = %s", res.URL)

	// 落盘内容必须与上传内容一致。
	saved, err := os.ReadFile(filepath.Join(store.Dir(), strings.TrimPrefix(res.URL, "/uploads/")))
	require.NoError(t, err)
	require.Equal(t, pngBytes, saved)
}

func TestStore_Save_UniqueNames(t *testing.T) {
	store, err := NewStore(t.TempDir(), 1)
	require.NoError(t, err)

	first, err := store.Save(makeFileHeader(t, "pic.png", pngBytes))
	require.NoError(t, err)
	second, err := store.Save(makeFileHeader(t, "pic.png", pngBytes))
	require.NoError(t, err)
	require.NotEqual(t, first.URL, second.URL)
}

func TestStore_Save_RejectsUnsupportedType(t *testing.T) {
	store, err := NewStore(t.TempDir(), 1)
	require.NoError(t, err)

	fh := makeFileHeader(t, "notes.txt", []byte("plain text, not a media file"))
	_, err = store.Save(fh)
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestStore_Save_RejectsOversize(t *testing.T) {
	store, err := NewStore(t.TempDir(), 1)
	require.NoError(t, err)

	big := append(append([]byte{}, pngBytes...), make([]byte, 2<<20)...)
	fh := makeFileHeader(t, "big.png", big)
	_, err = store.Save(fh)
	require.ErrorIs(t, err, ErrTooLarge)
}
