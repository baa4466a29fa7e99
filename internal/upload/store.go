// Package upload 实现本地磁盘 Blob Store：保存上传文件、探测类型、生成访问 URL。
package upload

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var (
	ErrTooLarge        = errors.New("file exceeds size limit")
	ErrUnsupportedType = errors.New("only image, video and pdf files are allowed")
)

type Store struct {
	dir      string
	maxBytes int64
}

func NewStore(dir string, maxMB int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir, maxBytes: int64(maxMB) << 20}, nil
}

// Result 是保存成功后的文件元数据，直接进入消息记录。
type Result struct {
	URL  string
	Type string
	Name string
}

// Save 校验大小与内容类型后落盘，文件名加 uuid 后缀避免冲突。
// 类型判定基于文件内容嗅探，不信任客户端声明的 Content-Type。
func (s *Store) Save(fh *multipart.FileHeader) (*Result, error) {
	if fh.Size > s.maxBytes {
		return nil, ErrTooLarge
	}
	src, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	head := make([]byte, 3072)
	n, err := io.ReadFull(src, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	head = head[:n]
	ftype := FileType(mimetype.Detect(head).String())
	if ftype == "" {
		return nil, ErrUnsupportedType
	}

	name := fmt.Sprintf("%s-%s%s", strings.TrimSuffix(filepath.Base(fh.Filename), filepath.Ext(fh.Filename)), uuid.NewString(), filepath.Ext(fh.Filename))
	dst, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return nil, err
	}
	defer dst.Close()
	if _, err := dst.Write(head); err != nil {
		return nil, err
	}
	if _, err := io.Copy(dst, src); err != nil {
		return nil, err
	}
	return &Result{URL: "/uploads/" + name, Type: ftype, Name: fh.Filename}, nil
}

// Dir 返回存储目录，供静态路由挂载。
func (s *Store) Dir() string { return s.dir }

// FileType 把 MIME 类型归并为协议里的三类附件类型，不支持的类型返回空串。
func FileType(mime string) string {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return "image"
	case strings.HasPrefix(mime, "video/"):
		return "video"
	case strings.HasPrefix(mime, "application/pdf"):
		return "pdf"
	default:
		return ""
	}
}
