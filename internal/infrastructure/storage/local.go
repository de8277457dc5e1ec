package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"trademall/pkg/idgen"
)

// BlobStore 对象存储边界：凭证截图、产品图片
// 核心只依赖这个接口，磁盘实现是最小的本地协作方
type BlobStore interface {
	// Save 保存对象，返回可对外引用的 URL
	Save(ctx context.Context, filename string, r io.Reader) (string, error)
	Delete(ctx context.Context, url string) error
}

// LocalStore 本地磁盘实现，文件落在 uploadDir，URL 以 baseURL 开头
type LocalStore struct {
	uploadDir string
	baseURL   string
}

func NewLocalStore(uploadDir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建上传目录失败: %w", err)
	}
	return &LocalStore{
		uploadDir: uploadDir,
		baseURL:   strings.TrimRight(baseURL, "/"),
	}, nil
}

func (s *LocalStore) Save(ctx context.Context, filename string, r io.Reader) (string, error) {
	// 文件名加随机前缀，避免覆盖同名上传
	name := fmt.Sprintf("%s_%s", idgen.RandomID("F", 24), filepath.Base(filename))
	path := filepath.Join(s.uploadDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("创建文件失败: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("写入文件失败: %w", err)
	}

	return s.baseURL + "/" + name, nil
}

func (s *LocalStore) Delete(ctx context.Context, url string) error {
	if !strings.HasPrefix(url, s.baseURL+"/") {
		return fmt.Errorf("非本存储的URL: %s", url)
	}
	name := strings.TrimPrefix(url, s.baseURL+"/")
	return os.Remove(filepath.Join(s.uploadDir, filepath.Base(name)))
}
