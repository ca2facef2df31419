package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/gettixvp/newtg/internal/domain"
)

// Disk хранит загруженные изображения в локальном каталоге.
type Disk struct {
	dir    string
	prefix string
}

var _ domain.ImageStore = (*Disk)(nil)

// NewDisk создаёт каталог dir, если его нет. prefix задаёт путь, под которым каталог отдаётся по HTTP.
func NewDisk(dir, prefix string) (*Disk, error) {
	if dir == "" {
		return nil, errors.New("upload dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Disk{dir: dir, prefix: strings.TrimRight(prefix, "/")}, nil
}

// Dir возвращает каталог хранения.
func (d *Disk) Dir() string { return d.dir }

// Save записывает файл под уникальным именем uuid_name и возвращает ссылку на него.
func (d *Disk) Save(ctx context.Context, name string, body io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	stored := uuid.NewString() + "_" + SafeName(name)
	path := filepath.Join(d.dir, stored)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", &domain.StorageError{Op: "save image", Err: err}
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", &domain.StorageError{Op: "save image", Err: err}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", &domain.StorageError{Op: "save image", Err: err}
	}
	return d.prefix + "/" + stored, nil
}

// Remove удаляет ранее сохранённый файл. Отсутствие файла не ошибка.
func (d *Disk) Remove(_ context.Context, ref string) error {
	name := filepath.Base(filepath.FromSlash(ref))
	if name == "." || name == string(filepath.Separator) {
		return nil
	}
	err := os.Remove(filepath.Join(d.dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &domain.StorageError{Op: "remove image", Err: err}
	}
	return nil
}

// SafeName оставляет от имени файла только базовое имя без разделителей пути.
func SafeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(filepath.FromSlash(name))
	base = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == 0:
			return -1
		case r == ' ':
			return '_'
		}
		return r
	}, base)
	if base == "" || base == "." || base == ".." {
		return "file"
	}
	return base
}
