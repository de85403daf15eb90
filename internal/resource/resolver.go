package resource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrNotFound - ресурс с таким идентификатором не существует
var ErrNotFound = errors.New("resource: not found")

// Resolver отображает логический идентификатор ресурса в поток байт.
// Ядро не знает путей к файлам, только идентификаторы вида "terrain/island.vxdb".
type Resolver interface {
	Open(ctx context.Context, id string) (io.ReadCloser, error)
}

// ResolverFunc позволяет использовать функцию как Resolver
type ResolverFunc func(ctx context.Context, id string) (io.ReadCloser, error)

func (f ResolverFunc) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	return f(ctx, id)
}

// CleanID нормализует идентификатор и запрещает выход за пределы корня
func CleanID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: пустой идентификатор", ErrNotFound)
	}
	clean := path.Clean("/" + strings.ReplaceAll(id, "\\", "/"))
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" || clean == "." {
		return "", fmt.Errorf("%w: идентификатор %q", ErrNotFound, id)
	}
	return clean, nil
}

// DirResolver ищет ресурсы в каталоге на диске
type DirResolver struct {
	Root string
}

// NewDirResolver создаёт резолвер по корневому каталогу
func NewDirResolver(root string) *DirResolver {
	return &DirResolver{Root: root}
}

// Open открывает файл <Root>/<id>
func (d *DirResolver) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean, err := CleanID(id)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(d.Root, filepath.FromSlash(clean)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, clean)
		}
		return nil, fmt.Errorf("ошибка открытия ресурса %s: %w", clean, err)
	}
	return f, nil
}

// ReadAll читает ресурс целиком
func ReadAll(ctx context.Context, r Resolver, id string) ([]byte, error) {
	rc, err := r.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
