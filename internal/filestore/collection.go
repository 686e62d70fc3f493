// Package filestore guarda colecciones JSON completas en un unico archivo.
//
// Cada escritura es un ciclo leer-modificar-escribir serializado por un mutex en
// proceso y por un flock sobre un archivo ".lock" hermano entre procesos. El archivo
// se reemplaza con write-temp + fsync + rename, asi un lector nunca ve una escritura
// parcial.
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Collection es un arreglo JSON de T persistido en path.
type Collection[T any] struct {
	path string
	mu   sync.Mutex
}

// NewCollection prepara el directorio contenedor; el archivo se crea en la primera escritura.
func NewCollection[T any](path string) (*Collection[T], error) {
	if path == "" {
		return nil, errors.New("filestore: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create dir: %w", err)
	}
	return &Collection[T]{path: path}, nil
}

// Path devuelve la ruta del archivo de datos.
func (c *Collection[T]) Path() string {
	return c.path
}

// Load lee el arreglo completo. Un archivo inexistente o vacio es una coleccion vacia.
func (c *Collection[T]) Load(ctx context.Context) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.read()
}

// Update ejecuta fn sobre el contenido actual y persiste el resultado de forma atomica.
// Si fn devuelve error no se escribe nada.
func (c *Collection[T]) Update(ctx context.Context, fn func(items []T) ([]T, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	unlock, err := lockFile(c.path + ".lock")
	if err != nil {
		return fmt.Errorf("filestore: lock: %w", err)
	}
	defer func() { _ = unlock() }()

	items, err := c.read()
	if err != nil {
		return err
	}
	next, err := fn(items)
	if err != nil {
		return err
	}
	if next == nil {
		next = []T{}
	}
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encode: %w", err)
	}
	return writeAtomic(c.path, data)
}

func (c *Collection[T]) read() ([]T, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []T{}, nil
		}
		return nil, fmt.Errorf("filestore: read: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []T{}, nil
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("filestore: decode %s: %w", c.path, err)
	}
	return items, nil
}

func writeAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("filestore: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("filestore: write temp: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("filestore: sync temp: %w", err)
	}
	if err = tmp.Chmod(0o600); err != nil {
		return fmt.Errorf("filestore: chmod temp: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("filestore: close temp: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("filestore: rename: %w", err)
	}
	return nil
}
