package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const fileVersion = 1

// fileDoc es el formato en disco.
type fileDoc struct {
	Version int               `json:"version"`
	Sealed  bool              `json:"sealed,omitempty"`
	Values  map[string]string `json:"values"`
}

// FileBackend persiste todas las keys en un único JSON.
// Cada escritura relee el archivo para no pisar cambios de otro proceso.
type FileBackend struct {
	path   string
	sealer *Sealer

	mu sync.Mutex
}

// OpenFile abre (o crea al primer Set) el archivo de credenciales.
// sealer puede ser nil.
func OpenFile(path string, sealer *Sealer) (*FileBackend, error) {
	if path == "" {
		return nil, errors.New("kv: file backend requiere path")
	}
	f := &FileBackend{path: filepath.Clean(path), sealer: sealer}
	// Validar formato existente temprano
	if _, err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path retorna la ruta del archivo.
func (f *FileBackend) Path() string { return f.path }

func (f *FileBackend) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return "", err
	}
	v, ok := doc.Values[key]
	if !ok {
		return "", ErrNotFound
	}
	if doc.Sealed {
		if f.sealer == nil {
			return "", fmt.Errorf("kv: %s está sellado y no hay clave: %w", f.path, ErrSealed)
		}
		return f.sealer.Open(key, v)
	}
	return v, nil
}

func (f *FileBackend) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}
	if doc.Sealed != (f.sealer != nil) && len(doc.Values) > 0 {
		return fmt.Errorf("kv: %s fue escrito con otro modo de sellado", f.path)
	}
	doc.Sealed = f.sealer != nil
	if f.sealer != nil {
		if value, err = f.sealer.Seal(key, value); err != nil {
			return err
		}
	}
	doc.Values[key] = value
	return f.save(doc)
}

func (f *FileBackend) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Values[key]; !ok {
		return nil
	}
	delete(doc.Values, key)
	return f.save(doc)
}

func (f *FileBackend) Name() string { return "file" }

func (f *FileBackend) Close() error { return nil }

func (f *FileBackend) load() (*fileDoc, error) {
	doc := &fileDoc{Version: fileVersion, Values: map[string]string{}}
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv: read %s: %w", f.path, err)
	}
	if len(b) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(b, doc); err != nil {
		return nil, fmt.Errorf("kv: parse %s: %w", f.path, err)
	}
	if doc.Values == nil {
		doc.Values = map[string]string{}
	}
	return doc, nil
}

func (f *FileBackend) save(doc *fileDoc) error {
	doc.Version = fileVersion
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(f.path, b, 0o600)
}

// writeAtomic: tmp → fsync → close → chmod → rename.
// Si rename falla (Windows con destino bloqueado) intenta remove+rename.
func writeAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	_ = os.Chmod(tmpPath, perm)

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(path)
		if err2 := os.Rename(tmpPath, path); err2 != nil {
			return fmt.Errorf("rename: %v (after remove: %v)", err, err2)
		}
	}
	return nil
}

// Watch vigila el directorio del archivo y llama onChange cuando otro
// proceso lo reescribe. Bloquea hasta que ctx se cancela.
// Se vigila el directorio porque el rename atómico reemplaza el inode.
func (f *FileBackend) Watch(ctx context.Context, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		return err
	}

	const debounce = 50 * time.Millisecond
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != f.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(debounce, onChange)
			} else {
				timer.Reset(debounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
