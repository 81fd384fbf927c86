package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const keepBackups = 10

// Writer saves a Config to disk, backing up the previous file first.
type Writer struct {
	path string
	mu   sync.Mutex
}

func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

func (w *Writer) Path() string { return w.path }

// Write encodes cfg by the file extension and replaces the file atomically.
func (w *Writer) Write(cfg *Config) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.backup(); err != nil {
		return fmt.Errorf("备份失败: %w", err)
	}
	data, err := encode(w.path, cfg)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	tmpPath := w.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("替换配置文件失败: %w", err)
	}
	return nil
}

func (w *Writer) backupPrefix() string {
	base := filepath.Base(w.path)
	return strings.TrimSuffix(base, filepath.Ext(base)) + "_"
}

func (w *Writer) backup() error {
	src, err := os.Open(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer src.Close()

	backupDir := filepath.Join(filepath.Dir(w.path), "backups")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return err
	}
	stamp := time.Now().Format("20060102_150405.000")
	backupPath := filepath.Join(backupDir, w.backupPrefix()+stamp+filepath.Ext(w.path))

	dst, err := os.Create(backupPath)
	if err != nil {
		return err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return err
	}
	w.cleanOldBackups(backupDir, keepBackups)
	return nil
}

func (w *Writer) cleanOldBackups(dir string, keep int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	prefix := w.backupPrefix()
	var backups []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) {
			backups = append(backups, filepath.Join(dir, e.Name()))
		}
	}
	if len(backups) <= keep {
		return
	}
	sort.Strings(backups)
	for i := 0; i < len(backups)-keep; i++ {
		_ = os.Remove(backups[i])
	}
}
