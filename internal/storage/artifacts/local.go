package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/interfaces"
)

// LocalStore is a filesystem adapter over the artifact root. Keys use
// forward slashes and map directly onto directories under the root.
type LocalStore struct {
	root   string
	logger arbor.ILogger
}

var _ interfaces.ArtifactStore = (*LocalStore)(nil)

// NewLocalStore creates a store rooted at the given directory
func NewLocalStore(root string, logger arbor.ILogger) (*LocalStore, error) {
	if root == "" {
		return nil, fmt.Errorf("artifact root cannot be empty")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}
	return &LocalStore{root: root, logger: logger}, nil
}

func (s *LocalStore) resolve(key string) (string, error) {
	key = strings.TrimPrefix(filepath.ToSlash(key), "/")
	if key == "" {
		return "", fmt.Errorf("artifact key cannot be empty")
	}
	path := filepath.Join(s.root, filepath.FromSlash(key))
	// Reject keys that escape the root via ..
	if !strings.HasPrefix(path, filepath.Clean(s.root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("artifact key escapes root: %s", key)
	}
	return path, nil
}

// Put writes an artifact, creating parent directories as needed
func (s *LocalStore) Put(ctx context.Context, key string, data []byte) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write artifact %s: %w", key, err)
	}
	return nil
}

// Get reads an artifact back
func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, interfaces.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to read artifact %s: %w", key, err)
	}
	return data, nil
}

// AppendLine appends one newline-terminated line to an artifact,
// creating it if missing. Used for JSONL evidence logs and TSV sheets.
func (s *LocalStore) AppendLine(ctx context.Context, key string, line []byte) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open artifact %s: %w", key, err)
	}
	defer file.Close()

	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(line, '\n')
	}
	if _, err := file.Write(line); err != nil {
		return fmt.Errorf("failed to append to artifact %s: %w", key, err)
	}
	return nil
}
