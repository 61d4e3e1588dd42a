package versioning

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/quakewatch/pipeline/pkg/fingerprint"
)

// LocalSink is a content-addressed directory sink: the artifact is written
// atomically (temp file + rename) next to a .sha256 sidecar holding its
// fingerprint, the same shape a git-tracked metadata remote consumes.
type LocalSink struct {
	dir string
}

func NewLocalSink(dir string) *LocalSink {
	return &LocalSink{dir: dir}
}

func (s *LocalSink) Name() string {
	return "local"
}

func (s *LocalSink) Write(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create sink directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to publish artifact: %w", err)
	}

	fp := fingerprint.Sum(data)
	if err := os.WriteFile(path+".sha256", []byte(fp+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write fingerprint sidecar: %w", err)
	}

	return nil
}

func (s *LocalSink) FingerprintExists(ctx context.Context, key, fp string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	sidecar := filepath.Join(s.dir, filepath.FromSlash(key)) + ".sha256"
	data, err := os.ReadFile(sidecar)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read fingerprint sidecar: %w", err)
	}

	return strings.TrimSpace(string(data)) == fp, nil
}
