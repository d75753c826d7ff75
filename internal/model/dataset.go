package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DefaultDatasetPath is where collected samples are written and read.
const DefaultDatasetPath = "training-data.json"

// FileSource reads samples from a JSON array on disk.
type FileSource struct {
	Path string
}

// NewFileSource creates a file-backed sample source.
func NewFileSource(path string) *FileSource {
	if path == "" {
		path = DefaultDatasetPath
	}
	return &FileSource{Path: path}
}

// Samples reads and decodes the dataset.
func (f *FileSource) Samples(ctx context.Context) ([]Sample, error) {
	data, err := os.ReadFile(f.Path) // #nosec G304 -- operator-configured dataset path
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoDataset, f.Path)
		}
		return nil, fmt.Errorf("model: read dataset: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var samples []Sample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("model: decode dataset %s: %w", f.Path, err)
	}
	return samples, nil
}

// StaticSource serves a fixed set of samples.
type StaticSource []Sample

// Samples returns the fixed samples.
func (s StaticSource) Samples(context.Context) ([]Sample, error) {
	return s, nil
}

// WriteSamples writes samples as an indented JSON array, replacing path
// atomically.
func WriteSamples(path string, samples []Sample) error {
	data, err := json.MarshalIndent(samples, "", "  ")
	if err != nil {
		return fmt.Errorf("model: encode dataset: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".training-*.json")
	if err != nil {
		return fmt.Errorf("model: write dataset: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("model: write dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("model: write dataset: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
