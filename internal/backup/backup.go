// Package backup archives finished sessions to a tar.gz and restores them.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joss/clash/internal/domain"
	"github.com/joss/clash/internal/logging"
	"github.com/joss/clash/internal/store"
)

// Archive format version.
const Version = "1"

const (
	metadataFile = "metadata.json"
	historyFile  = "history.json"
)

// ErrChecksum is returned when an archive member does not match its recorded digest.
var ErrChecksum = errors.New("backup: checksum mismatch")

// Metadata describes an archive.
type Metadata struct {
	Version     string            `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	Description string            `json:"description,omitempty"`
	Count       int               `json:"count"`
	Checksums   map[string]string `json:"checksums"`
}

// Manager moves history between a store and archives.
type Manager struct {
	history store.HistoryStore
	log     *logging.Logger
}

// NewManager creates a backup manager over h.
func NewManager(h store.HistoryStore) *Manager {
	return &Manager{history: h, log: logging.New("backup")}
}

// Export writes every history entry to outputPath.
func (m *Manager) Export(ctx context.Context, outputPath, description string) (*Metadata, error) {
	entries, err := m.history.ListHistory(ctx, store.Filter{})
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("creating backup file: %w", err)
	}
	defer file.Close()

	gzw := gzip.NewWriter(file)
	tw := tar.NewWriter(gzw)

	meta := &Metadata{
		Version:     Version,
		CreatedAt:   time.Now().UTC(),
		Description: description,
		Count:       len(entries),
		Checksums:   map[string]string{historyFile: digest(data)},
	}
	metaJSON, _ := json.MarshalIndent(meta, "", "  ")

	if err := addToTar(tw, metadataFile, metaJSON); err != nil {
		return nil, fmt.Errorf("adding metadata: %w", err)
	}
	if err := addToTar(tw, historyFile, data); err != nil {
		return nil, fmt.Errorf("adding history: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gzw.Close(); err != nil {
		return nil, err
	}

	m.log.Info("backup_exported", map[string]interface{}{"path": outputPath, "count": meta.Count})
	return meta, nil
}

// Import restores history from inputPath. Without merge, existing entries
// not in the archive are deleted; entries with the same ID are replaced either way.
func (m *Manager) Import(ctx context.Context, inputPath string, merge bool) (*Metadata, error) {
	meta, files, err := read(inputPath)
	if err != nil {
		return nil, err
	}

	data, ok := files[historyFile]
	if !ok {
		return nil, fmt.Errorf("backup missing %s", historyFile)
	}
	if want := meta.Checksums[historyFile]; want != "" && want != digest(data) {
		return nil, fmt.Errorf("%s: %w", historyFile, ErrChecksum)
	}

	var entries []domain.HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing history: %w", err)
	}

	if !merge {
		keep := make(map[string]bool, len(entries))
		for _, e := range entries {
			keep[e.ID] = true
		}
		existing, err := m.history.ListHistory(ctx, store.Filter{})
		if err != nil {
			return nil, fmt.Errorf("list history: %w", err)
		}
		for _, e := range existing {
			if keep[e.ID] {
				continue
			}
			if err := m.history.DeleteHistory(ctx, e.ID); err != nil && !store.IsNotFound(err) {
				return nil, fmt.Errorf("clearing %s: %w", e.ID, err)
			}
		}
	}

	for _, e := range entries {
		if err := m.history.SaveHistory(ctx, e); err != nil {
			return nil, fmt.Errorf("importing %s: %w", e.ID, err)
		}
	}

	m.log.Info("backup_imported", map[string]interface{}{"path": inputPath, "count": len(entries), "merge": merge})
	return meta, nil
}

// List returns an archive's metadata without importing it.
func List(inputPath string) (*Metadata, error) {
	meta, _, err := read(inputPath)
	return meta, err
}

func read(inputPath string) (*Metadata, map[string][]byte, error) {
	file, err := os.Open(inputPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening backup: %w", err)
	}
	defer file.Close()

	gzr, err := gzip.NewReader(file)
	if err != nil {
		return nil, nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	var meta *Metadata
	files := make(map[string][]byte)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading tar: %w", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, nil, fmt.Errorf("reading %s: %w", header.Name, err)
		}
		if header.Name == metadataFile {
			meta = &Metadata{}
			if err := json.Unmarshal(data, meta); err != nil {
				return nil, nil, fmt.Errorf("parsing metadata: %w", err)
			}
			continue
		}
		files[header.Name] = data
	}

	if meta == nil {
		return nil, nil, errors.New("backup missing metadata")
	}
	if meta.Version != Version {
		return nil, nil, fmt.Errorf("unsupported backup version %q", meta.Version)
	}
	return meta, files, nil
}

func addToTar(tw *tar.Writer, name string, data []byte) error {
	header := &tar.Header{
		Name:    name,
		Mode:    0644,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
