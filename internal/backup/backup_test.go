package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/clash/internal/domain"
	"github.com/joss/clash/internal/store"
)

func openStore(t *testing.T) *store.SQLite {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "clash.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func entry(id string, at time.Time) domain.HistoryEntry {
	return domain.HistoryEntry{
		ID:        id,
		SessionID: "s-" + id,
		Topic:     "topic " + id,
		Mode:      domain.ModeDebate,
		Left:      "chatgpt",
		Right:     "claude",
		Status:    domain.StatusCompleted,
		EndReason: domain.EndNatural,
		Rounds:    1,
		Transcript: []domain.Turn{
			{Round: 1, Side: domain.Left, SpeakerID: "chatgpt", Text: "yes"},
			{Round: 1, Side: domain.Right, SpeakerID: "claude", Text: "no"},
		},
		CreatedAt: at,
	}
}

func ids(t *testing.T, s store.HistoryStore) []string {
	t.Helper()
	entries, err := s.ListHistory(context.Background(), store.Filter{})
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	src := openStore(t)
	require.NoError(t, src.SaveHistory(ctx, entry("h1", base)))
	require.NoError(t, src.SaveHistory(ctx, entry("h2", base.Add(time.Minute))))

	path := filepath.Join(t.TempDir(), "history.tar.gz")
	meta, err := NewManager(src).Export(ctx, path, "nightly")
	require.NoError(t, err)
	assert.Equal(t, 2, meta.Count)
	assert.NotEmpty(t, meta.Checksums[historyFile])

	listed, err := List(path)
	require.NoError(t, err)
	assert.Equal(t, "nightly", listed.Description)
	assert.Equal(t, 2, listed.Count)

	dst := openStore(t)
	_, err = NewManager(dst).Import(ctx, path, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"h2", "h1"}, ids(t, dst))

	got, err := dst.GetHistory(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "topic h1", got.Topic)
	assert.Equal(t, domain.EndNatural, got.EndReason)
	assert.Len(t, got.Transcript, 2)
	assert.Equal(t, base, got.CreatedAt)
}

func TestImportReplaceDropsOthers(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	src := openStore(t)
	require.NoError(t, src.SaveHistory(ctx, entry("h1", base)))
	path := filepath.Join(t.TempDir(), "b.tar.gz")
	_, err := NewManager(src).Export(ctx, path, "")
	require.NoError(t, err)

	dst := openStore(t)
	require.NoError(t, dst.SaveHistory(ctx, entry("local", base.Add(time.Hour))))

	_, err = NewManager(dst).Import(ctx, path, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"h1", "local"}, ids(t, dst))

	_, err = NewManager(dst).Import(ctx, path, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"h1"}, ids(t, dst))
}

func TestExportEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.tar.gz")
	meta, err := NewManager(openStore(t)).Export(context.Background(), path, "")
	require.NoError(t, err)
	assert.Zero(t, meta.Count)

	dst := openStore(t)
	_, err = NewManager(dst).Import(context.Background(), path, false)
	require.NoError(t, err)
	assert.Empty(t, ids(t, dst))
}

func writeArchive(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "custom.tar.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gzw := gzip.NewWriter(f)
	tw := tar.NewWriter(gzw)
	for name, body := range files {
		require.NoError(t, addToTar(tw, name, []byte(body)))
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gzw.Close())
	return path
}

func TestImportRejectsBadArchives(t *testing.T) {
	m := NewManager(openStore(t))
	ctx := context.Background()

	_, err := m.Import(ctx, writeArchive(t, map[string]string{historyFile: "[]"}), true)
	assert.ErrorContains(t, err, "missing metadata")

	_, err = m.Import(ctx, writeArchive(t, map[string]string{
		metadataFile: `{"version":"9"}`,
		historyFile:  "[]",
	}), true)
	assert.ErrorContains(t, err, "unsupported backup version")

	_, err = m.Import(ctx, writeArchive(t, map[string]string{
		metadataFile: `{"version":"1","checksums":{"history.json":"deadbeef"}}`,
		historyFile:  "[]",
	}), true)
	assert.ErrorIs(t, err, ErrChecksum)

	_, err = m.Import(ctx, writeArchive(t, map[string]string{metadataFile: `{"version":"1"}`}), true)
	assert.ErrorContains(t, err, "missing history.json")

	_, err = m.Import(ctx, filepath.Join(t.TempDir(), "nope.tar.gz"), true)
	assert.Error(t, err)
}
