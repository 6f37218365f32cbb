package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guild-backup/internal/guild"
	"guild-backup/internal/logging"
)

type testStore struct {
	*Store
	base string
}

func newTestStore(t *testing.T) *testStore {
	t.Helper()
	base := t.TempDir()
	provider, err := NewLocalStorageProvider(&LocalConfig{BasePath: base})
	require.NoError(t, err)
	return &testStore{
		Store: NewStore(provider, NewCodec(CodecConfig{}, nil), logging.NewNopLogger()),
		base:  base,
	}
}

// put writes a document and pins the archive's mtime to createdAt
func (ts *testStore) put(t *testing.T, targetID, backupID string, createdAt time.Time, source guild.Source) {
	t.Helper()
	doc := sampleDocument(backupID)
	doc.CreatedAt = createdAt
	doc.Source = source
	doc.Space.ID = targetID

	data, err := ts.Encode(doc)
	require.NoError(t, err)
	_, err = ts.Write(context.Background(), targetID, backupID, data, BackupMeta{
		SpaceName: doc.Space.Name,
		CreatedAt: createdAt,
		Source:    string(source),
	})
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(filepath.Join(ts.base, targetID, backupID+archiveExt), createdAt, createdAt))
}

func TestStore_WriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	ts := newTestStore(t)
	doc := sampleDocument("ABCDEFGHJKLM")

	data, err := ts.Encode(doc)
	require.NoError(t, err)

	location, err := ts.Write(ctx, "space-1", "ABCDEFGHJKLM", data, BackupMeta{SpaceName: "Guild One", CreatedAt: doc.CreatedAt, Source: "manual"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ts.base, "space-1", "ABCDEFGHJKLM.bkp"), location)
	assert.FileExists(t, filepath.Join(ts.base, "space-1", "ABCDEFGHJKLM.meta.json"))

	var got guild.BackupDocument
	size, err := ts.Read(ctx, "space-1", "abcdefghjklm", &got)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)
	normalizeTimes(&got)
	assert.Equal(t, *doc, got)
}

func TestStore_ReadMissing(t *testing.T) {
	ts := newTestStore(t)

	var got guild.BackupDocument
	_, err := ts.Read(context.Background(), "space-1", "ABCDEFGHJKLM", &got)

	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	_, _, err = ts.ReadGlobal(context.Background(), "ABCDEFGHJKLM", &got)
	assert.True(t, IsNotFound(err))
}

func TestStore_ExistsAndDelete(t *testing.T) {
	ctx := context.Background()
	ts := newTestStore(t)
	ts.put(t, "space-1", "ABCDEFGHJKLM", time.Now(), guild.SourceManual)

	ok, err := ts.Exists(ctx, "space-1", "ABCDEFGHJKLM")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, ts.Delete(ctx, "space-1", "ABCDEFGHJKLM"))
	assert.NoFileExists(t, filepath.Join(ts.base, "space-1", "ABCDEFGHJKLM.meta.json"))

	ok, err = ts.Exists(ctx, "space-1", "ABCDEFGHJKLM")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, IsNotFound(ts.Delete(ctx, "space-1", "ABCDEFGHJKLM")))
}

func TestStore_RejectsIDsOutsideAlphabet(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	base := filepath.Join(root, "store")
	provider, err := NewLocalStorageProvider(&LocalConfig{BasePath: base})
	require.NoError(t, err)
	store := NewStore(provider, nil, logging.NewNopLogger())

	victim := filepath.Join(root, "VICTIM.bkp")
	require.NoError(t, os.WriteFile(victim, []byte("keep"), 0o600))

	tests := []struct {
		name string
		call func(id string) error
	}{
		{"delete", func(id string) error { return store.Delete(ctx, "space-1", id) }},
		{"exists", func(id string) error { _, err := store.Exists(ctx, "space-1", id); return err }},
		{"read", func(id string) error { _, _, err := store.ReadRaw(ctx, "space-1", id); return err }},
		{"write", func(id string) error {
			_, err := store.Write(ctx, "space-1", id, []byte("{}"), BackupMeta{})
			return err
		}},
	}

	for _, tt := range tests {
		for _, id := range []string{"../../victim", "../VICTIM", "ABC", "ABCDEFGHJKL0"} {
			t.Run(tt.name+" "+id, func(t *testing.T) {
				err := tt.call(id)
				typ, ok := ErrorType(err)
				if !ok || typ != BackupErrorTypeValidation {
					t.Errorf("%s(%q) error = %v, want a validation error", tt.name, id, err)
				}
			})
		}
	}

	data, err := os.ReadFile(victim)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
}

func TestStore_ListMetaOrderingAndFilter(t *testing.T) {
	ctx := context.Background()
	ts := newTestStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	ts.put(t, "space-1", "AAAAAAAAAAAA", base, guild.SourceManual)
	ts.put(t, "space-1", "BBBBBBBBBBBB", base.Add(2*time.Hour), guild.SourceAutomatic)
	ts.put(t, "space-1", "CCCCCCCCCCCC", base.Add(time.Hour), guild.SourceManual)

	metas, err := ts.ListMeta(ctx, "space-1", ListOptions{})
	require.NoError(t, err)
	require.Len(t, metas, 3)
	assert.Equal(t, "BBBBBBBBBBBB", metas[0].BackupID)
	assert.Equal(t, "CCCCCCCCCCCC", metas[1].BackupID)
	assert.Equal(t, "AAAAAAAAAAAA", metas[2].BackupID)
	assert.Equal(t, "space-1", metas[0].TargetID)
	assert.Equal(t, "automatic", metas[0].Source)
	assert.Contains(t, metas[0].Label, "Guild One - ")
	assert.Greater(t, metas[0].SizeBytes, int64(0))

	metas, err = ts.ListMeta(ctx, "space-1", ListOptions{Search: "cccc"})
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "CCCCCCCCCCCC", metas[0].BackupID)

	metas, err = ts.ListMeta(ctx, "space-1", ListOptions{Search: "guild one"})
	require.NoError(t, err)
	assert.Len(t, metas, 3)

	metas, err = ts.ListMeta(ctx, "space-1", ListOptions{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "CCCCCCCCCCCC", metas[0].BackupID)

	metas, err = ts.ListMeta(ctx, "space-1", ListOptions{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestStore_ListMetaWithoutSidecar(t *testing.T) {
	ctx := context.Background()
	ts := newTestStore(t)
	ts.put(t, "space-1", "ABCDEFGHJKLM", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), guild.SourceAutomatic)
	require.NoError(t, os.Remove(filepath.Join(ts.base, "space-1", "ABCDEFGHJKLM.meta.json")))

	metas, err := ts.ListMeta(ctx, "space-1", ListOptions{})
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "Guild One", metas[0].SpaceName)
	assert.Equal(t, "automatic", metas[0].Source)
	assert.Equal(t, LabelFor("Guild One", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "ABCDEFGHJKLM"), metas[0].Label)
}

func TestStore_ListMetaPaginated(t *testing.T) {
	ctx := context.Background()
	ts := newTestStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	const total = 23
	for i := 0; i < total; i++ {
		id := fmt.Sprintf("ABCDEFGHJ%cAA", IDAlphabet[i])
		ts.put(t, "space-1", id, base.Add(time.Duration(i)*time.Minute), guild.SourceAutomatic)
	}

	first, err := ts.ListMetaPaginated(ctx, "space-1", PageOptions{Page: 1})
	require.NoError(t, err)
	assert.Equal(t, total, first.Total)
	assert.Equal(t, 3, first.TotalPages)
	assert.Equal(t, DefaultPageSize, first.PageSize)

	seen := make(map[string]bool)
	sum := 0
	for page := 1; page <= first.TotalPages; page++ {
		p, err := ts.ListMetaPaginated(ctx, "space-1", PageOptions{Page: page, PageSize: 10})
		require.NoError(t, err)
		sum += len(p.Items)
		for _, m := range p.Items {
			assert.False(t, seen[m.BackupID], "backup %s listed twice", m.BackupID)
			seen[m.BackupID] = true
		}
	}
	assert.Equal(t, total, sum)

	clamped, err := ts.ListMetaPaginated(ctx, "space-1", PageOptions{Page: 99})
	require.NoError(t, err)
	assert.Equal(t, 3, clamped.Page)
	assert.Len(t, clamped.Items, 3)

	clamped, err = ts.ListMetaPaginated(ctx, "space-1", PageOptions{Page: -4})
	require.NoError(t, err)
	assert.Equal(t, 1, clamped.Page)
}

func TestPaginate_Empty(t *testing.T) {
	page := paginate(nil, PageOptions{Page: 5})

	assert.Equal(t, 0, page.Total)
	assert.Equal(t, 1, page.TotalPages)
	assert.Equal(t, 1, page.Page)
	assert.Empty(t, page.Items)
}

func TestStore_GlobalLookups(t *testing.T) {
	ctx := context.Background()
	ts := newTestStore(t)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	ts.put(t, "space-1", "AAAAAAAAAAAA", now, guild.SourceManual)
	ts.put(t, "space-2", "BBBBBBBBBBBB", now.Add(time.Hour), guild.SourceManual)

	targets, err := ts.Targets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"space-1", "space-2"}, targets)

	target, err := ts.Locate(ctx, "bbbbbbbbbbbb")
	require.NoError(t, err)
	assert.Equal(t, "space-2", target)

	var doc guild.BackupDocument
	target, size, err := ts.ReadGlobal(ctx, "AAAAAAAAAAAA", &doc)
	require.NoError(t, err)
	assert.Equal(t, "space-1", target)
	assert.Greater(t, size, int64(0))
	assert.Equal(t, "AAAAAAAAAAAA", doc.BackupID)

	all, err := ts.ListAllMeta(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "BBBBBBBBBBBB", all[0].BackupID)
}
