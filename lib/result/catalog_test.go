package result

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	cat, err := OpenCatalog(":memory:")
	require.NoError(t, err)
	defer cat.Close()

	store := NewStore(t.TempDir(), WithCatalog(cat))
	first := sampleResult(t)
	second := New("rabi", "other")
	second.Datetime = first.Datetime.Add(24 * time.Hour)
	for _, r := range []*Result{first, second} {
		_, err := store.Save(ctx, r)
		require.NoError(t, err)
	}

	all, err := cat.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, first.ID, all[1].ID)
	assert.True(t, first.Datetime.Equal(all[1].Datetime))
	assert.Equal(t, store.Dir(first), all[1].Dir)

	only, err := cat.List(ctx, "test")
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, "test_delete", only[0].Name)

	// saving again replaces the entry
	_, err = store.Save(ctx, first)
	require.NoError(t, err)
	all, err = cat.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, store.Delete(ctx, "test", "test_delete", true))
	all, err = cat.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "rabi", all[0].Name)

	require.NoError(t, cat.Remove(ctx, first.ID))
}

func TestCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	cat, err := OpenCatalog(path)
	require.NoError(t, err)
	r := sampleResult(t)
	require.NoError(t, cat.Record(context.Background(), r, "somewhere"))
	require.NoError(t, cat.Close())

	cat, err = OpenCatalog(path)
	require.NoError(t, err)
	defer cat.Close()
	entries, err := cat.List(context.Background(), "test")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "somewhere", entries[0].Dir)
}

func TestCatalogSameDayResave(t *testing.T) {
	ctx := context.Background()
	cat, err := OpenCatalog(":memory:")
	require.NoError(t, err)
	defer cat.Close()
	store := NewStore(t.TempDir(), WithCatalog(cat))

	first := sampleResult(t)
	_, err = store.Save(ctx, first)
	require.NoError(t, err)
	second := sampleResult(t)
	second.Datetime = first.Datetime.Add(time.Hour)
	_, err = store.Save(ctx, second)
	require.NoError(t, err)

	entries, err := cat.List(ctx, "test")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, second.ID, entries[0].ID)

	require.NoError(t, store.Delete(ctx, "test", "test_delete", true))
	entries, err = cat.List(ctx, "test")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCatalogOrder(t *testing.T) {
	ctx := context.Background()
	cat, err := OpenCatalog(":memory:")
	require.NoError(t, err)
	defer cat.Close()

	whole := New("whole", "test")
	whole.Datetime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	half := New("half", "test")
	half.Datetime = whole.Datetime.Add(500 * time.Millisecond)
	later := New("later", "test")
	later.Datetime = whole.Datetime.Add(time.Second)
	for _, r := range []*Result{half, whole, later} {
		require.NoError(t, cat.Record(ctx, r, r.Name))
	}

	entries, err := cat.List(ctx, "test")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"later", "half", "whole"},
		[]string{entries[0].Name, entries[1].Name, entries[2].Name})
	assert.True(t, half.Datetime.Equal(entries[1].Datetime))
}
