package persistence

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lsmkv/pkg/dberrors"
	"lsmkv/pkg/encoding"
	"lsmkv/pkg/types"
)

func buildTable(t *testing.T, layout Layout, id types.GenerationID, stride int, recs []encoding.Record) *SSTable {
	t.Helper()
	b, err := NewBuilder(layout, id, BuildOptions{Stride: stride, ExpectedKeys: len(recs), BloomFPRate: 0.01})
	require.NoError(t, err)
	for _, rec := range recs {
		require.NoError(t, b.Add(rec))
	}
	table, err := b.Finish()
	require.NoError(t, err)
	return table
}

func sampleRecords(n int) []encoding.Record {
	recs := make([]encoding.Record, 0, n)
	for i := 0; i < n; i++ {
		rec := encoding.Record{
			Key:       fmt.Sprintf("key%03d", i),
			Value:     []byte(fmt.Sprintf("value%d", i)),
			Timestamp: types.Timestamp(1000 + i),
		}
		if i%7 == 3 {
			rec.Value = nil
			rec.Tombstone = true
		}
		recs = append(recs, rec)
	}
	return recs
}

func scanAll(t *testing.T, table *SSTable) []encoding.Record {
	t.Helper()
	it, err := table.Iterator()
	require.NoError(t, err)
	defer it.Close()

	var out []encoding.Record
	for it.Valid() {
		require.NoError(t, it.Next())
		rec, err := it.Record()
		require.NoError(t, err)
		out = append(out, rec)
	}
	require.NoError(t, it.Err())
	return out
}

func TestSSTable_BuildAndScan(t *testing.T) {
	layout := NewLayout(t.TempDir(), "users")
	recs := sampleRecords(25)
	table := buildTable(t, layout, 0, 3, recs)

	assert.FileExists(t, layout.DataPath(0))
	assert.FileExists(t, layout.IndexPath(0))
	assert.Equal(t, 25, table.Records())

	var size int64
	for _, r := range recs {
		size += int64(r.EncodedLen())
	}
	assert.Equal(t, size, table.Size())

	assert.Equal(t, recs, scanAll(t, table))
}

func TestSSTable_SeekMatchesScan(t *testing.T) {
	for _, stride := range []int{0, 1, 2, 5, 10, 100} {
		t.Run(fmt.Sprintf("stride=%d", stride), func(t *testing.T) {
			layout := NewLayout(t.TempDir(), "s")
			recs := sampleRecords(31)
			table := buildTable(t, layout, 4, stride, recs)

			for _, want := range scanAll(t, table) {
				rec, err := table.Lookup(want.Key)
				require.NoError(t, err, want.Key)
				assert.Equal(t, want, rec)

				ts, err := table.Timestamp(want.Key)
				require.NoError(t, err)
				assert.Equal(t, want.Timestamp, ts)

				ok, err := table.Contains(want.Key)
				require.NoError(t, err)
				assert.True(t, ok)
			}

			for _, missing := range []string{"", "a", "key", "key0005", "zzz"} {
				_, err := table.Lookup(missing)
				assert.ErrorIs(t, err, dberrors.ErrNotFound, missing)
			}
		})
	}
}

func TestSSTable_GetTombstone(t *testing.T) {
	layout := NewLayout(t.TempDir(), "s")
	table := buildTable(t, layout, 1, 10, []encoding.Record{
		{Key: "a", Value: []byte("1"), Timestamp: 1},
		{Key: "b", Timestamp: 2, Tombstone: true},
	})

	v, err := table.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	_, err = table.Get("b")
	assert.ErrorIs(t, err, dberrors.ErrNotFound)
	ok, err := table.Contains("b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSSTable_Immutable(t *testing.T) {
	table := buildTable(t, NewLayout(t.TempDir(), "s"), 0, 1, sampleRecords(2))
	assert.ErrorIs(t, table.Set("a", []byte("b")), dberrors.ErrActionForbidden)
	assert.ErrorIs(t, table.Remove("a"), dberrors.ErrActionForbidden)
}

func TestSSTable_Empty(t *testing.T) {
	layout := NewLayout(t.TempDir(), "s")
	table := buildTable(t, layout, 0, 0, nil)

	it, err := table.Iterator()
	require.NoError(t, err)
	defer it.Close()

	assert.False(t, it.Valid())
	assert.ErrorIs(t, it.Next(), dberrors.ErrNoNext)
	assert.ErrorIs(t, it.Seek("a"), dberrors.ErrNotFound)
	_, err = it.Key()
	assert.ErrorIs(t, err, dberrors.ErrNoNext)
}

func TestIterator_SingleRecord(t *testing.T) {
	table := buildTable(t, NewLayout(t.TempDir(), "s"), 0, 10, []encoding.Record{
		{Key: "only", Value: []byte("v"), Timestamp: 5},
	})

	it, err := table.Iterator()
	require.NoError(t, err)
	defer it.Close()

	assert.Equal(t, int64(-1), it.Offset())
	require.True(t, it.Valid())
	require.NoError(t, it.Next())
	k, err := it.Key()
	require.NoError(t, err)
	assert.Equal(t, "only", k)
	n, err := it.Length()
	require.NoError(t, err)
	assert.Equal(t, 4+4+4+4+1+8, n)

	assert.False(t, it.Valid())
	assert.ErrorIs(t, it.Next(), dberrors.ErrNoNext)
	assert.Equal(t, int64(0), it.Offset())

	it.SeekToFirst()
	assert.True(t, it.Valid())
}

func TestIterator_SeekThenNext(t *testing.T) {
	recs := sampleRecords(10)
	table := buildTable(t, NewLayout(t.TempDir(), "s"), 0, 4, recs)

	it, err := table.Iterator()
	require.NoError(t, err)
	defer it.Close()

	require.NoError(t, it.Seek("key005"))
	require.NoError(t, it.Next())
	k, err := it.Key()
	require.NoError(t, err)
	assert.Equal(t, "key006", k)

	require.NoError(t, it.Seek("key003"))
	_, err = it.Value()
	assert.ErrorIs(t, err, dberrors.ErrNotFound)
	tomb, err := it.Tombstone()
	require.NoError(t, err)
	assert.True(t, tomb)
}

func TestSSTable_OpenRebuildsIndexes(t *testing.T) {
	layout := NewLayout(t.TempDir(), "s")
	recs := sampleRecords(40)
	built := buildTable(t, layout, 2, 6, recs)

	reopened, err := Open(layout, built.Info(), 0.01)
	require.NoError(t, err)
	assert.Equal(t, built.sparse, reopened.sparse)
	assert.Equal(t, built.Info(), reopened.Info())

	for _, r := range recs {
		got, err := reopened.Lookup(r.Key)
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}

	info := built.Info()
	info.Size++
	_, err = Open(layout, info, 0.01)
	assert.ErrorIs(t, err, dberrors.ErrIOFailure)
}

func TestSSTable_LastIndexOffset(t *testing.T) {
	recs := []encoding.Record{
		{Key: "a", Value: []byte("1"), Timestamp: 1},
		{Key: "bb", Value: []byte("2"), Timestamp: 1},
		{Key: "ccc", Value: []byte("3"), Timestamp: 1},
	}
	table := buildTable(t, NewLayout(t.TempDir(), "s"), 0, 10, recs)

	assert.Equal(t, int64((4+1+4)+(4+2+4)), table.Info().LastIndexOffset)
	require.Len(t, table.sparse, 1)
	assert.Equal(t, sparseEntry{key: "a", offset: 0}, table.sparse[0])

	v, err := table.Get("ccc")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), v)
}

func TestSSTable_Clean(t *testing.T) {
	layout := NewLayout(t.TempDir(), "s")
	table := buildTable(t, layout, 3, 1, sampleRecords(3))

	require.NoError(t, table.Clean())
	assert.NoFileExists(t, layout.DataPath(3))
	assert.NoFileExists(t, layout.IndexPath(3))
	require.NoError(t, table.Clean())
}

func TestBuilder_RejectsUnsortedKeys(t *testing.T) {
	layout := NewLayout(t.TempDir(), "s")
	b, err := NewBuilder(layout, 0, BuildOptions{Stride: 1, ExpectedKeys: 2, BloomFPRate: 0.01})
	require.NoError(t, err)

	require.NoError(t, b.Add(encoding.Record{Key: "b", Value: []byte("1")}))
	assert.ErrorIs(t, b.Add(encoding.Record{Key: "a", Value: []byte("1")}), dberrors.ErrInvalidInput)
	assert.ErrorIs(t, b.Add(encoding.Record{Key: "b", Value: []byte("1")}), dberrors.ErrInvalidInput)

	require.NoError(t, b.Discard())
	_, err = os.Stat(layout.DataPath(0) + tmpExt)
	assert.True(t, os.IsNotExist(err))
	assert.NoFileExists(t, layout.DataPath(0))
}

func TestStride(t *testing.T) {
	assert.Equal(t, 0, Stride(0, 0.1))
	assert.Equal(t, 10, Stride(100, 0.1))
	assert.Equal(t, 1, Stride(100, 1))
	assert.Equal(t, 3, Stride(100, 0.3))
	assert.Equal(t, 4, Stride(100, 0.25))
}
