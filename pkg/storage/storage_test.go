package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"xscraper/pkg/post"
)

func sampleSet() *ResultSet {
	rs := NewResultSet("zig", "golang", "empty")
	rs.Put("golang", []post.Record{
		{Text: "go is fun", Author: "@gopher", Keyword: "golang"},
		{Text: "channels <3", Author: "@rob", Keyword: "golang"},
	})
	rs.Put("zig", []post.Record{{Text: "comptime", Author: "@andrew", Keyword: "zig"}})
	return rs
}

func TestResultSetPreservesKeywordOrder(t *testing.T) {
	data, err := json.Marshal(sampleSet())
	require.NoError(t, err)

	s := string(data)
	assert.Less(t, strings.Index(s, `"zig"`), strings.Index(s, `"golang"`))
	assert.Less(t, strings.Index(s, `"golang"`), strings.Index(s, `"empty"`))
	assert.Contains(t, s, `"empty":[]`, "keywords without results are still present")

	var generic map[string][]map[string]string
	require.NoError(t, json.Unmarshal(data, &generic))
	assert.Equal(t, "@gopher", generic["golang"][0]["author"])
	assert.Equal(t, "golang", generic["golang"][0]["keyword"])
}

func TestResultSetRoundTrip(t *testing.T) {
	data, err := json.Marshal(sampleSet())
	require.NoError(t, err)

	rs := NewResultSet()
	require.NoError(t, json.Unmarshal(data, rs))
	assert.Equal(t, []string{"zig", "golang", "empty"}, rs.Keywords())
	assert.Equal(t, 3, rs.Total())

	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), NewResultSet()))
}

func TestRecordsReturnsCopy(t *testing.T) {
	rs := sampleSet()
	recs := rs.Records("golang")
	recs[0].Text = "mutated"
	assert.Equal(t, "go is fun", rs.Records("golang")[0].Text)
}

func TestFileStoreSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "results.json")

	store, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), sampleSet()))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temporary files are left behind")

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, sampleSet().Records("golang"), loaded.Records("golang"))

	// overwriting replaces the whole file
	require.NoError(t, store.Save(context.Background(), NewResultSet("only")))
	loaded, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, loaded.Keywords())
}

func TestFileStoreRespectsCancellation(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "r.json"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.Save(ctx, sampleSet()), context.Canceled)
}

type failingStore struct{ err error }

func (f failingStore) Save(context.Context, *ResultSet) error { return f.err }

func TestMultiStoreSavesEverywhere(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.json")
	file, err := NewFileStore(path)
	require.NoError(t, err)

	boom := errors.New("mongo down")
	err = MultiStore{failingStore{boom}, file}.Save(context.Background(), sampleSet())
	assert.ErrorIs(t, err, boom)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr, "later stores still run after a failure")
}

func TestUpsertModels(t *testing.T) {
	now := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	models := upsertModels(sampleSet(), now)
	require.Len(t, models, 3)

	first, ok := models[0].(*mongo.UpdateOneModel)
	require.True(t, ok)
	assert.Equal(t, bson.D{
		{Key: "keyword", Value: "zig"},
		{Key: "text", Value: "comptime"},
		{Key: "author", Value: "@andrew"},
	}, first.Filter)
	require.NotNil(t, first.Upsert)
	assert.True(t, *first.Upsert)
}
