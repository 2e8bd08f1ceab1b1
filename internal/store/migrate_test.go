package store

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExec struct {
	applied []int
	execs   []string
	failOn  string
}

func (f *fakeExec) Exec(_ context.Context, query string, args ...any) error {
	if f.failOn != "" && query == f.failOn {
		return errors.New("syntax error")
	}
	f.execs = append(f.execs, query)
	if len(args) == 2 {
		f.applied = append(f.applied, args[0].(int))
	}
	return nil
}

func (f *fakeExec) QueryInts(_ context.Context, _ string) ([]int, error) {
	return append([]int(nil), f.applied...), nil
}

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"migrations/0002_more.sql": {Data: []byte("CREATE TABLE b (id TEXT);")},
		"migrations/0001_init.sql": {Data: []byte("CREATE TABLE a (id TEXT);")},
		"migrations/README.md":     {Data: []byte("ignored")},
	}
}

func TestParseMigrations_SortedAndFiltered(t *testing.T) {
	m := NewMigrator(testFS(), "migrations", "sqlite")
	migs, err := m.ParseMigrations()
	require.NoError(t, err)
	require.Len(t, migs, 2)
	assert.Equal(t, 1, migs[0].Version)
	assert.Equal(t, "init", migs[0].Name)
	assert.Equal(t, 2, migs[1].Version)
}

func TestRun_AppliesOnlyPending(t *testing.T) {
	m := NewMigrator(testFS(), "migrations", "sqlite")
	exec := &fakeExec{}

	res, err := m.Run(context.Background(), exec)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, res.Applied)

	res, err = m.Run(context.Background(), exec)
	require.NoError(t, err)
	assert.Empty(t, res.Applied)
	assert.Equal(t, []int{1, 2}, res.Skipped)
}

func TestRun_StopsOnFailure(t *testing.T) {
	m := NewMigrator(testFS(), "migrations", "postgres")
	exec := &fakeExec{failOn: "CREATE TABLE b (id TEXT);"}

	res, err := m.Run(context.Background(), exec)
	require.Error(t, err)
	require.NotNil(t, res.Failed)
	assert.Equal(t, 2, *res.Failed)
	assert.Equal(t, []int{1}, res.Applied)
}

func TestOpen_UnknownAdapter(t *testing.T) {
	_, err := Open(context.Background(), "nope", AdapterConfig{})
	assert.Error(t, err)
}
