package postgres

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func migrationFile(body string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(body)}
}

func TestLoadMigrationsFromFSSortsPairs(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0002_payments.up.sql":   migrationFile("CREATE TABLE p (id INT);"),
		"sql/migrations/0002_payments.down.sql": migrationFile("DROP TABLE p;"),
		"sql/migrations/0001_catalog.up.sql":    migrationFile("CREATE TABLE c (id INT);"),
		"sql/migrations/0001_catalog.down.sql":  migrationFile("DROP TABLE c;"),
	}

	migrations, err := loadMigrationsFromFS(fsys)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, migration{Version: 1, Name: "catalog", UpSQL: "CREATE TABLE c (id INT);", DownSQL: "DROP TABLE c;"}, migrations[0])
	assert.Equal(t, int64(2), migrations[1].Version)
	assert.Equal(t, "payments", migrations[1].Name)
}

func TestLoadMigrationsFromFSRejectsBrokenSets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fsys    fstest.MapFS
		errPart string
	}{
		{
			name:    "missing down",
			fsys:    fstest.MapFS{"sql/migrations/0001_catalog.up.sql": migrationFile("SELECT 1;")},
			errPart: "both up and down",
		},
		{
			name:    "bad file name",
			fsys:    fstest.MapFS{"sql/migrations/catalog.sql": migrationFile("SELECT 1;")},
			errPart: "invalid migration file name",
		},
		{
			name: "empty body",
			fsys: fstest.MapFS{
				"sql/migrations/0001_catalog.up.sql":   migrationFile("  \n"),
				"sql/migrations/0001_catalog.down.sql": migrationFile("DROP TABLE c;"),
			},
			errPart: "is empty",
		},
		{
			name: "conflicting names",
			fsys: fstest.MapFS{
				"sql/migrations/0001_catalog.up.sql": migrationFile("SELECT 1;"),
				"sql/migrations/0001_orders.down.sql": migrationFile("SELECT 1;"),
			},
			errPart: "conflicting names",
		},
		{
			name:    "no files",
			fsys:    fstest.MapFS{},
			errPart: "no migration files",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadMigrationsFromFS(tt.fsys)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errPart)
		})
	}
}

func TestEmbeddedMigrationsAreContiguous(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(migrationsFS)
	require.NoError(t, err)
	require.Len(t, migrations, 5)
	for i, m := range migrations {
		assert.Equal(t, int64(i+1), m.Version)
	}
}

func TestPlanMigrations(t *testing.T) {
	t.Parallel()

	all := []migration{{Version: 1}, {Version: 2}, {Version: 3}}

	up, err := planMigrations(migrationUp, all, []int64{1}, 0)
	require.NoError(t, err)
	assert.Equal(t, []migration{{Version: 2}, {Version: 3}}, up)

	up, err = planMigrations(migrationUp, all, []int64{1}, 1)
	require.NoError(t, err)
	assert.Equal(t, []migration{{Version: 2}}, up)

	down, err := planMigrations(migrationDown, all, []int64{1, 2, 3}, 2)
	require.NoError(t, err)
	assert.Equal(t, []migration{{Version: 3}, {Version: 2}}, down)

	_, err = planMigrations(migrationDown, all, []int64{1, 9}, 1)
	assert.ErrorContains(t, err, "no embedded migration")

	assert.Equal(t, 2, countPending(all, asSet([]int64{3})))
}
