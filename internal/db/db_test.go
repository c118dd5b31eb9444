package db

import (
	"compress/gzip"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/heartrate.report/internal/monitoring"
	"github.com/banshee-data/heartrate.report/internal/sink"
)

func muteLogs(t *testing.T) {
	t.Helper()
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(log.Printf) })
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	muteLogs(t)

	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDB_AppliesMigrations(t *testing.T) {
	db := newTestDB(t)

	st, err := db.GetMigrationStatus(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(1), st.LatestVersion)
	assert.Equal(t, st.LatestVersion, st.CurrentVersion)
	assert.False(t, st.Dirty)
	assert.True(t, st.TableExists)

	for _, table := range []string{"acquisitions", "rr_values", "tags"} {
		var n int
		err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, table)
	}
}

func TestNewDB_ReopenIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	muteLogs(t)

	first, err := NewDB(path)
	require.NoError(t, err)
	require.NoError(t, first.CreateAcquisition(&Acquisition{BasePath: "a", DeviceKind: "demo"}))
	require.NoError(t, first.Close())

	second, err := NewDB(path)
	require.NoError(t, err)
	defer second.Close()

	recent, err := second.RecentAcquisitions(10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
	assert.Equal(t, path, second.Path())
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	var foreignKeys int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	assert.Equal(t, 1, foreignKeys)
}

func TestMigrateDownAndUp(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.MigrateDown(MigrationsFS()))
	version, dirty, err := db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name='acquisitions'`).Scan(&n))
	assert.Zero(t, n)

	require.NoError(t, db.MigrateUp(MigrationsFS()))
	version, _, err = db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func TestGetLatestMigrationVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"000001_init.up.sql":    &fstest.MapFile{Data: []byte("SELECT 1;")},
		"000001_init.down.sql":  &fstest.MapFile{Data: []byte("SELECT 1;")},
		"000003_later.up.sql":   &fstest.MapFile{Data: []byte("SELECT 1;")},
		"000003_later.down.sql": &fstest.MapFile{Data: []byte("SELECT 1;")},
	}
	v, err := GetLatestMigrationVersion(fsys)
	require.NoError(t, err)
	assert.Equal(t, uint(3), v)

	_, err = GetLatestMigrationVersion(fstest.MapFS{})
	assert.Error(t, err)
}

func TestAcquisitionLifecycle(t *testing.T) {
	db := newTestDB(t)

	started := time.Unix(1_700_000_000, 0)
	a := &Acquisition{
		BasePath:      "/data/run1",
		DeviceKind:    "belt",
		DeviceName:    "Polar iWL",
		DeviceAddress: "/dev/rfcomm0",
		Activity:      "rest",
		StartedAt:     started,
	}
	require.NoError(t, db.CreateAcquisition(a))
	require.NotEmpty(t, a.ID)

	w := NewAcquisitionWriter(db, a.ID)
	assert.Equal(t, a.ID, w.ID())
	for _, rr := range []int{800, 798, 805} {
		require.NoError(t, w.WriteRRValue(rr))
	}
	require.NoError(t, w.WriteTagValue("photo", 1.5, 4))
	require.NoError(t, w.WriteTagValue("video", 4, 9.25))
	require.NoError(t, w.Close())

	ended := started.Add(time.Minute)
	require.NoError(t, db.FinishAcquisition(a.ID, ended, true, ""))

	got, err := db.GetAcquisition(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "/data/run1", got.BasePath)
	assert.Equal(t, "Polar iWL", got.DeviceName)
	assert.True(t, got.StartedAt.Equal(started))
	require.NotNil(t, got.EndedAt)
	assert.True(t, got.EndedAt.Equal(ended))
	assert.True(t, got.CorrectData)
	assert.Equal(t, 3, got.RRCount)

	rr, err := db.AcquisitionRR(a.ID)
	require.NoError(t, err)
	if diff := cmp.Diff([]int{800, 798, 805}, rr); diff != "" {
		t.Errorf("rr mismatch (-want +got):\n%s", diff)
	}

	tags, err := db.AcquisitionTags(a.ID)
	require.NoError(t, err)
	want := []sink.Tag{{Name: "photo", Begin: 1.5, End: 4}, {Name: "video", Begin: 4, End: 9.25}}
	if diff := cmp.Diff(want, tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
}

func TestAcquisitionWriter_Closed(t *testing.T) {
	db := newTestDB(t)
	a := &Acquisition{BasePath: "x", DeviceKind: "demo"}
	require.NoError(t, db.CreateAcquisition(a))

	w := NewAcquisitionWriter(db, a.ID)
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.WriteRRValue(800), sink.ErrClosed)
	assert.ErrorIs(t, w.WriteTagValue("t", 0, 1), sink.ErrClosed)
	assert.ErrorIs(t, w.Close(), sink.ErrClosed)
}

func TestAcquisitionWriter_UnknownAcquisition(t *testing.T) {
	db := newTestDB(t)
	w := NewAcquisitionWriter(db, "missing")
	assert.Error(t, w.WriteRRValue(800))
}

func TestAcquisitionNotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetAcquisition("nope")
	assert.ErrorIs(t, err, ErrAcquisitionNotFound)

	err = db.FinishAcquisition("nope", time.Now(), false, "")
	assert.ErrorIs(t, err, ErrAcquisitionNotFound)
}

func TestRecentAcquisitions(t *testing.T) {
	db := newTestDB(t)

	base := time.Unix(1_700_000_000, 0)
	for i, name := range []string{"first", "second", "third"} {
		a := &Acquisition{BasePath: name, DeviceKind: "demo", StartedAt: base.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, db.CreateAcquisition(a))
	}

	recent, err := db.RecentAcquisitions(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "third", recent[0].BasePath)
	assert.Equal(t, "second", recent[1].BasePath)
	assert.Nil(t, recent[0].EndedAt)
}

func TestBackupHandler(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.CreateAcquisition(&Acquisition{BasePath: "b", DeviceKind: "demo"}))

	dir := t.TempDir()
	rec := httptest.NewRecorder()
	db.backupHandler(dir).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment; filename=backup-")
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.Greater(t, len(data), 16)
	assert.Equal(t, "SQLite format 3\x00", string(data[:16]))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "backup snapshot should be removed")
}

func TestAttachAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	for _, path := range []string{"/debug/backup", "/debug/tailsql/"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.NotEqual(t, http.StatusNotFound, rec.Code, path)
	}
}
