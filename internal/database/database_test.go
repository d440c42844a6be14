package database

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/watashi-museum/museum/internal/model"
)

func memoryDSN() string {
	return "file:" + uuid.NewString() + "?mode=memory&cache=shared"
}

func TestOpenSQLite_MigrateAndDump(t *testing.T) {
	db, err := OpenSQLite(memoryDSN(), zerolog.New(io.Discard))
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	assert.True(t, db.Migrator().HasTable(&model.Pose{}))
	assert.True(t, db.Migrator().HasTable(&model.Frame{}))

	require.NoError(t, db.Create(&model.Frame{SpaceID: "alice", SlotID: "frame-back-0", Title: "Dawn"}).Error)

	path := filepath.Join(t.TempDir(), "dump.db")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0644))
	require.NoError(t, DumpToDisk(db, path))

	dumped, err := OpenSQLite(path, zerolog.New(io.Discard))
	require.NoError(t, err)

	var frame model.Frame
	require.NoError(t, dumped.First(&frame, "space_id = ? AND slot_id = ?", "alice", "frame-back-0").Error)
	assert.Equal(t, "Dawn", frame.Title)
}

func TestDumpToDisk_NoPath(t *testing.T) {
	db, err := OpenSQLite(memoryDSN(), zerolog.New(io.Discard))
	require.NoError(t, err)

	err = DumpToDisk(db, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path not set")
}
