package influx

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func TestPresencePoint(t *testing.T) {
	p := PresencePoint("alice", 3, t0)

	assert.Equal(t, MeasurementPresence, p.Name())
	require.Len(t, p.TagList(), 1)
	assert.Equal(t, "space", p.TagList()[0].Key)
	assert.Equal(t, "alice", p.TagList()[0].Value)
	require.Len(t, p.FieldList(), 1)
	assert.Equal(t, "visitors", p.FieldList()[0].Key)
	assert.Equal(t, t0, p.Time())
}

func TestConnect_Disabled(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("influx.enabled", false)

	m := NewManager(zerolog.Nop(), filepath.Join(t.TempDir(), "backup.gz"))
	assert.Error(t, m.Connect())
	assert.False(t, m.IsValid)
}

func TestWritePresence_Backup(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("influx.bucket", "museum_presence")

	path := filepath.Join(t.TempDir(), "backup.gz")
	m := NewManager(zerolog.Nop(), path)
	require.NoError(t, m.openBackup())

	err := m.WritePresence(context.Background(), map[string]int{"bob": 1, "alice": 2}, 4, t0)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)

	ts := strconv.FormatInt(t0.UnixNano(), 10)
	assert.Equal(t, "space_presence,space=alice visitors=2i "+ts+"\n"+
		"space_presence,space=bob visitors=1i "+ts+"\n"+
		"service_status,service=museumd activeSpaces=2i,connections=4i "+ts+"\n", string(data))
}

func TestServicePoint_Tagged(t *testing.T) {
	line := influxdb2_write.PointToLineProtocol(ServicePoint("museumd", 4, 2, t0), time.Nanosecond)

	assert.True(t, strings.HasPrefix(line, "service_status,service=museumd activeSpaces=2i,connections=4i "), line)
	assert.NotContains(t, line, ", ")
}

func TestNewManager_ServiceName(t *testing.T) {
	t.Cleanup(viper.Reset)
	assert.Equal(t, "museumd", NewManager(zerolog.Nop(), "").Service)

	viper.Set("otel.serviceName", "museum-eu")
	assert.Equal(t, "museum-eu", NewManager(zerolog.Nop(), "").Service)
}

func TestWritePoint_NoBackup(t *testing.T) {
	m := NewManager(zerolog.Nop(), "")
	err := m.WritePoint(context.Background(), "b", PresencePoint("alice", 1, t0))
	assert.Error(t, err)
}
