package scheduler

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quasar/internal/database"
)

type stubJob struct {
	name string
	runs int
	err  error
}

func (j *stubJob) Run() error   { j.runs++; return j.err }
func (j *stubJob) Name() string { return j.name }

func newJobTestDB(t *testing.T, name string) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: database.ProfileStandard,
		Name:    name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchedulerAddJobValidatesSchedule(t *testing.T) {
	s := New(zerolog.New(nil).Level(zerolog.Disabled))

	err := s.AddJob("not a schedule", &stubJob{name: "stub"})
	assert.Error(t, err)

	err = s.AddJob("@every 1m", &stubJob{name: "stub"})
	assert.NoError(t, err)
}

func TestSchedulerRunNow(t *testing.T) {
	s := New(zerolog.New(nil).Level(zerolog.Disabled))

	job := &stubJob{name: "stub"}
	require.NoError(t, s.RunNow(job))
	assert.Equal(t, 1, job.runs)

	failing := &stubJob{name: "failing", err: errors.New("boom")}
	assert.Error(t, s.RunNow(failing))
	assert.Equal(t, 1, failing.runs)
}

func TestSchedulerStartStop(t *testing.T) {
	s := New(zerolog.New(nil).Level(zerolog.Disabled))
	require.NoError(t, s.AddJob("@every 1h", &stubJob{name: "stub"}))

	s.Start()
	s.Stop()
}

func TestCheckWALCheckpointsJob(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)

	job := NewCheckWALCheckpointsJob(nil, nil, log)
	assert.Equal(t, "check_wal_checkpoints", job.Name())
	assert.NoError(t, job.Run())

	runsDB := newJobTestDB(t, "runs")
	cacheDB := newJobTestDB(t, "cache")
	job = NewCheckWALCheckpointsJob(runsDB, cacheDB, log)
	assert.NoError(t, job.Run())
}

func TestCheckDatabasesJob(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)

	job := NewCheckDatabasesJob(nil, nil, log)
	assert.Equal(t, "check_databases", job.Name())
	assert.NoError(t, job.Run())

	runsDB := newJobTestDB(t, "runs")
	cacheDB := newJobTestDB(t, "cache")
	job = NewCheckDatabasesJob(runsDB, cacheDB, log)
	assert.NoError(t, job.Run())
}

func TestSchedulerStatus(t *testing.T) {
	s := New(zerolog.New(nil).Level(zerolog.Disabled))
	require.NoError(t, s.AddJob("@hourly", &stubJob{name: "first"}))
	require.NoError(t, s.AddJob("@every 30s", &stubJob{name: "second"}))

	statuses := s.Status()
	require.Len(t, statuses, 2)
	assert.Equal(t, "first", statuses[0].Name)
	assert.Equal(t, "@hourly", statuses[0].Schedule)
	assert.Equal(t, "second", statuses[1].Name)

	// Next run times populate once the scheduler starts.
	s.Start()
	defer s.Stop()
	statuses = s.Status()
	assert.False(t, statuses[1].NextRun.IsZero())
}
