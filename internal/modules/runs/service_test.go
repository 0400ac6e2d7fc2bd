package runs

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quasar/internal/modules/circuits"
	"github.com/aristath/quasar/internal/modules/estimation"
)

func newTestService(t *testing.T) (*Service, *sql.DB) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, InitSchema(db))

	log := zerolog.New(nil).Level(zerolog.Disabled)
	return NewService(NewRepository(db, log), log), db
}

func sampleData() *estimation.Data {
	seed := int64(7)
	return &estimation.Data{
		NumSamples:         4,
		Precision:          0.03,
		OneNorm:            1.375,
		PECValue:           -0.98,
		PECStd:             0.4,
		PECError:           0.2,
		UnbiasedEstimators: []float64{-1.1, -0.9, -1.0, -0.92},
		MeasuredValues:     []float64{-0.8, -0.65, -0.73, -0.67},
		SampledCircuits: []circuits.Circuit{
			circuits.New(circuits.X(0)),
			circuits.New(circuits.X(0), circuits.Z(0)),
		},
		Workers: 2,
		Seed:    &seed,
	}
}

func TestRecordAndGet(t *testing.T) {
	svc, _ := newTestService(t)

	raw := -0.8
	run, err := svc.Record(RecordParams{
		Circuit:    circuits.New(circuits.X(0)),
		Observable: "Z(0)",
		NoiseLevel: 0.2,
		RawValue:   &raw,
		Duration:   215 * time.Millisecond,
		Data:       sampleData(),
	})
	require.NoError(t, err)

	_, err = uuid.Parse(run.ID)
	assert.NoError(t, err, "run IDs should be UUIDs")
	assert.Equal(t, circuits.New(circuits.X(0)).Key(), run.CircuitKey)
	assert.Equal(t, 1, run.Qubits)
	assert.Equal(t, 4, run.NumSamples)
	assert.InDelta(t, 1.375, run.OneNorm, 1e-12)
	assert.Equal(t, int64(215), run.DurationMS)
	require.NotNil(t, run.Seed)
	assert.Equal(t, int64(7), *run.Seed)

	got, data, err := svc.Get(run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, data)

	assert.InDelta(t, -0.98, data.PECValue, 1e-12)
	assert.Equal(t, []float64{-1.1, -0.9, -1.0, -0.92}, data.UnbiasedEstimators)
	assert.Equal(t, []float64{-0.8, -0.65, -0.73, -0.67}, data.MeasuredValues)
	require.Len(t, data.SampledCircuits, 2)
	assert.Equal(t, "X", data.SampledCircuits[1].Operations[1].Gate)
}

func TestRecord_RejectsNilData(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Record(RecordParams{Circuit: circuits.New(circuits.X(0))})
	assert.Error(t, err)
}

func TestGet_UnknownIDReturnsNil(t *testing.T) {
	svc, _ := newTestService(t)

	run, data, err := svc.Get("does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, run)
	assert.Nil(t, data)
}

func TestList_DefaultLimit(t *testing.T) {
	svc, _ := newTestService(t)

	for i := 0; i < 3; i++ {
		_, err := svc.Record(RecordParams{
			Circuit:    circuits.New(circuits.H(0)),
			Observable: "Z(0)",
			Data:       sampleData(),
		})
		require.NoError(t, err)
	}

	got, err := svc.List(0, -5)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	count, err := svc.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestDeleteRun(t *testing.T) {
	svc, _ := newTestService(t)

	run, err := svc.Record(RecordParams{
		Circuit:    circuits.New(circuits.H(0)),
		Observable: "Z(0)",
		Data:       sampleData(),
	})
	require.NoError(t, err)

	deleted, err := svc.Delete(run.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = svc.Delete(run.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestPruneOlderThan(t *testing.T) {
	svc, db := newTestService(t)

	old, err := svc.Record(RecordParams{
		Circuit:    circuits.New(circuits.H(0)),
		Observable: "Z(0)",
		Data:       sampleData(),
	})
	require.NoError(t, err)

	_, err = svc.Record(RecordParams{
		Circuit:    circuits.New(circuits.H(0)),
		Observable: "Z(0)",
		Data:       sampleData(),
	})
	require.NoError(t, err)

	// Age one run artificially.
	cutoff := time.Now().AddDate(0, 0, -40).Unix()
	_, err = db.Exec("UPDATE runs SET created_at = ? WHERE id = ?", cutoff, old.ID)
	require.NoError(t, err)

	deleted, err := svc.PruneOlderThan(30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	count, err := svc.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPruneOlderThan_DisabledForZeroDays(t *testing.T) {
	svc, _ := newTestService(t)

	deleted, err := svc.PruneOlderThan(0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)
}

func TestRetentionJob(t *testing.T) {
	svc, db := newTestService(t)

	run, err := svc.Record(RecordParams{
		Circuit:    circuits.New(circuits.H(0)),
		Observable: "Z(0)",
		Data:       sampleData(),
	})
	require.NoError(t, err)

	_, err = db.Exec("UPDATE runs SET created_at = ? WHERE id = ?",
		time.Now().AddDate(0, 0, -100).Unix(), run.ID)
	require.NoError(t, err)

	log := zerolog.New(nil).Level(zerolog.Disabled)
	job := NewRetentionJob(svc, 90, log)
	assert.Equal(t, "runs_retention", job.Name())
	require.NoError(t, job.Run())

	count, err := svc.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestConfidenceInterval(t *testing.T) {
	svc, _ := newTestService(t)

	run := &Run{PECValue: -1.0, PECError: 0.01}

	lo, hi, err := svc.ConfidenceInterval(run, 0.95)
	require.NoError(t, err)

	// 95% normal quantile is 1.959964.
	assert.InDelta(t, -1.0-1.959964*0.01, lo, 1e-6)
	assert.InDelta(t, -1.0+1.959964*0.01, hi, 1e-6)

	_, _, err = svc.ConfidenceInterval(run, 1.5)
	assert.Error(t, err)
}
