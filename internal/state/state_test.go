package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/elys-network/yield-router/internal/config"
	"github.com/elys-network/yield-router/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withMockDB(t *testing.T) sqlmock.Sqlmock {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	previous := DB
	DB = db
	t.Cleanup(func() {
		DB = previous
		db.Close()
	})
	return mock
}

func TestFunctionsRequireDB(t *testing.T) {
	previous := DB
	DB = nil
	defer func() { DB = previous }()

	ctx := context.Background()
	assert.ErrorIs(t, EnsureSchema(), ErrDBNotInitialized)
	_, err := IncrementCycleNumber(ctx)
	assert.ErrorIs(t, err, ErrDBNotInitialized)
	_, err = SaveCycleSnapshot(ctx, types.CycleSnapshot{})
	assert.ErrorIs(t, err, ErrDBNotInitialized)
	_, _, err = LoadActiveStrategyParameters(ctx, "default")
	assert.ErrorIs(t, err, ErrDBNotInitialized)
	_, err = GetPerformanceSummary(ctx)
	assert.ErrorIs(t, err, ErrDBNotInitialized)
}

func TestEnsureSchema(t *testing.T) {
	mock := withMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS strategy_parameters")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, EnsureSchema())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCycleCounter(t *testing.T) {
	mock := withMockDB(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE cycle_counter")).
		WillReturnRows(sqlmock.NewRows([]string{"current_cycle"}).AddRow(42))
	n, err := IncrementCycleNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT current_cycle FROM cycle_counter")).
		WillReturnRows(sqlmock.NewRows([]string{"current_cycle"}).AddRow(42))
	n, err = GetCurrentCycleNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE cycle_counter")).
		WithArgs(0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, ResetCycleNumber(ctx, 0))

	assert.Error(t, ResetCycleNumber(ctx, -1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAndLoadStrategyParameters(t *testing.T) {
	mock := withMockDB(t)
	ctx := context.Background()
	params := config.DefaultStrategyParameters()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE strategy_parameters SET is_active = FALSE")).
		WithArgs("default_router_strategy").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO strategy_parameters")).
		WithArgs("default_router_strategy", 2, true, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"params_id"}).AddRow(7))
	mock.ExpectCommit()

	id, err := SaveStrategyParameters(ctx, params, config.DefaultStrategyConfigName, 2, true)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	encoded, err := json.Marshal(params)
	require.NoError(t, err)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version, params")).
		WithArgs("default_router_strategy").
		WillReturnRows(sqlmock.NewRows([]string{"version", "params"}).AddRow(2, encoded))

	loaded, version, err := LoadActiveStrategyParameters(ctx, config.DefaultStrategyConfigName)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
	assert.Equal(t, params.Filter, loaded.Filter)
	assert.Equal(t, params.Allocation, loaded.Allocation)
	assert.Equal(t, params.Risk.Weights, loaded.Risk.Weights)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveStrategyParametersRollsBackOnInsertFailure(t *testing.T) {
	mock := withMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO strategy_parameters")).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, err := SaveStrategyParameters(context.Background(), config.DefaultStrategyParameters(), "default", 1, false)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveStrategyParametersRejectsInvalid(t *testing.T) {
	withMockDB(t)
	params := config.DefaultStrategyParameters()
	params.Allocation.MaxCandidates = 0

	_, err := SaveStrategyParameters(context.Background(), params, "default", 1, true)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestLoadActiveStrategyParametersMissing(t *testing.T) {
	mock := withMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version, params")).
		WillReturnRows(sqlmock.NewRows([]string{"version", "params"}))

	_, _, err := LoadActiveStrategyParameters(context.Background(), "default")
	assert.ErrorIs(t, err, ErrNoActiveParameters)
}

func TestGetLatestStrategyVersion(t *testing.T) {
	mock := withMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(version), 0)")).
		WithArgs("default").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(3))

	v, err := GetLatestStrategyVersion(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func sampleSnapshot() types.CycleSnapshot {
	return types.CycleSnapshot{
		CycleNumber:     5,
		CycleID:         "7f0c4a3e-0000-4000-8000-000000000000",
		Timestamp:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ParamsVersion:   1,
		Status:          types.CycleCompleted,
		Sources:         []types.SourceStatus{{Source: "defillama", State: "ok", Records: 12}},
		InitialBalances: types.PortfolioSnapshot{"ethereum": 600, "arbitrum": 400},
		Allocation:      types.Allocation{{Protocol: "aave-v3", Chain: "base"}: 400},
		TotalInvestable: 950,
		TargetByChain:   map[string]float64{"base": 400},
		Transfers: []types.TransferAction{
			{Source: "ethereum", Destination: "base", Amount: 250},
			{Source: "arbitrum", Destination: "base", Amount: 150},
		},
		Duration: 1500 * time.Millisecond,
	}
}

func TestSaveCycleSnapshot(t *testing.T) {
	mock := withMockDB(t)
	s := sampleSnapshot()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO cycle_snapshots")).
		WithArgs(
			5, s.CycleID, s.Timestamp, 1, "completed", "",
			false, 0, 0, sqlmock.AnyArg(),
			950.0, 0.0, 400.0, sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(1500),
		).
		WillReturnRows(sqlmock.NewRows([]string{"snapshot_id"}).AddRow(11))

	id, err := PostgresRecorder{}.RecordCycle(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func cycleRow(t *testing.T, id int64, s types.CycleSnapshot) *sqlmock.Rows {
	t.Helper()
	enc := func(v any) []byte {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return b
	}
	return sqlmock.NewRows([]string{
		"snapshot_id", "cycle_number", "cycle_id", "snapshot_timestamp", "params_version", "status", "error_message",
		"fell_back", "opportunities_fetched", "opportunities_eligible", "sources",
		"total_investable_usd", "remaining_usd",
		"initial_balances", "allocation", "target_by_chain", "transfers", "deployments",
		"transfer_receipts", "allocate_receipts", "final_balances", "duration_ms",
	}).AddRow(
		id, s.CycleNumber, s.CycleID, s.Timestamp, s.ParamsVersion, string(s.Status), s.Error,
		s.FellBack, s.OpportunitiesFetched, s.OpportunitiesEligible, enc(s.Sources),
		s.TotalInvestable, s.Remaining,
		enc(s.InitialBalances), enc(s.Allocation), enc(s.TargetByChain), enc(s.Transfers), nil,
		nil, nil, enc(s.FinalBalances), s.Duration.Milliseconds(),
	)
}

func TestGetCycleByID(t *testing.T) {
	mock := withMockDB(t)
	s := sampleSnapshot()

	mock.ExpectQuery(regexp.QuoteMeta("FROM cycle_snapshots")).
		WithArgs(int64(11)).
		WillReturnRows(cycleRow(t, 11, s))

	got, err := GetCycleByID(context.Background(), 11)
	require.NoError(t, err)
	assert.Equal(t, int64(11), got.SnapshotID)
	assert.Equal(t, types.CycleCompleted, got.Status)
	assert.Equal(t, s.Allocation, got.Allocation)
	assert.Equal(t, s.Transfers, got.Transfers)
	assert.Equal(t, s.InitialBalances, got.InitialBalances)
	assert.Equal(t, 1500*time.Millisecond, got.Duration)
	assert.Nil(t, got.Deployments)
}

func TestGetCycleByIDNotFound(t *testing.T) {
	mock := withMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM cycle_snapshots")).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err := GetCycleByID(context.Background(), 99)
	assert.ErrorIs(t, err, ErrCycleNotFound)
}

func TestGetRecentCyclesClampsLimit(t *testing.T) {
	mock := withMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY snapshot_timestamp DESC, snapshot_id DESC")).
		WithArgs(10).
		WillReturnRows(cycleRow(t, 3, sampleSnapshot()))

	cycles, err := GetRecentCycles(context.Background(), 5000)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, int64(3), cycles[0].SnapshotID)
}

func TestGetLatestCycleEmpty(t *testing.T) {
	mock := withMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM cycle_snapshots")).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"snapshot_id"}))

	_, err := GetLatestCycle(context.Background())
	assert.ErrorIs(t, err, ErrCycleNotFound)
}

func TestGetCyclesByChain(t *testing.T) {
	mock := withMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE $1 = ANY(chains)")).
		WithArgs("base", 10).
		WillReturnRows(sqlmock.NewRows([]string{"snapshot_id"}).AddRow(4).AddRow(2))

	ids, err := GetCyclesByChain(context.Background(), "base", 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 2}, ids)
}

func TestGetPerformanceSummary(t *testing.T) {
	mock := withMockDB(t)
	last := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("COUNT(*) AS total_cycles")).
		WillReturnRows(sqlmock.NewRows([]string{"a", "b", "c", "d", "e", "f", "g", "h"}).
			AddRow(10, 6, 2, 1, 1, 3, 12500.5, 980.0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT total_investable_usd, snapshot_timestamp")).
		WillReturnRows(sqlmock.NewRows([]string{"total_investable_usd", "snapshot_timestamp"}).AddRow(1000.0, last))

	summary, err := GetPerformanceSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, summary.TotalCycles)
	assert.Equal(t, 6, summary.CompletedCycles)
	assert.Equal(t, 3, summary.FallbackCycles)
	assert.Equal(t, 12500.5, summary.TotalTransferVolume)
	assert.Equal(t, 1000.0, summary.LatestTotalInvestable)
	require.NotNil(t, summary.LastUpdated)
	assert.True(t, last.Equal(*summary.LastUpdated))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPerformanceSummaryNoCycles(t *testing.T) {
	mock := withMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta("COUNT(*) AS total_cycles")).
		WillReturnRows(sqlmock.NewRows([]string{"a", "b", "c", "d", "e", "f", "g", "h"}).
			AddRow(0, 0, 0, 0, 0, 0, 0.0, 0.0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT total_investable_usd, snapshot_timestamp")).
		WillReturnRows(sqlmock.NewRows([]string{"total_investable_usd", "snapshot_timestamp"}))

	summary, err := GetPerformanceSummary(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.TotalCycles)
	assert.Nil(t, summary.LastUpdated)
}
