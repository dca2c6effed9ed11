package query_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"CoverLedger/internal/core"
	"CoverLedger/internal/event"
	fpmath "CoverLedger/internal/math"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/persistence"
	"CoverLedger/internal/projection"
	"CoverLedger/internal/query"
	"CoverLedger/internal/state"
	"CoverLedger/internal/testutil"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// seed runs a pool creation and a 1000 USDC deposit through a core, then
// drains both pipelines into the database.
func seed(ctx context.Context, t *testing.T) (qs *query.QueryService, positionID, owner uuid.UUID) {
	t.Helper()
	db := testutil.SetupTestDB(t)

	var f fpmath.Formula
	for dst, s := range map[*fpmath.Uint]string{&f.UOptimal: "80", &f.R0: "1", &f.RSlope1: "5", &f.RSlope2: "20"} {
		r, err := fpmath.ParseRay(s)
		if err != nil {
			t.Fatal(err)
		}
		*dst = r
	}

	persistChan := make(chan core.CoreOutput, 8)
	projectionChan := make(chan core.CoreOutput, 8)
	c := core.NewDeterministicCore(state.NewStore(state.DefaultProtocolParams), 1, 0, persistChan, projectionChan, nil, nil)

	positionID, owner = uuid.New(), uuid.New()
	for _, evt := range []event.Event{
		&event.PoolCreated{Meta: event.Meta{OperationID: uuid.New(), Timestamp: 1_700_000_000}, PoolID: 1, Formula: f},
		&event.PositionOpened{
			Meta:       event.Meta{OperationID: uuid.New(), Timestamp: 1_700_000_000},
			PositionID: positionID, Owner: owner, Amount: fpmath.U64(1_000_000_000), PoolIDs: []state.PoolID{1},
		},
	} {
		if err := c.ProcessEvent(evt); err != nil {
			t.Fatalf("%s: %v", evt.EventType(), err)
		}
	}
	close(persistChan)
	close(projectionChan)

	logger := observability.NewLoggerTo(io.Discard, "test", observability.ParseLogLevel("error"))
	if err := persistence.NewPersistenceWorker(db, persistChan, 10, 5*time.Millisecond, nil, logger).Run(ctx); err != nil {
		t.Fatalf("persist: %v", err)
	}
	snapshot := func(context.Context) (*core.SnapshotState, error) { return c.CreateSnapshotState(), nil }
	if err := projection.NewProjectionWorker(db, projectionChan, snapshot, nil, logger).Run(ctx); err != nil {
		t.Fatalf("project: %v", err)
	}
	return query.NewQueryService(db, 6, nil), positionID, owner
}

func TestQueries_ReadProjectedState(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	qs, positionID, owner := seed(ctx, t)

	pool, err := qs.GetPool(ctx, 1)
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if !pool.TotalLiquidity.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("got total liquidity %s, want 1000", pool.TotalLiquidity)
	}
	if pool.AsOfSequence != 1 {
		t.Errorf("got as-of sequence %d, want 1", pool.AsOfSequence)
	}

	if _, err := qs.GetPool(ctx, 2); !errors.Is(err, query.ErrNotFound) {
		t.Errorf("unknown pool: got %v, want ErrNotFound", err)
	}

	pos, err := qs.GetPosition(ctx, positionID)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos.Owner != owner || !pos.Supplied.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("got owner %s supplied %s", pos.Owner, pos.Supplied)
	}

	owned, err := qs.GetPositionsByOwner(ctx, owner)
	if err != nil || len(owned) != 1 {
		t.Errorf("positions by owner: got %d, %v", len(owned), err)
	}
}

func TestVerifyIntegrity_Healthy(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	qs, _, _ := seed(ctx, t)

	report, err := qs.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}
	if !report.IsHealthy {
		t.Errorf("report not healthy: %+v", report)
	}
	if report.LatestSequence != 1 {
		t.Errorf("got latest sequence %d, want 1", report.LatestSequence)
	}
}
