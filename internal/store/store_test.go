package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xelth-com/fieldsync/internal/models"
	"github.com/xelth-com/fieldsync/internal/testutil"
	"gorm.io/datatypes"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return New(testutil.NewDB(t))
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	due := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	want := &models.WorkOrder{
		RecordMeta: models.RecordMeta{ID: "42", Synced: true},
		Number:     "WO-0042",
		Title:      "Calibrate platform scale",
		Status:     models.WorkOrderStatusScheduled,
		Priority:   "high",
		CustomerID: "7",
		Latitude:   testutil.Float(52.52),
		Longitude:  testutil.Float(13.405),
		SLADueAt:   &due,
		Extra:      datatypes.JSONMap{"bay": "3"},
	}

	require.NoError(t, s.WorkOrders.Put(ctx, want))

	got, err := s.WorkOrders.Get(ctx, "42")
	require.NoError(t, err)

	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty(), cmpopts.EquateApproxTime(time.Millisecond)); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestPutOverwritesWithoutMerge(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Expenses.Put(ctx, &models.Expense{
		RecordMeta:  models.RecordMeta{ID: "e1"},
		Category:    "fuel",
		Amount:      40,
		Description: "diesel",
	}))
	require.NoError(t, s.Expenses.Put(ctx, &models.Expense{
		RecordMeta: models.RecordMeta{ID: "e1"},
		Category:   "parking",
		Amount:     5,
	}))

	got, err := s.Expenses.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "parking", got.Category)
	assert.Equal(t, 5.0, got.Amount)
	assert.Empty(t, got.Description)

	n, err := s.Expenses.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestGetMissing(t *testing.T) {
	s := newStore(t)

	_, err := s.Equipment.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutRequiresID(t *testing.T) {
	s := newStore(t)

	err := s.Photos.Put(context.Background(), &models.Photo{Caption: "front"})
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestGetByIndex(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.WorkOrders.PutMany(ctx, []*models.WorkOrder{
		{RecordMeta: models.RecordMeta{ID: "1", Synced: true}, Status: models.WorkOrderStatusCompleted},
		{RecordMeta: models.RecordMeta{ID: "2"}, Status: models.WorkOrderStatusScheduled},
		{RecordMeta: models.RecordMeta{ID: "3", Synced: true}, Status: models.WorkOrderStatusScheduled},
	}))

	scheduled, err := s.WorkOrders.GetByIndex(ctx, "status", models.WorkOrderStatusScheduled)
	require.NoError(t, err)
	require.Len(t, scheduled, 2)
	assert.Equal(t, "2", scheduled[0].ID)
	assert.Equal(t, "3", scheduled[1].ID)

	unsynced, err := s.WorkOrders.Unsynced(ctx)
	require.NoError(t, err)
	require.Len(t, unsynced, 1)
	assert.Equal(t, "2", unsynced[0].ID)

	_, err = s.WorkOrders.GetByIndex(ctx, "title", "x")
	assert.ErrorIs(t, err, ErrUnknownIndex)
}

func TestPutManyIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	err := s.Signatures.PutMany(ctx, []*models.Signature{
		{RecordMeta: models.RecordMeta{ID: "s1"}, SignerName: "A"},
		{SignerName: "missing id"},
	})
	require.ErrorIs(t, err, ErrMissingID)

	n, err := s.Signatures.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRemoveAndClear(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.ChatMessages.Put(ctx, &models.ChatMessage{
			RecordMeta: models.RecordMeta{ID: fmt.Sprintf("m%d", i)},
			ThreadID:   "t1",
			Body:       "hello",
		}))
	}

	require.NoError(t, s.ChatMessages.Remove(ctx, "m2"))
	require.NoError(t, s.ChatMessages.Remove(ctx, "m2"))

	all, err := s.ChatMessages.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	require.NoError(t, s.ChatMessages.Clear(ctx))
	n, err := s.ChatMessages.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	boom := errors.New("boom")
	err := s.Transaction(ctx, func(tx *Store) error {
		if err := tx.Checklists.Put(ctx, &models.Checklist{RecordMeta: models.RecordMeta{ID: "c1"}, Name: "Safety"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Checklists.Get(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRekeyAndMarkSynced(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	localID := models.NewLocalID()
	require.True(t, models.IsLocalID(localID))
	require.NoError(t, s.Expenses.Put(ctx, &models.Expense{RecordMeta: models.RecordMeta{ID: localID}, Amount: 12}))

	require.NoError(t, s.Expenses.Rekey(ctx, localID, "101"))
	require.NoError(t, s.MarkSynced(ctx, models.CollectionExpenses, "101"))

	got, err := s.Expenses.Get(ctx, "101")
	require.NoError(t, err)
	assert.True(t, got.Synced)
	assert.Equal(t, 12.0, got.Amount)

	_, err = s.Expenses.Get(ctx, localID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDecodeAcceptsNumericIDs(t *testing.T) {
	s := newStore(t)
	repo, err := s.Repo(models.CollectionEquipment)
	require.NoError(t, err)

	rec, err := repo.Decode([]byte(`{"id": 9, "work_order_id": 42, "name": "Scale", "capacity": 150}`))
	require.NoError(t, err)

	eq := rec.(*models.Equipment)
	assert.Equal(t, "9", eq.ID)
	assert.Equal(t, "42", eq.WorkOrderID)
	assert.Equal(t, 150.0, eq.Capacity)
}

func TestTranslateErrors(t *testing.T) {
	full := fmt.Errorf("insert: %w", sqlite3.Error{Code: sqlite3.ErrFull})
	assert.ErrorIs(t, translate(full), ErrQuotaExceeded)

	_, jsonErr := json.Marshal(map[string]any{"c": make(chan int)})
	require.Error(t, jsonErr)
	assert.ErrorIs(t, translate(fmt.Errorf("sql: converting argument: %w", jsonErr)), ErrSerialization)

	other := errors.New("disk on fire")
	assert.Equal(t, other, translate(other))
}

func TestCounts(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.PutRecord(ctx, &models.CustomerSnapshot{RecordMeta: models.RecordMeta{ID: "7"}, Name: "ACME"}))

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[models.CollectionCustomerSnapshots])
	assert.EqualValues(t, 0, counts[models.CollectionWorkOrders])
	assert.Len(t, counts, len(models.Collections))
}
