package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kolmowatch/internal/alerting"
	"kolmowatch/internal/config"
	"kolmowatch/internal/convert"
	"kolmowatch/internal/kolmo"
	"kolmowatch/internal/provider"
	"kolmowatch/internal/storage"
)

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

type memStore struct {
	snapshots map[string]*kolmo.RawRateSnapshot
	records   map[string]*kolmo.DailyComputeRecord
	rub       map[string]convert.RubTable
	upserts   []string
}

func newMemStore() *memStore {
	return &memStore{
		snapshots: map[string]*kolmo.RawRateSnapshot{},
		records:   map[string]*kolmo.DailyComputeRecord{},
		rub:       map[string]convert.RubTable{},
	}
}

func key(t time.Time) string { return t.Format("2006-01-02") }

func (m *memStore) InsertSnapshot(ctx context.Context, snap *kolmo.RawRateSnapshot) error {
	if _, exists := m.snapshots[key(snap.Date)]; exists {
		return nil // append-only
	}
	m.snapshots[key(snap.Date)] = snap
	return nil
}

func (m *memStore) GetSnapshot(ctx context.Context, date time.Time) (*kolmo.RawRateSnapshot, error) {
	snap, ok := m.snapshots[key(date)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return snap, nil
}

func (m *memStore) UpsertComputeRecord(ctx context.Context, rec *kolmo.DailyComputeRecord) error {
	m.records[key(rec.Date)] = rec
	m.upserts = append(m.upserts, key(rec.Date))
	return nil
}

func (m *memStore) GetComputeRecord(ctx context.Context, date time.Time) (*kolmo.DailyComputeRecord, error) {
	rec, ok := m.records[key(date)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return rec, nil
}

func (m *memStore) LatestComputeRecordBefore(ctx context.Context, date time.Time) (*kolmo.DailyComputeRecord, error) {
	var best *kolmo.DailyComputeRecord
	for _, rec := range m.records {
		if rec.Date.Before(date) && (best == nil || rec.Date.After(best.Date)) {
			best = rec
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}
	return best, nil
}

func (m *memStore) ListComputeRecordsBetween(ctx context.Context, from, to time.Time) ([]*kolmo.DailyComputeRecord, error) {
	out := make([]*kolmo.DailyComputeRecord, 0)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if rec, ok := m.records[key(d)]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memStore) ListRecentComputeRecords(ctx context.Context, limit int) ([]*kolmo.DailyComputeRecord, error) {
	return nil, nil
}

func (m *memStore) CountComputeRecords(ctx context.Context) (int64, error) {
	return int64(len(m.records)), nil
}

func (m *memStore) UpsertRubQuotes(ctx context.Context, date time.Time, table convert.RubTable) error {
	m.rub[key(date)] = table
	return nil
}

func (m *memStore) RubQuotesOn(ctx context.Context, date time.Time) (convert.RubTable, time.Time, error) {
	for d := date; ; d = d.AddDate(0, 0, -1) {
		if table, ok := m.rub[key(d)]; ok {
			return table, d, nil
		}
		if d.Before(date.AddDate(0, 0, -30)) {
			return nil, time.Time{}, storage.ErrNotFound
		}
	}
}

type fakeAcquirer struct {
	results map[string]*provider.Result
	err     error
}

func (f *fakeAcquirer) Fetch(ctx context.Context, date time.Time) (*provider.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	res, ok := f.results[key(date)]
	if !ok {
		return nil, &provider.ExhaustedError{Date: date}
	}
	return res, nil
}

type fakeNotifier struct {
	notes []alerting.Notification
}

func (f *fakeNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	f.notes = append(f.notes, note)
	return nil
}

func snapshotResult(date time.Time, usd, cny string) *provider.Result {
	snap := kolmo.NewSnapshot(date, "frankfurter")
	snap.Quotes["USD"] = kolmo.Quote{Rate: decimal.RequireFromString(usd), Direction: "USD/EUR"}
	snap.Quotes["CNY"] = kolmo.Quote{Rate: decimal.RequireFromString(cny), Direction: "CNY/EUR"}
	return &provider.Result{Snapshot: snap}
}

func testService(store Store, acquirer Acquirer, notifier alerting.Notifier) *Service {
	cfg := &config.Config{}
	cfg.Alerting.Enabled = notifier != nil
	cfg.Alerting.Channels = []string{"telegram"}
	return New(cfg, nil, acquirer, store, notifier, zerolog.Nop())
}

func TestProcessDateFirstDay(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	acquirer := &fakeAcquirer{results: map[string]*provider.Result{
		"2026-01-15": snapshotResult(day("2026-01-15"), "1.163000", "8.110000"),
	}}

	svc := testService(store, acquirer, nil)

	rec, err := svc.ProcessDate(context.Background(), day("2026-01-15"))
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Contains(t, store.snapshots, "2026-01-15")
	assert.Contains(t, store.records, "2026-01-15")
	assert.Equal(t, kolmo.RuleDefaultFirstDay, rec.Reason.Rule)
	assert.Equal(t, kolmo.CoinIOU2, rec.Winner)
	assert.Nil(t, rec.Sequential.VolME4U)
}

func TestProcessDateChainsPreviousDay(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	acquirer := &fakeAcquirer{results: map[string]*provider.Result{
		"2026-01-15": snapshotResult(day("2026-01-15"), "1.163000", "8.110000"),
		"2026-01-16": snapshotResult(day("2026-01-16"), "1.158000", "8.050000"),
	}}

	svc := testService(store, acquirer, nil)

	_, err := svc.ProcessDate(context.Background(), day("2026-01-15"))
	require.NoError(t, err)

	rec, err := svc.ProcessDate(context.Background(), day("2026-01-16"))
	require.NoError(t, err)

	require.NotNil(t, rec.Sequential.VolUOME)
	assert.NotEqual(t, kolmo.RuleDefaultFirstDay, rec.Reason.Rule)
}

func TestProcessDatePersistsRubTable(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	res := snapshotResult(day("2026-01-15"), "1.163000", "8.110000")
	res.Rub = convert.RubTable{
		"USD": {Code: "USD", Nominal: 1, Rate: decimal.RequireFromString("80.5")},
	}
	acquirer := &fakeAcquirer{results: map[string]*provider.Result{"2026-01-15": res}}

	svc := testService(store, acquirer, nil)

	_, err := svc.ProcessDate(context.Background(), day("2026-01-15"))
	require.NoError(t, err)
	assert.Contains(t, store.rub, "2026-01-15")
}

func TestProcessDateAcquisitionFailure(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	svc := testService(store, &fakeAcquirer{err: &provider.ExhaustedError{Date: day("2026-01-15")}}, nil)

	_, err := svc.ProcessDate(context.Background(), day("2026-01-15"))
	require.Error(t, err)

	var exhausted *provider.ExhaustedError
	assert.ErrorAs(t, err, &exhausted)
	assert.Empty(t, store.records, "failed acquisition must not write records")
}

func TestMaybeAlertOnlyOnDegradedState(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{}
	svc := testService(newMemStore(), nil, notifier)

	ok := &kolmo.DailyComputeRecord{Date: day("2026-01-15")}
	ok.Invariant.State = kolmo.StateOK
	svc.maybeAlert(context.Background(), ok, nil, "frankfurter")
	assert.Empty(t, notifier.notes)

	critical := &kolmo.DailyComputeRecord{Date: day("2026-01-16"), Winner: kolmo.CoinME4U}
	critical.Invariant.State = kolmo.StateCritical
	critical.Invariant.Value = decimal.RequireFromString("1.052")
	critical.Invariant.DeviationPct = decimal.RequireFromString("5.2")

	svc.maybeAlert(context.Background(), critical, ok, "cbr")
	require.Len(t, notifier.notes, 1)
	assert.Equal(t, kolmo.StateCritical, notifier.notes[0].State)
	assert.Equal(t, kolmo.StateOK, notifier.notes[0].PreviousState)
	assert.Equal(t, "cbr", notifier.notes[0].Provider)
}

func TestRecomputeRangeSkipsMissingDates(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.snapshots["2026-01-15"] = snapshotResult(day("2026-01-15"), "1.163000", "8.110000").Snapshot
	// 16th missing: a provider outage day.
	store.snapshots["2026-01-17"] = snapshotResult(day("2026-01-17"), "1.158000", "8.050000").Snapshot

	svc := testService(store, nil, nil)

	count, err := svc.RecomputeRange(context.Background(), day("2026-01-15"), day("2026-01-17"))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, []string{"2026-01-15", "2026-01-17"}, store.upserts)

	// The 17th chains off the 15th, the nearest prior record.
	rec := store.records["2026-01-17"]
	require.NotNil(t, rec.Sequential.VolUOME)
}

func TestCoefficientsUsesNearestEarlierRubTable(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	acquirer := &fakeAcquirer{results: map[string]*provider.Result{
		"2026-01-15": snapshotResult(day("2026-01-15"), "1.163000", "8.110000"),
	}}
	svc := testService(store, acquirer, nil)

	_, err := svc.ProcessDate(context.Background(), day("2026-01-15"))
	require.NoError(t, err)

	// Table published two days earlier.
	store.rub["2026-01-13"] = convert.RubTable{
		"USD": {Code: "USD", Nominal: 1, Rate: decimal.RequireFromString("80.5")},
		"EUR": {Code: "EUR", Nominal: 1, Rate: decimal.RequireFromString("93.6")},
		"CNY": {Code: "CNY", Nominal: 1, Rate: decimal.RequireFromString("11.54")},
	}

	set, err := svc.Coefficients(context.Background(), day("2026-01-15"))
	require.NoError(t, err)
	assert.True(t, set.WinnerToRub["IOU2_RUB"].Equal(decimal.RequireFromString("80.5")))
	assert.Len(t, set.WinnerToWinner, 6)
}

func TestCoefficientsWithoutRubTable(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	acquirer := &fakeAcquirer{results: map[string]*provider.Result{
		"2026-01-15": snapshotResult(day("2026-01-15"), "1.163000", "8.110000"),
	}}
	svc := testService(store, acquirer, nil)

	_, err := svc.ProcessDate(context.Background(), day("2026-01-15"))
	require.NoError(t, err)

	set, err := svc.Coefficients(context.Background(), day("2026-01-15"))
	require.NoError(t, err)
	assert.Empty(t, set.RubToWinner)
	assert.NotEmpty(t, set.FiatToWinner)
}

func TestCoefficientsMissingRecord(t *testing.T) {
	t.Parallel()

	svc := testService(newMemStore(), nil, nil)
	_, err := svc.Coefficients(context.Background(), day("2026-01-15"))
	require.True(t, errors.Is(err, storage.ErrNotFound))
}
