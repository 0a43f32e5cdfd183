package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xelth-com/fieldsync/internal/config"
	"github.com/xelth-com/fieldsync/internal/models"
	"github.com/xelth-com/fieldsync/internal/outbox"
	"github.com/xelth-com/fieldsync/internal/session"
	"github.com/xelth-com/fieldsync/internal/store"
	"github.com/xelth-com/fieldsync/internal/testutil"
)

// fakeAPI is a tiny in-memory remote: POST assigns numeric ids, PUT
// replaces, DELETE removes and GET lists a collection.
type fakeAPI struct {
	mu      sync.Mutex
	data    map[string]map[string]map[string]any
	nextID  int
	calls   []string
	headers []http.Header
	status  map[string]int

	block   chan struct{}
	entered chan struct{}

	server *httptest.Server
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	api := &fakeAPI{
		data:   map[string]map[string]map[string]any{},
		nextID: 100,
		status: map[string]int{},
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.HandleFunc("/api/{collection}", api.list).Methods(http.MethodGet)
	r.HandleFunc("/api/{collection}", api.create).Methods(http.MethodPost)
	r.HandleFunc("/api/{collection}/{id}", api.replace).Methods(http.MethodPut)
	r.HandleFunc("/api/{collection}/{id}", api.remove).Methods(http.MethodDelete)

	api.server = httptest.NewServer(api.intercept(r))
	t.Cleanup(api.server.Close)
	return api
}

func (a *fakeAPI) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path

		a.mu.Lock()
		if r.URL.Path != "/health" {
			a.calls = append(a.calls, key)
			a.headers = append(a.headers, r.Header.Clone())
		}
		code, forced := a.status[key]
		block, entered := a.block, a.entered
		a.mu.Unlock()

		if block != nil && r.Method == http.MethodPost {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-block
		}
		if forced {
			http.Error(w, http.StatusText(code), code)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *fakeAPI) seed(collection string, records ...map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.data[collection] == nil {
		a.data[collection] = map[string]map[string]any{}
	}
	for _, rec := range records {
		a.data[collection][rec["id"].(string)] = rec
	}
}

func (a *fakeAPI) fail(method, path string, code int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status[method+" "+path] = code
}

func (a *fakeAPI) recorded() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

func (a *fakeAPI) writes() []string {
	var out []string
	for _, c := range a.recorded() {
		if c[:4] != "GET " {
			out = append(out, c)
		}
	}
	return out
}

func decodeBody(r *http.Request) map[string]any {
	rec := map[string]any{}
	_ = json.NewDecoder(r.Body).Decode(&rec)
	return rec
}

func (a *fakeAPI) list(w http.ResponseWriter, r *http.Request) {
	collection := mux.Vars(r)["collection"]

	a.mu.Lock()
	ids := make([]string, 0, len(a.data[collection]))
	for id := range a.data[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	items := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		items = append(items, a.data[collection][id])
	}
	a.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": items})
}

func (a *fakeAPI) create(w http.ResponseWriter, r *http.Request) {
	collection := mux.Vars(r)["collection"]
	rec := decodeBody(r)

	a.mu.Lock()
	a.nextID++
	id := a.nextID
	rec["id"] = id
	if a.data[collection] == nil {
		a.data[collection] = map[string]map[string]any{}
	}
	a.data[collection][strconv.Itoa(id)] = rec
	a.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"id": id})
}

func (a *fakeAPI) replace(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rec := decodeBody(r)
	rec["id"] = vars["id"]

	a.mu.Lock()
	if a.data[vars["collection"]] == nil {
		a.data[vars["collection"]] = map[string]map[string]any{}
	}
	a.data[vars["collection"]][vars["id"]] = rec
	a.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rec)
}

func (a *fakeAPI) remove(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	a.mu.Lock()
	delete(a.data[vars["collection"]], vars["id"])
	a.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

type harness struct {
	engine  *SyncEngine
	store   *store.Store
	queue   *outbox.Queue
	mutator *outbox.Mutator
}

func testConfig(collections ...string) *config.SyncConfig {
	cfg := config.DefaultSyncConfig()
	cfg.SyncTimeout = 10
	// failed writes are retried on the next pass unless a test opts in
	cfg.RetryBaseDelay = 0
	keep := map[string]config.CollectionSyncConfig{}
	for _, c := range collections {
		keep[c] = cfg.Collections[c]
	}
	cfg.Collections = keep
	return cfg
}

func newHarness(t *testing.T, api *fakeAPI, cfg *config.SyncConfig, opts ...Option) *harness {
	t.Helper()
	db := testutil.NewDB(t)
	st := store.New(db)
	sess := session.New("acme", "tablet-1", session.StaticToken("secret"))
	q := outbox.NewQueue(db, sess)
	remote := NewHTTPRemote(api.server.URL, sess, 5*time.Second)

	return &harness{
		engine:  NewSyncEngine(st, q, remote, sess, cfg, opts...),
		store:   st,
		queue:   q,
		mutator: outbox.NewMutator(st, q, nil, outbox.PathsFromConfig(cfg), nil),
	}
}

func TestFullSyncReplaysInOrderAndRekeys(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(t)
	api.seed("work-orders", map[string]any{"id": "42", "title": "Calibrate scale", "status": "scheduled"})
	h := newHarness(t, api, testConfig("expenses", "work_orders"))

	exp := &models.Expense{WorkOrderID: "42", Category: "fuel", Amount: 40, Currency: "EUR"}
	_, err := h.mutator.Create(ctx, exp)
	require.NoError(t, err)
	localID := exp.ID

	exp.Amount = 45
	_, err = h.mutator.Update(ctx, exp)
	require.NoError(t, err)

	result := h.engine.FullSync(ctx)
	assert.True(t, result.Succeeded, "errors: %+v", result.Errors)
	assert.Equal(t, 2, result.Pushed)
	assert.Equal(t, 1, result.Pulled)
	assert.Zero(t, result.Pending)
	assert.Equal(t, TriggerUser, result.Trigger)

	// The update followed the create and used the server id
	assert.Equal(t, []string{"POST /api/expenses", "PUT /api/expenses/101"}, api.writes())

	_, err = h.store.Expenses.Get(ctx, localID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	stored, err := h.store.Expenses.Get(ctx, "101")
	require.NoError(t, err)
	assert.True(t, stored.Synced)
	assert.Equal(t, 45.0, stored.Amount)

	wo, err := h.store.WorkOrders.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "Calibrate scale", wo.Title)
	assert.True(t, wo.Synced)

	// Nothing changed since; a second pass is a no-op
	second := h.engine.FullSync(ctx)
	assert.True(t, second.Succeeded)
	assert.Zero(t, second.Pushed)
	assert.Zero(t, second.Pulled)
	assert.Len(t, api.writes(), 2)
}

func TestFullSyncSendsIdempotencyKeyAndCredentials(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(t)
	h := newHarness(t, api, testConfig())

	entry, err := h.queue.Enqueue(ctx, "POST", "/api/expenses", map[string]any{"amount": 12})
	require.NoError(t, err)

	result := h.engine.FullSync(ctx)
	require.Equal(t, 1, result.Pushed)

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.headers, 1)
	assert.Equal(t, entry.IdempotencyKey, api.headers[0].Get("Idempotency-Key"))
	assert.Equal(t, "Bearer secret", api.headers[0].Get("Authorization"))
	assert.Equal(t, "tablet-1", api.headers[0].Get("X-Device-ID"))
}

func TestFullSyncPermanentAndTransientFailures(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(t)
	api.fail(http.MethodPost, "/api/rejected", http.StatusUnprocessableEntity)
	api.fail(http.MethodPost, "/api/flaky", http.StatusServiceUnavailable)
	h := newHarness(t, api, testConfig())

	for _, p := range []string{"/api/rejected", "/api/expenses", "/api/flaky", "/api/expenses"} {
		_, err := h.queue.Enqueue(ctx, "POST", p, map[string]any{"amount": 1})
		require.NoError(t, err)
	}

	result := h.engine.FullSync(ctx)
	assert.False(t, result.Succeeded)
	assert.Equal(t, 1, result.Pushed)
	assert.EqualValues(t, 2, result.Pending)
	require.Len(t, result.Errors, 2)

	assert.Equal(t, KindPermanent, result.Errors[0].Kind)
	assert.Equal(t, http.StatusUnprocessableEntity, result.Errors[0].StatusCode)
	assert.Equal(t, KindTransient, result.Errors[1].Kind)
	assert.Equal(t, "/api/flaky", result.Errors[1].Path)

	// The push stopped at the transient failure
	assert.Equal(t, []string{"POST /api/rejected", "POST /api/expenses", "POST /api/flaky"}, api.writes())

	entries, err := h.queue.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "/api/flaky", entries[0].Path)
	assert.Equal(t, 1, entries[0].RetryCount)
	require.NotNil(t, entries[0].LastError)
	assert.Contains(t, *entries[0].LastError, "503")

	meta, err := h.engine.LoadMetadata(ctx)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "partial", meta.LastSyncStatus)
	assert.Equal(t, 2, meta.ErrorCount)

	// Once the remote recovers the rest goes through
	api.mu.Lock()
	delete(api.status, "POST /api/flaky")
	api.mu.Unlock()
	result = h.engine.FullSync(ctx)
	assert.True(t, result.Succeeded)
	assert.Equal(t, 2, result.Pushed)
	assert.Zero(t, result.Pending)
}

func TestFullSyncIsSingleFlight(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(t)
	api.block = make(chan struct{})
	api.entered = make(chan struct{}, 1)
	h := newHarness(t, api, testConfig())

	_, err := h.queue.Enqueue(ctx, "POST", "/api/expenses", map[string]any{"amount": 1})
	require.NoError(t, err)

	var passes int
	var mu sync.Mutex
	h.engine.OnSyncComplete(func(SyncResult) {
		mu.Lock()
		passes++
		mu.Unlock()
	})

	results := make([]SyncResult, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = h.engine.FullSync(ctx)
	}()

	select {
	case <-api.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first pass never reached the remote")
	}
	assert.True(t, h.engine.GetSyncStatus(ctx).InProgress)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = h.engine.FullSync(ctx)
	}()
	time.Sleep(100 * time.Millisecond)
	close(api.block)
	wg.Wait()

	assert.Equal(t, results[0], results[1])
	assert.Equal(t, 1, results[0].Pushed)
	assert.Len(t, api.writes(), 1)
	mu.Lock()
	assert.Equal(t, 1, passes)
	mu.Unlock()
}

func TestPullKeepsPendingLocalAndRecordsConflict(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(t)
	api.seed("work-orders",
		map[string]any{"id": "42", "title": "Remote title", "status": "scheduled"},
		map[string]any{"id": "43", "title": "Other job", "status": "pending"},
	)
	api.fail(http.MethodPut, "/api/work-orders/42", http.StatusBadGateway)
	h := newHarness(t, api, testConfig("work_orders"))

	wo := &models.WorkOrder{RecordMeta: models.RecordMeta{ID: "42", Synced: true}, Title: "Remote title", Status: models.WorkOrderStatusScheduled}
	require.NoError(t, h.store.WorkOrders.Put(ctx, wo))
	wo.Status = models.WorkOrderStatusCompleted
	_, err := h.mutator.Update(ctx, wo)
	require.NoError(t, err)

	result := h.engine.FullSync(ctx)
	assert.Equal(t, 1, result.Conflicts)
	assert.Equal(t, 1, result.Pulled)
	assert.EqualValues(t, 1, result.Pending)

	local, err := h.store.WorkOrders.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, models.WorkOrderStatusCompleted, local.Status)
	assert.False(t, local.Synced)

	_, err = h.store.WorkOrders.Get(ctx, "43")
	require.NoError(t, err)

	open, err := h.engine.OpenConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "42", open[0].EntityID)
	assert.Equal(t, ResolutionLocalPending, open[0].Resolution)

	// A repeated pass refreshes the same conflict instead of adding one
	h.engine.FullSync(ctx)
	open, err = h.engine.OpenConflicts(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	// Acknowledging the local write resolves it
	api.mu.Lock()
	delete(api.status, "PUT /api/work-orders/42")
	api.mu.Unlock()
	result = h.engine.FullSync(ctx)
	assert.True(t, result.Succeeded, "errors: %+v", result.Errors)
	open, err = h.engine.OpenConflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	local, err = h.store.WorkOrders.Get(ctx, "42")
	require.NoError(t, err)
	assert.True(t, local.Synced)
	assert.Equal(t, models.WorkOrderStatusCompleted, local.Status)
}

func TestPullFailureDoesNotStopOtherCollections(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(t)
	api.seed("expenses", map[string]any{"id": "7", "category": "parking", "amount": 3.5})
	api.fail(http.MethodGet, "/api/work-orders", http.StatusInternalServerError)
	h := newHarness(t, api, testConfig("work_orders", "expenses"))

	result := h.engine.FullSync(ctx)
	assert.False(t, result.Succeeded)
	assert.Equal(t, 1, result.Pulled)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, PhasePull, result.Errors[0].Phase)
	assert.Equal(t, "work_orders", result.Errors[0].Collection)

	exp, err := h.store.Expenses.Get(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, 3.5, exp.Amount)
}

func TestFullSyncOffline(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(t)
	cm := NewConnectionManager("", 0, nil)
	h := newHarness(t, api, testConfig("expenses"), WithConnectionManager(cm))

	_, err := h.mutator.Create(ctx, &models.Expense{Amount: 9})
	require.NoError(t, err)

	called := false
	h.engine.OnSyncComplete(func(SyncResult) { called = true })

	result := h.engine.FullSync(ctx)
	assert.True(t, result.Offline)
	assert.False(t, result.Succeeded)
	assert.EqualValues(t, 1, result.Pending)
	assert.Empty(t, api.recorded())
	assert.False(t, called)

	cm.SetOnline(true)
	select {
	case <-cm.Reconnected():
	case <-time.After(time.Second):
		t.Fatal("no reconnect notification")
	}
	result = h.engine.FullSync(ctx)
	assert.False(t, result.Offline)
	assert.Equal(t, 1, result.Pushed)
}

func TestObserversRunInOrderAndUnsubscribe(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(t)
	h := newHarness(t, api, testConfig())

	var order []string
	h.engine.OnSyncComplete(func(SyncResult) { order = append(order, "first") })
	h.engine.OnSyncComplete(func(SyncResult) { panic("boom") })
	unsubscribe := h.engine.OnSyncComplete(func(SyncResult) { order = append(order, "third") })
	h.engine.OnSyncComplete(func(r SyncResult) { order = append(order, "fourth") })

	h.engine.FullSync(ctx)
	assert.Equal(t, []string{"first", "third", "fourth"}, order)

	unsubscribe()
	unsubscribe()
	order = nil
	h.engine.FullSync(ctx)
	assert.Equal(t, []string{"first", "fourth"}, order)
}

func TestStartRunsStartupAndTriggeredSyncs(t *testing.T) {
	api := newFakeAPI(t)
	trigger := NewChanTrigger()
	cfg := testConfig()
	cfg.AutoSyncEnabled = false
	cfg.SyncOnStartup = true
	h := newHarness(t, api, cfg, WithBackgroundTrigger(trigger))

	results := make(chan SyncResult, 4)
	h.engine.OnSyncComplete(func(r SyncResult) { results <- r })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.engine.Start(ctx))
	defer h.engine.Stop()
	assert.Error(t, h.engine.Start(ctx))

	next := func() SyncResult {
		select {
		case r := <-results:
			return r
		case <-time.After(5 * time.Second):
			t.Fatal("no sync pass")
			return SyncResult{}
		}
	}
	assert.Equal(t, TriggerStartup, next().Trigger)

	trigger.Fire()
	assert.Equal(t, TriggerBackground, next().Trigger)

	status := h.engine.GetSyncStatus(context.Background())
	assert.True(t, status.Running)
	assert.True(t, status.Online)
	require.NotNil(t, status.LastResult)
	require.NotNil(t, status.LastSyncAt)
}

func TestStartDisabled(t *testing.T) {
	api := newFakeAPI(t)
	cfg := testConfig()
	cfg.Enabled = false
	h := newHarness(t, api, cfg)

	require.NoError(t, h.engine.Start(context.Background()))
	assert.False(t, h.engine.GetSyncStatus(context.Background()).Running)
	h.engine.Stop()
}

func TestEngineRestartsAfterStop(t *testing.T) {
	api := newFakeAPI(t)
	cfg := testConfig()
	cfg.AutoSyncEnabled = false
	cfg.SyncOnStartup = false
	cm := NewConnectionManager(api.server.URL, time.Hour, nil)
	h := newHarness(t, api, cfg, WithConnectionManager(cm))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, h.engine.Start(ctx))
		assert.True(t, cm.IsOnline())
		assert.True(t, h.engine.GetSyncStatus(ctx).Running)
		assert.NotPanics(t, h.engine.Stop)
		assert.False(t, h.engine.GetSyncStatus(ctx).Running)
	}

	assert.NotPanics(t, func() {
		cm.Start(ctx)
		cm.Stop()
		cm.Stop()
		cm.Start(ctx)
		cm.Stop()
	})
}

func TestTransientFailureBacksOff(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(t)
	api.fail(http.MethodPost, "/api/flaky", http.StatusServiceUnavailable)
	cfg := testConfig("work_orders")
	cfg.RetryBaseDelay = 60
	cfg.RetryMaxDelay = 3600

	now := time.Now()
	h := newHarness(t, api, cfg, WithClock(func() time.Time { return now }))

	_, err := h.queue.Enqueue(ctx, "POST", "/api/flaky", map[string]any{"amount": 1})
	require.NoError(t, err)

	result := h.engine.FullSync(ctx)
	require.Len(t, result.Errors, 1)
	assert.Nil(t, result.RetryAt)
	assert.Equal(t, []string{"POST /api/flaky"}, api.writes())

	api.mu.Lock()
	delete(api.status, "POST /api/flaky")
	api.mu.Unlock()

	// Still inside the window: the entry waits and the pull still runs
	pulls := len(api.recorded())
	result = h.engine.FullSync(ctx)
	assert.Empty(t, result.Errors)
	assert.Zero(t, result.Pushed)
	assert.EqualValues(t, 1, result.Pending)
	require.NotNil(t, result.RetryAt)
	assert.WithinDuration(t, now.Add(2*time.Minute), *result.RetryAt, 5*time.Second)
	assert.Equal(t, []string{"POST /api/flaky"}, api.writes())
	assert.Contains(t, api.recorded()[pulls:], "GET /api/work-orders")

	now = now.Add(3 * time.Minute)
	result = h.engine.FullSync(ctx)
	assert.True(t, result.Succeeded)
	assert.Equal(t, 1, result.Pushed)
	assert.Nil(t, result.RetryAt)
	assert.Zero(t, result.Pending)
	assert.Equal(t, []string{"POST /api/flaky", "POST /api/flaky"}, api.writes())
}
