package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/driver-assignment/internal/availability"
	"github.com/example/driver-assignment/internal/clock"
	"github.com/example/driver-assignment/internal/geo"
	"github.com/example/driver-assignment/internal/models"
	"github.com/example/driver-assignment/internal/perf"
	"github.com/example/driver-assignment/internal/queue"
	"github.com/example/driver-assignment/internal/selector"
	"github.com/example/driver-assignment/internal/storage"
)

type captureNotifier struct {
	mu     sync.Mutex
	offers []models.JobOffer
}

func (c *captureNotifier) Notify(driverID string, offer models.JobOffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offers = append(c.offers, offer)
	return nil
}

func (c *captureNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.offers)
}

type engine struct {
	sched    *Scheduler
	store    *storage.MemoryStore
	queue    *queue.Memory
	registry *availability.Registry
	index    *geo.MemoryIndex
	clock    *clock.Fake
	notifier *captureNotifier
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := storage.NewMemoryStore()
	q := queue.NewMemory()
	reg := availability.NewRegistry(clk)
	idx := geo.NewMemoryIndex()
	sel := selector.New(reg, store, idx, nil)
	tracker := perf.NewTracker(store, perf.DefaultAlpha, nil)
	n := &captureNotifier{}
	return &engine{
		sched:    New(store, q, sel, reg, tracker, n, clk, nil),
		store:    store,
		queue:    q,
		registry: reg,
		index:    idx,
		clock:    clk,
		notifier: n,
	}
}

func (e *engine) addOnlineDriver(t *testing.T, id string, loc models.Coord) {
	t.Helper()
	ctx := context.Background()
	d := &models.Driver{ID: id, Loc: loc, Capability: models.CapBoth, Rating: 4.5, CompletionRate: 0.9}
	if err := e.store.SaveDriver(ctx, d); err != nil {
		t.Fatal(err)
	}
	if err := e.index.Upsert(ctx, id, loc); err != nil {
		t.Fatal(err)
	}
	e.registry.Register(id, models.CapBoth)
	if err := e.registry.SetState(id, models.DriverOnline); err != nil {
		t.Fatal(err)
	}
}

func (e *engine) createJob(t *testing.T) *models.Job {
	t.Helper()
	job := &models.Job{ID: "j1", Type: models.JobDelivery, Pickup: models.Coord{Lat: 0, Lon: 0}, Value: 25}
	if err := e.sched.CreateJob(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	return job
}

func (e *engine) pendingFor(t *testing.T, jobID string) []*models.Assignment {
	t.Helper()
	as, err := e.store.PendingByJob(context.Background(), jobID)
	if err != nil {
		t.Fatal(err)
	}
	return as
}

func assignmentFor(t *testing.T, as []*models.Assignment, driverID string) *models.Assignment {
	t.Helper()
	for _, a := range as {
		if a.DriverID == driverID {
			return a
		}
	}
	t.Fatalf("no assignment for driver %s", driverID)
	return nil
}

func TestCreateJobOpensCandidateRound(t *testing.T) {
	e := newEngine(t)
	e.addOnlineDriver(t, "near", models.Coord{Lat: 0.01, Lon: 0})
	e.addOnlineDriver(t, "mid", models.Coord{Lat: 0.03, Lon: 0})
	e.addOnlineDriver(t, "edge", models.Coord{Lat: 0.05, Lon: 0})
	job := e.createJob(t)

	as := e.pendingFor(t, job.ID)
	if len(as) != 3 {
		t.Fatalf("expected 3 assignments, got %d", len(as))
	}
	// best candidate carries the highest priority
	best := assignmentFor(t, as, "near")
	if best.Priority != 3 {
		t.Fatalf("expected priority 3 for best candidate, got %d", best.Priority)
	}
	worst := assignmentFor(t, as, "edge")
	if worst.Priority != 1 {
		t.Fatalf("expected priority 1 for worst candidate, got %d", worst.Priority)
	}
	wantExpiry := e.clock.Now().Add(30 * time.Second)
	if !best.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expected expiry %v, got %v", wantExpiry, best.ExpiresAt)
	}
	if e.notifier.count() != 3 {
		t.Fatalf("expected 3 offers pushed, got %d", e.notifier.count())
	}
}

func TestCreateJobWithNoCandidatesRequeues(t *testing.T) {
	e := newEngine(t)
	job := e.createJob(t)

	got, err := e.store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.JobSearching {
		t.Fatalf("job should stay SEARCHING, got %s", got.Status)
	}
	entry, ok := e.queue.Entry(job.ID)
	if !ok {
		t.Fatal("expected a queue entry")
	}
	if entry.Reason != models.ReasonNoCandidates {
		t.Fatalf("expected NO_CANDIDATES, got %s", entry.Reason)
	}
	if len(entry.ExcludeDriverIDs) != 0 {
		t.Fatalf("no-candidate requeue must not exclude anyone, got %v", entry.ExcludeDriverIDs)
	}
}

func TestAcceptCancelsSiblingsAndMarksBusy(t *testing.T) {
	e := newEngine(t)
	e.addOnlineDriver(t, "a", models.Coord{Lat: 0.01, Lon: 0})
	e.addOnlineDriver(t, "b", models.Coord{Lat: 0.02, Lon: 0})
	e.addOnlineDriver(t, "c", models.Coord{Lat: 0.03, Lon: 0})
	job := e.createJob(t)
	ctx := context.Background()

	winner := assignmentFor(t, e.pendingFor(t, job.ID), "b")
	if err := e.sched.Respond(ctx, winner.ID, models.ResponseAccepted); err != nil {
		t.Fatalf("accept: %v", err)
	}

	got, _ := e.store.GetJob(ctx, job.ID)
	if got.Status != models.JobMatched || got.DriverID != "b" {
		t.Fatalf("unexpected job %+v", got)
	}
	if e.registry.State("b") != models.DriverBusy {
		t.Fatalf("winner should be BUSY, got %s", e.registry.State("b"))
	}
	a, _ := e.store.GetAssignment(ctx, winner.ID)
	if a.Status != models.AssignmentAccepted || a.RespondedAt == nil {
		t.Fatalf("unexpected assignment %+v", a)
	}
	if left := e.pendingFor(t, job.ID); len(left) != 0 {
		t.Fatalf("siblings should be cancelled, %d still pending", len(left))
	}
	if _, ok := e.queue.Entry(job.ID); ok {
		t.Fatal("queue entry should be suppressed on accept")
	}
	// the winner's acceptance moved their rolling metrics
	d, _ := e.store.GetDriver(ctx, "b")
	if d.AcceptanceRate <= 0 {
		t.Fatalf("acceptance rate should rise, got %f", d.AcceptanceRate)
	}
}

func TestReplayedResponseIsStale(t *testing.T) {
	e := newEngine(t)
	e.addOnlineDriver(t, "a", models.Coord{Lat: 0.01, Lon: 0})
	job := e.createJob(t)
	ctx := context.Background()

	a := e.pendingFor(t, job.ID)[0]
	if err := e.sched.Respond(ctx, a.ID, models.ResponseAccepted); err != nil {
		t.Fatal(err)
	}
	before, _ := e.store.GetDriver(ctx, "a")
	if err := e.sched.Respond(ctx, a.ID, models.ResponseAccepted); !errors.Is(err, models.ErrStaleAssignment) {
		t.Fatalf("replay: expected ErrStaleAssignment, got %v", err)
	}
	after, _ := e.store.GetDriver(ctx, "a")
	if before.AcceptanceRate != after.AcceptanceRate {
		t.Fatal("replay must not move metrics")
	}
}

// A sibling answering after the winner loses cleanly.
func TestLosingSiblingAcceptIsStale(t *testing.T) {
	e := newEngine(t)
	e.addOnlineDriver(t, "a", models.Coord{Lat: 0.01, Lon: 0})
	e.addOnlineDriver(t, "b", models.Coord{Lat: 0.02, Lon: 0})
	job := e.createJob(t)
	ctx := context.Background()

	as := e.pendingFor(t, job.ID)
	winner := assignmentFor(t, as, "a")
	loser := assignmentFor(t, as, "b")
	if err := e.sched.Respond(ctx, winner.ID, models.ResponseAccepted); err != nil {
		t.Fatal(err)
	}
	if err := e.sched.Respond(ctx, loser.ID, models.ResponseAccepted); !errors.Is(err, models.ErrStaleAssignment) {
		t.Fatalf("expected ErrStaleAssignment, got %v", err)
	}
	if e.registry.State("b") != models.DriverOnline {
		t.Fatalf("losing driver should stay ONLINE, got %s", e.registry.State("b"))
	}
}

// A driver already on a job cannot accept a second one.
func TestAcceptWhileBusyFailsFast(t *testing.T) {
	e := newEngine(t)
	e.addOnlineDriver(t, "a", models.Coord{Lat: 0.01, Lon: 0})
	job1 := e.createJob(t)
	ctx := context.Background()

	first := e.pendingFor(t, job1.ID)[0]
	if err := e.sched.Respond(ctx, first.ID, models.ResponseAccepted); err != nil {
		t.Fatal(err)
	}

	// second job offered before the registry caught up would still be
	// blocked at accept time; fabricate the offer directly
	job2 := &models.Job{ID: "j2", Type: models.JobDelivery, Status: models.JobSearching, Pickup: models.Coord{Lat: 0, Lon: 0}}
	if err := e.store.SaveJob(ctx, job2); err != nil {
		t.Fatal(err)
	}
	stale := &models.Assignment{
		ID: "a-stale", JobID: "j2", DriverID: "a", Status: models.AssignmentPending,
		Priority: 1, CreatedAt: e.clock.Now(), ExpiresAt: e.clock.Now().Add(30 * time.Second),
	}
	if err := e.store.CreateAssignments(ctx, []*models.Assignment{stale}); err != nil {
		t.Fatal(err)
	}

	if err := e.sched.Respond(ctx, stale.ID, models.ResponseAccepted); !errors.Is(err, models.ErrDriverBusy) {
		t.Fatalf("expected ErrDriverBusy, got %v", err)
	}
	got, _ := e.store.GetJob(ctx, "j2")
	if got.Status != models.JobSearching {
		t.Fatalf("second job must stay SEARCHING, got %s", got.Status)
	}
}

func TestRejectRequeuesWithExclusion(t *testing.T) {
	e := newEngine(t)
	e.addOnlineDriver(t, "a", models.Coord{Lat: 0.01, Lon: 0})
	job := e.createJob(t)
	ctx := context.Background()

	a := e.pendingFor(t, job.ID)[0]
	if err := e.sched.Respond(ctx, a.ID, models.ResponseRejected); err != nil {
		t.Fatal(err)
	}

	got, _ := e.store.GetAssignment(ctx, a.ID)
	if got.Status != models.AssignmentRejected {
		t.Fatalf("expected REJECTED, got %s", got.Status)
	}
	j, _ := e.store.GetJob(ctx, job.ID)
	if j.Status != models.JobSearching {
		t.Fatalf("job should stay SEARCHING, got %s", j.Status)
	}
	entry, ok := e.queue.Entry(job.ID)
	if !ok {
		t.Fatal("expected a queue entry after reject")
	}
	if entry.Reason != models.ReasonRejected {
		t.Fatalf("expected REJECTED reason, got %s", entry.Reason)
	}
	if len(entry.ExcludeDriverIDs) != 1 || entry.ExcludeDriverIDs[0] != "a" {
		t.Fatalf("rejecting driver should be excluded, got %v", entry.ExcludeDriverIDs)
	}
	d, _ := e.store.GetDriver(ctx, "a")
	if d.RejectionRate <= 0 {
		t.Fatalf("rejection rate should rise, got %f", d.RejectionRate)
	}
}

func TestRespondAtDeadlineIsStale(t *testing.T) {
	e := newEngine(t)
	e.addOnlineDriver(t, "a", models.Coord{Lat: 0.01, Lon: 0})
	job := e.createJob(t)

	a := e.pendingFor(t, job.ID)[0]
	// a response at exactly expiresAt is already late
	e.clock.Set(a.ExpiresAt)
	if err := e.sched.Respond(context.Background(), a.ID, models.ResponseAccepted); !errors.Is(err, models.ErrStaleAssignment) {
		t.Fatalf("expected ErrStaleAssignment at boundary, got %v", err)
	}
	if e.registry.State("a") != models.DriverOnline {
		t.Fatalf("driver should stay ONLINE, got %s", e.registry.State("a"))
	}
}

func TestSweepExpiresAndRequeues(t *testing.T) {
	e := newEngine(t)
	e.addOnlineDriver(t, "a", models.Coord{Lat: 0.01, Lon: 0})
	e.addOnlineDriver(t, "b", models.Coord{Lat: 0.02, Lon: 0})
	job := e.createJob(t)
	ctx := context.Background()

	e.clock.Advance(31 * time.Second)
	if err := e.sched.Sweep(ctx); err != nil {
		t.Fatal(err)
	}

	if left := e.pendingFor(t, job.ID); len(left) != 0 {
		t.Fatalf("all offers should be expired, %d still pending", len(left))
	}
	entry, ok := e.queue.Entry(job.ID)
	if !ok {
		t.Fatal("expected a queue entry after expiry")
	}
	if entry.Reason != models.ReasonExpired {
		t.Fatalf("expected EXPIRED reason, got %s", entry.Reason)
	}
	if len(entry.ExcludeDriverIDs) != 2 {
		t.Fatalf("both timed-out drivers should be excluded, got %v", entry.ExcludeDriverIDs)
	}
	// expiry dings acceptance but not response time
	d, _ := e.store.GetDriver(ctx, "a")
	if d.RejectionRate <= 0 {
		t.Fatalf("expiry should raise rejection rate, got %f", d.RejectionRate)
	}
	if d.AvgResponseSec != 0 {
		t.Fatalf("expiry must not move avg response, got %f", d.AvgResponseSec)
	}
	// a second sweep finds nothing new
	if err := e.sched.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	again, _ := e.queue.Entry(job.ID)
	if again.RetryCount != entry.RetryCount {
		t.Fatal("idempotent sweep must not touch the queue entry")
	}
}

// A lower-priority offer expiring while the best one is still pending must
// not requeue the job.
func TestSweepKeepsJobWhileBestOfferPending(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	if err := e.store.SaveJob(ctx, &models.Job{ID: "j1", Status: models.JobSearching}); err != nil {
		t.Fatal(err)
	}
	e.addOnlineDriver(t, "low", models.Coord{})
	e.addOnlineDriver(t, "high", models.Coord{})
	now := e.clock.Now()
	as := []*models.Assignment{
		{ID: "a-high", JobID: "j1", DriverID: "high", Status: models.AssignmentPending, Priority: 2, CreatedAt: now, ExpiresAt: now.Add(time.Minute)},
		{ID: "a-low", JobID: "j1", DriverID: "low", Status: models.AssignmentPending, Priority: 1, CreatedAt: now, ExpiresAt: now.Add(10 * time.Second)},
	}
	if err := e.store.CreateAssignments(ctx, as); err != nil {
		t.Fatal(err)
	}

	e.clock.Advance(20 * time.Second)
	if err := e.sched.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	lowA, _ := e.store.GetAssignment(ctx, "a-low")
	if lowA.Status != models.AssignmentExpired {
		t.Fatalf("low offer should expire, got %s", lowA.Status)
	}
	if _, ok := e.queue.Entry("j1"); ok {
		t.Fatal("job must not requeue while a higher-priority offer is live")
	}
}

// Full reassignment round: expiry, due processing, retry bump, fresh
// candidates excluding last round's drivers.
func TestReassignmentRoundExcludesLastRound(t *testing.T) {
	e := newEngine(t)
	e.addOnlineDriver(t, "slow", models.Coord{Lat: 0.01, Lon: 0})
	job := e.createJob(t)
	ctx := context.Background()

	e.clock.Advance(31 * time.Second)
	if err := e.sched.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	// a fresh driver comes online before the retry fires
	e.addOnlineDriver(t, "fresh", models.Coord{Lat: 0.02, Lon: 0})

	e.clock.Advance(11 * time.Second)
	if err := e.sched.ProcessDue(ctx); err != nil {
		t.Fatal(err)
	}

	as := e.pendingFor(t, job.ID)
	if len(as) != 1 || as[0].DriverID != "fresh" {
		t.Fatalf("expected one fresh offer, got %v", as)
	}
	entry, ok := e.queue.Entry(job.ID)
	if !ok {
		t.Fatal("queue entry should persist across rounds")
	}
	if entry.RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", entry.RetryCount)
	}
}

// flakyStore fails a fixed number of reads before delegating, standing in
// for a database hiccup.
type flakyStore struct {
	storage.Store
	failJobReads    int
	failConfigReads int
}

func (f *flakyStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	if f.failJobReads > 0 {
		f.failJobReads--
		return nil, errors.New("connection reset")
	}
	return f.Store.GetJob(ctx, id)
}

func (f *flakyStore) ActiveConfig(ctx context.Context) (*models.AssignmentConfig, error) {
	if f.failConfigReads > 0 {
		f.failConfigReads--
		return nil, errors.New("connection reset")
	}
	return f.Store.ActiveConfig(ctx)
}

func TestTransientJobReadKeepsQueueEntry(t *testing.T) {
	e := newEngine(t)
	job := e.createJob(t)
	ctx := context.Background()
	e.sched.Store = &flakyStore{Store: e.store, failJobReads: 1}

	e.clock.Advance(11 * time.Second)
	if err := e.sched.ProcessDue(ctx); err != nil {
		t.Fatal(err)
	}

	entry, ok := e.queue.Entry(job.ID)
	if !ok {
		t.Fatal("transient job read error must not drop the entry")
	}
	if entry.Status != models.QueuePending {
		t.Fatalf("entry should be back to PENDING, got %s", entry.Status)
	}
	if entry.RetryCount != 0 {
		t.Fatalf("failed tick should not count as a retry, got %d", entry.RetryCount)
	}

	// the store recovers and the next tick runs the round
	e.addOnlineDriver(t, "fresh", models.Coord{Lat: 0.01, Lon: 0})
	if err := e.sched.ProcessDue(ctx); err != nil {
		t.Fatal(err)
	}
	as := e.pendingFor(t, job.ID)
	if len(as) != 1 || as[0].DriverID != "fresh" {
		t.Fatalf("expected one offer after recovery, got %v", as)
	}
}

func TestTransientConfigReadKeepsQueueEntry(t *testing.T) {
	e := newEngine(t)
	job := e.createJob(t)
	ctx := context.Background()
	e.sched.Store = &flakyStore{Store: e.store, failConfigReads: 1}

	e.clock.Advance(11 * time.Second)
	if err := e.sched.ProcessDue(ctx); err != nil {
		t.Fatal(err)
	}

	entry, ok := e.queue.Entry(job.ID)
	if !ok {
		t.Fatal("transient config read error must not drop the entry")
	}
	if entry.Status != models.QueuePending {
		t.Fatalf("entry should be back to PENDING, got %s", entry.Status)
	}

	e.addOnlineDriver(t, "fresh", models.Coord{Lat: 0.01, Lon: 0})
	if err := e.sched.ProcessDue(ctx); err != nil {
		t.Fatal(err)
	}
	as := e.pendingFor(t, job.ID)
	if len(as) != 1 || as[0].DriverID != "fresh" {
		t.Fatalf("expected one offer after recovery, got %v", as)
	}
}

func TestVanishedJobSuppressesQueueEntry(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	if err := e.queue.Enqueue(ctx, "ghost", models.ReasonExpired, nil, e.clock.Now()); err != nil {
		t.Fatal(err)
	}
	if err := e.sched.ProcessDue(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := e.queue.Entry("ghost"); ok {
		t.Fatal("entry for an unknown job should be suppressed")
	}
}

func TestBusyDriverExcludedFromNextDispatch(t *testing.T) {
	e := newEngine(t)
	e.addOnlineDriver(t, "taken", models.Coord{Lat: 0.01, Lon: 0})
	e.addOnlineDriver(t, "free", models.Coord{Lat: 0.02, Lon: 0})
	job := e.createJob(t)
	ctx := context.Background()

	a := assignmentFor(t, e.pendingFor(t, job.ID), "taken")
	if err := e.sched.Respond(ctx, a.ID, models.ResponseAccepted); err != nil {
		t.Fatal(err)
	}

	second := &models.Job{ID: "j2", Type: models.JobDelivery, Pickup: models.Coord{Lat: 0, Lon: 0}, Value: 25}
	if err := e.sched.CreateJob(ctx, second); err != nil {
		t.Fatal(err)
	}

	as := e.pendingFor(t, second.ID)
	if len(as) != 1 {
		t.Fatalf("expected exactly one candidate for the second job, got %d", len(as))
	}
	if as[0].DriverID != "free" {
		t.Fatalf("busy driver must not be offered the second job, got %s", as[0].DriverID)
	}
}

func TestRetryCapExhaustsJob(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	cfg := models.DefaultConfig()
	cfg.ID = "tight"
	cfg.Name = "tight"
	cfg.MaxRetries = 2
	cfg.ReassignmentDelaySec = 1
	if err := e.store.SaveConfig(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	if err := e.store.Activate(ctx, "tight"); err != nil {
		t.Fatal(err)
	}

	// no drivers at all: every round requeues
	job := e.createJob(t)
	for i := 0; i < 2; i++ {
		e.clock.Advance(2 * time.Second)
		if err := e.sched.ProcessDue(ctx); err != nil {
			t.Fatal(err)
		}
	}
	// third pass trips the cap
	e.clock.Advance(2 * time.Second)
	if err := e.sched.ProcessDue(ctx); err != nil {
		t.Fatal(err)
	}

	got, _ := e.store.GetJob(ctx, job.ID)
	if got.Status != models.JobNoDriverFound {
		t.Fatalf("expected NO_DRIVER_FOUND, got %s", got.Status)
	}
	entry, ok := e.queue.Entry(job.ID)
	if !ok || entry.Status != models.QueueFailed {
		t.Fatalf("expected FAILED queue entry, got %+v ok=%v", entry, ok)
	}
	// a straggling requeue cannot revive the job
	if err := e.queue.Enqueue(ctx, job.ID, models.ReasonExpired, nil, e.clock.Now()); err != nil {
		t.Fatal(err)
	}
	e.clock.Advance(2 * time.Second)
	if err := e.sched.ProcessDue(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ = e.store.GetJob(ctx, job.ID)
	if got.Status != models.JobNoDriverFound {
		t.Fatalf("terminal job moved: %s", got.Status)
	}
}

func TestCancelJobOverridesEverything(t *testing.T) {
	e := newEngine(t)
	e.addOnlineDriver(t, "a", models.Coord{Lat: 0.01, Lon: 0})
	e.addOnlineDriver(t, "b", models.Coord{Lat: 0.02, Lon: 0})
	job := e.createJob(t)
	ctx := context.Background()
	a := assignmentFor(t, e.pendingFor(t, job.ID), "a")

	if err := e.sched.CancelJob(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := e.store.GetJob(ctx, job.ID)
	if got.Status != models.JobCancelled {
		t.Fatalf("expected CANCELLED, got %s", got.Status)
	}
	if left := e.pendingFor(t, job.ID); len(left) != 0 {
		t.Fatalf("pending offers should be cancelled, %d left", len(left))
	}
	if _, ok := e.queue.Entry(job.ID); ok {
		t.Fatal("queue entry should be suppressed")
	}
	// cancelling again is a no-op
	if err := e.sched.CancelJob(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	// responses to cancelled offers are stale
	if err := e.sched.Respond(ctx, a.ID, models.ResponseAccepted); !errors.Is(err, models.ErrStaleAssignment) {
		t.Fatalf("expected ErrStaleAssignment, got %v", err)
	}
}

func TestCancelMatchedJobReleasesDriver(t *testing.T) {
	e := newEngine(t)
	e.addOnlineDriver(t, "a", models.Coord{Lat: 0.01, Lon: 0})
	job := e.createJob(t)
	ctx := context.Background()

	a := e.pendingFor(t, job.ID)[0]
	if err := e.sched.Respond(ctx, a.ID, models.ResponseAccepted); err != nil {
		t.Fatal(err)
	}
	if err := e.sched.CancelJob(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	if e.registry.State("a") != models.DriverOnline {
		t.Fatalf("driver should be released, got %s", e.registry.State("a"))
	}
}

func TestCompleteJobReleasesDriver(t *testing.T) {
	e := newEngine(t)
	e.addOnlineDriver(t, "a", models.Coord{Lat: 0.01, Lon: 0})
	job := e.createJob(t)
	ctx := context.Background()

	a := e.pendingFor(t, job.ID)[0]
	if err := e.sched.Respond(ctx, a.ID, models.ResponseAccepted); err != nil {
		t.Fatal(err)
	}
	if err := e.sched.CompleteJob(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := e.store.GetJob(ctx, job.ID)
	if got.Status != models.JobCompleted {
		t.Fatalf("expected COMPLETED, got %s", got.Status)
	}
	if e.registry.State("a") != models.DriverOnline {
		t.Fatalf("driver should be ONLINE again, got %s", e.registry.State("a"))
	}
	if err := e.sched.CompleteJob(ctx, job.ID); !errors.Is(err, models.ErrJobTerminal) {
		t.Fatalf("double complete: expected ErrJobTerminal, got %v", err)
	}
	if err := e.sched.CancelJob(ctx, job.ID); !errors.Is(err, models.ErrJobTerminal) {
		t.Fatalf("cancel after complete: expected ErrJobTerminal, got %v", err)
	}
}

// Two drivers race to accept the same job: exactly one wins, the loser is
// rolled back to ONLINE.
func TestConcurrentAcceptSingleWinner(t *testing.T) {
	e := newEngine(t)
	e.addOnlineDriver(t, "a", models.Coord{Lat: 0.01, Lon: 0})
	e.addOnlineDriver(t, "b", models.Coord{Lat: 0.02, Lon: 0})
	job := e.createJob(t)
	ctx := context.Background()

	as := e.pendingFor(t, job.ID)
	if len(as) != 2 {
		t.Fatalf("expected 2 assignments, got %d", len(as))
	}

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, a := range as {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			errs[i] = e.sched.Respond(ctx, id, models.ResponseAccepted)
		}(i, a.ID)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, models.ErrStaleAssignment) {
			t.Fatalf("unexpected loser error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d (errs=%v)", wins, errs)
	}
	got, _ := e.store.GetJob(ctx, job.ID)
	if got.Status != models.JobMatched {
		t.Fatalf("expected MATCHED, got %s", got.Status)
	}
	busy, online := 0, 0
	for _, id := range []string{"a", "b"} {
		switch e.registry.State(id) {
		case models.DriverBusy:
			busy++
		case models.DriverOnline:
			online++
		}
	}
	if busy != 1 || online != 1 {
		t.Fatalf("expected one BUSY and one ONLINE, got busy=%d online=%d", busy, online)
	}
}

func TestDispatchTerminalJobFails(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	if err := e.store.SaveJob(ctx, &models.Job{ID: "done", Status: models.JobCompleted}); err != nil {
		t.Fatal(err)
	}
	if err := e.sched.Dispatch(ctx, "done"); !errors.Is(err, models.ErrJobTerminal) {
		t.Fatalf("expected ErrJobTerminal, got %v", err)
	}
	if err := e.sched.Dispatch(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
