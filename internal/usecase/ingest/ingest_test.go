package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gettixvp/newtg/internal/domain"
	"github.com/gettixvp/newtg/internal/infra/queue"
	"github.com/gettixvp/newtg/internal/usecase/notify"
)

type stubFetcher struct {
	fail map[domain.City]error
}

func (f *stubFetcher) Fetch(_ context.Context, city domain.City, _ domain.PageFilter) ([]byte, error) {
	if err, ok := f.fail[city]; ok {
		return nil, err
	}
	return []byte(city), nil
}

// stubExtractor возвращает заранее заданные объявления для города.
type stubExtractor struct {
	mu  sync.Mutex
	ads map[domain.City][]domain.Ad
}

func (e *stubExtractor) Extract(markup []byte, city domain.City) ([]domain.Ad, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Ad(nil), e.ads[city]...), nil
}

type memoryCatalog struct {
	mu    sync.Mutex
	links map[string]domain.Ad
	seen  map[string]map[string]struct{}
}

func newMemoryCatalog() *memoryCatalog {
	return &memoryCatalog{links: map[string]domain.Ad{}, seen: map[string]map[string]struct{}{}}
}

func (c *memoryCatalog) Exists(_ context.Context, link string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.links[link]
	return ok, nil
}

func (c *memoryCatalog) ExistingLinks(_ context.Context, links []string) (map[string]struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[string]struct{}{}
	for _, l := range links {
		if _, ok := c.links[l]; ok {
			out[l] = struct{}{}
		}
	}
	return out, nil
}

func (c *memoryCatalog) InsertIfAbsent(_ context.Context, ads []domain.Ad) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ad := range ads {
		if _, ok := c.links[ad.Link]; ok {
			continue
		}
		c.links[ad.Link] = ad
		n++
	}
	return n, nil
}

func (c *memoryCatalog) Record(_ context.Context, ads []domain.Ad, requesterID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen[requesterID] == nil {
		c.seen[requesterID] = map[string]struct{}{}
	}
	n := 0
	for _, ad := range ads {
		if _, ok := c.seen[requesterID][ad.Link]; ok {
			continue
		}
		c.seen[requesterID][ad.Link] = struct{}{}
		n++
	}
	return n, nil
}

func ad(link string, city domain.City) domain.Ad {
	return domain.Ad{Link: link, Source: domain.SourceKufar, City: city, Price: 300, Address: "ул. Тестовая, 1"}
}

type fixture struct {
	service   *Service
	catalog   *memoryCatalog
	extractor *stubExtractor
	fetcher   *stubFetcher
	queue     *queue.MemoryQueue
}

func newFixture() fixture {
	f := fixture{
		catalog:   newMemoryCatalog(),
		extractor: &stubExtractor{ads: map[domain.City][]domain.Ad{}},
		fetcher:   &stubFetcher{fail: map[domain.City]error{}},
		queue:     queue.NewMemoryQueue(64),
	}
	notifier := notify.NewService(f.queue, zerolog.Nop())
	f.service = NewService(f.fetcher, f.extractor, f.catalog, f.catalog, notifier, 3, zerolog.Nop())
	return f
}

func (f fixture) drain(t *testing.T) []domain.NotificationJob {
	t.Helper()
	_ = f.queue.Close()
	var jobs []domain.NotificationJob
	for {
		job, _, err := f.queue.Receive(context.Background())
		if errors.Is(err, domain.ErrQueueClosed) {
			return jobs
		}
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		jobs = append(jobs, job)
	}
}

func TestRunCycleIdempotent(t *testing.T) {
	f := newFixture()
	city := domain.CityMinsk
	f.extractor.ads[city] = []domain.Ad{ad("a", city), ad("b", city)}
	filter := domain.IngestFilter{City: &city}

	first := f.service.RunCycle(context.Background(), filter)
	if first.NewTotal() != 2 || first.Cities[0].Inserted != 2 {
		t.Fatalf("unexpected first report %+v", first.Cities)
	}
	second := f.service.RunCycle(context.Background(), filter)
	if second.NewTotal() != 0 {
		t.Fatalf("second run over the same page must find nothing new, got %d", second.NewTotal())
	}
	if len(f.catalog.links) != 2 {
		t.Fatalf("catalog must hold 2 ads, got %d", len(f.catalog.links))
	}
}

func TestRunCycleNewIsSetDifference(t *testing.T) {
	f := newFixture()
	city := domain.CityBrest
	_, _ = f.catalog.InsertIfAbsent(context.Background(), []domain.Ad{ad("known", city)})
	f.extractor.ads[city] = []domain.Ad{ad("known", city), ad("fresh", city), ad("fresh", city)}

	report := f.service.RunCycle(context.Background(), domain.IngestFilter{City: &city})
	res := report.Cities[0]
	if res.Extracted != 3 || res.New != 1 || res.Inserted != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRunCycleSkipsUnpersistable(t *testing.T) {
	f := newFixture()
	city := domain.CityGomel
	bad := ad("bad", city)
	bad.Address = domain.AddressUnspecified
	f.extractor.ads[city] = []domain.Ad{bad}

	report := f.service.RunCycle(context.Background(), domain.IngestFilter{City: &city})
	if report.NewTotal() != 0 || len(f.catalog.links) != 0 {
		t.Fatalf("ad without address must never be stored: %+v", report.Cities)
	}
}

func TestRunCycleNotifiesRequester(t *testing.T) {
	f := newFixture()
	city := domain.CityMinsk
	f.extractor.ads[city] = []domain.Ad{ad("x", city), ad("y", city)}

	f.service.RunCycle(context.Background(), domain.IngestFilter{City: &city, RequesterID: "123456"})
	jobs := f.drain(t)
	if len(jobs) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(jobs))
	}
	if jobs[0].ChatID != 123456 || jobs[0].Text != "Появилось 2 новых объявлений в Минск!" {
		t.Fatalf("unexpected notification %+v", jobs[0])
	}
	if _, ok := f.catalog.seen["123456"]["x"]; !ok {
		t.Fatal("new ads must be recorded for requester")
	}
}

func TestRunCycleDefaultRequesterNotNotified(t *testing.T) {
	f := newFixture()
	city := domain.CityMinsk
	f.extractor.ads[city] = []domain.Ad{ad("x", city), ad("y", city)}

	report := f.service.RunCycle(context.Background(), domain.IngestFilter{City: &city, RequesterID: "default"})
	if report.RequesterID != domain.RequesterAnonymous {
		t.Fatalf("default must map to anonymous, got %s", report.RequesterID)
	}
	if jobs := f.drain(t); len(jobs) != 0 {
		t.Fatalf("anonymous cycle must not notify, got %d", len(jobs))
	}
}

func TestRunCycleIsolatesCityErrors(t *testing.T) {
	f := newFixture()
	f.fetcher.fail[domain.CityGrodno] = &domain.FetchError{City: domain.CityGrodno, StatusCode: 503}
	for _, c := range domain.Cities() {
		f.extractor.ads[c] = []domain.Ad{ad("ad-"+string(c), c)}
	}

	report := f.service.RunCycle(context.Background(), domain.IngestFilter{})
	if len(report.Cities) != len(domain.Cities()) {
		t.Fatalf("expected a result per city, got %d", len(report.Cities))
	}
	failed := report.Failed()
	if len(failed) != 1 || failed[0].City != domain.CityGrodno {
		t.Fatalf("unexpected failures %+v", failed)
	}
	var fetchErr *domain.FetchError
	if !errors.As(failed[0].Err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", failed[0].Err)
	}
	if report.NewTotal() != len(domain.Cities())-1 {
		t.Fatalf("other cities must still be processed, new=%d", report.NewTotal())
	}
}

type countingRunner struct {
	runs      atomic.Int32
	finished  atomic.Int32
	cancelled atomic.Int32
	hold      time.Duration
}

func (r *countingRunner) RunCycle(ctx context.Context, _ domain.IngestFilter) domain.CycleReport {
	r.runs.Add(1)
	select {
	case <-time.After(r.hold):
		r.finished.Add(1)
	case <-ctx.Done():
		r.cancelled.Add(1)
	}
	return domain.CycleReport{}
}

func waitRuns(t *testing.T, r *countingRunner, n int32) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for r.runs.Load() < n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if r.runs.Load() < n {
		t.Fatalf("expected %d runs, got %d", n, r.runs.Load())
	}
}

func TestSchedulerRunOnStartAndStop(t *testing.T) {
	runner := &countingRunner{hold: 50 * time.Millisecond}
	s := NewScheduler(runner, time.Hour, zerolog.Nop())
	if err := s.Start(context.Background(), true); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(context.Background(), true); err == nil {
		t.Fatal("second start must fail")
	}

	waitRuns(t, runner, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if runner.runs.Load() != 1 {
		t.Fatalf("expected one run on start, got %d", runner.runs.Load())
	}
}

func TestSchedulerFinishesCycleAfterParentCancel(t *testing.T) {
	runner := &countingRunner{hold: 200 * time.Millisecond}
	s := NewScheduler(runner, time.Hour, zerolog.Nop())
	parent, cancelParent := context.WithCancel(context.Background())
	if err := s.Start(parent, true); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitRuns(t, runner, 1)
	cancelParent()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if runner.finished.Load() != 1 || runner.cancelled.Load() != 0 {
		t.Fatalf("running cycle must finish, finished=%d cancelled=%d", runner.finished.Load(), runner.cancelled.Load())
	}
}

func TestSchedulerStopDeadlineCancelsCycle(t *testing.T) {
	runner := &countingRunner{hold: time.Hour}
	s := NewScheduler(runner, time.Hour, zerolog.Nop())
	if err := s.Start(context.Background(), true); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitRuns(t, runner, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for runner.cancelled.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if runner.cancelled.Load() != 1 {
		t.Fatal("cycle must be cancelled once the stop deadline expires")
	}
}

type memoryCooldown struct {
	mu    sync.Mutex
	taken map[string]bool
}

func (c *memoryCooldown) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.taken[key] {
		return false, nil
	}
	c.taken[key] = true
	return true, nil
}

func TestTriggerCooldown(t *testing.T) {
	runner := &countingRunner{}
	tr := NewTrigger(runner, &memoryCooldown{taken: map[string]bool{}}, time.Minute, zerolog.Nop())

	if err := tr.Request(context.Background(), domain.IngestFilter{RequesterID: "5"}); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := tr.Request(context.Background(), domain.IngestFilter{RequesterID: "5"}); !errors.Is(err, ErrCooldown) {
		t.Fatalf("expected cooldown, got %v", err)
	}
	if err := tr.Request(context.Background(), domain.IngestFilter{RequesterID: "6"}); err != nil {
		t.Fatalf("other requester: %v", err)
	}
	if err := tr.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if runner.runs.Load() != 2 {
		t.Fatalf("expected 2 runs, got %d", runner.runs.Load())
	}
}

func TestTriggerCycleOutlivesRequest(t *testing.T) {
	runner := &countingRunner{hold: 100 * time.Millisecond}
	tr := NewTrigger(runner, nil, 0, zerolog.Nop())

	reqCtx, cancelReq := context.WithCancel(context.Background())
	if err := tr.Request(reqCtx, domain.IngestFilter{RequesterID: "7"}); err != nil {
		t.Fatalf("request: %v", err)
	}
	cancelReq()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tr.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if runner.finished.Load() != 1 || runner.cancelled.Load() != 0 {
		t.Fatalf("cycle must finish after the request ends, finished=%d cancelled=%d", runner.finished.Load(), runner.cancelled.Load())
	}
}
