package core

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jo-hoe/imagerelay/internal/backend/database"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.Local)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// flakyDatabase fails DeleteImage while failDelete is set.
type flakyDatabase struct {
	*database.MemoryDatabase
	failDelete bool
	failWrite  bool
}

func (f *flakyDatabase) DeleteImage() error {
	if f.failDelete {
		return errors.New("disk on fire")
	}
	return f.MemoryDatabase.DeleteImage()
}

func (f *flakyDatabase) ReplaceImage(image *database.Image) error {
	if f.failWrite {
		return errors.New("disk full")
	}
	return f.MemoryDatabase.ReplaceImage(image)
}

func newTestCoreService(t *testing.T) (*CoreService, *fakeClock) {
	t.Helper()
	return newTestCoreServiceWithDatabase(t, database.NewMemoryDatabase())
}

func newTestCoreServiceWithDatabase(t *testing.T, ds database.DatabaseService) (*CoreService, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	svc, err := NewCoreServiceWithDatabase(DefaultConfig(), ds, clock.Now)
	if err != nil {
		t.Fatalf("NewCoreServiceWithDatabase error: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc, clock
}

func mustIngest(t *testing.T, svc *CoreService, data []byte) *database.Image {
	t.Helper()
	img, err := svc.IngestImage(data)
	if err != nil {
		t.Fatalf("IngestImage error: %v", err)
	}
	return img
}

func TestFetchImage_NothingIngested(t *testing.T) {
	svc, _ := newTestCoreService(t)
	if _, err := svc.FetchImage(); !errors.Is(err, ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
}

func TestIngestImage_LastWriteWins(t *testing.T) {
	svc, clock := newTestCoreService(t)
	payloads := [][]byte{[]byte("one"), []byte("two"), []byte("three"), []byte("four")}
	for _, p := range payloads {
		mustIngest(t, svc, p)
		clock.Advance(100 * time.Millisecond)
	}

	img, err := svc.FetchImage()
	if err != nil {
		t.Fatalf("FetchImage error: %v", err)
	}
	if !bytes.Equal(img.Data, payloads[len(payloads)-1]) {
		t.Fatalf("expected last payload, got %q", string(img.Data))
	}
}

func TestFetchImage_IdempotentRead(t *testing.T) {
	svc, _ := newTestCoreService(t)
	want := []byte{0xFF, 0xD8, 0x00, 0x42, 0xFF, 0xD9}
	stored := mustIngest(t, svc, want)

	for i := 0; i < 3; i++ {
		img, err := svc.FetchImage()
		if err != nil {
			t.Fatalf("FetchImage #%d error: %v", i, err)
		}
		if !bytes.Equal(img.Data, want) || img.ID != stored.ID {
			t.Fatalf("FetchImage #%d returned %+v, want id %q", i, img, stored.ID)
		}
		img.Data[0] = 0x00 // must not leak into the slot
	}
}

func TestIngestImage_Empty(t *testing.T) {
	svc, _ := newTestCoreService(t)
	if _, err := svc.IngestImage(nil); !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("expected ErrEmptyImage, got %v", err)
	}
	if got := svc.Liveness().State; got != StateIdle {
		t.Fatalf("expected %s after rejected ingest, got %s", StateIdle, got)
	}
}

func TestIngestImage_StoreFailureKeepsClock(t *testing.T) {
	ds := &flakyDatabase{MemoryDatabase: database.NewMemoryDatabase(), failWrite: true}
	svc, _ := newTestCoreServiceWithDatabase(t, ds)

	if _, err := svc.IngestImage([]byte("x")); err == nil {
		t.Fatalf("expected error from failing store")
	}
	if got := svc.Liveness().State; got != StateIdle {
		t.Fatalf("expected %s after failed ingest, got %s", StateIdle, got)
	}
}

func TestSweep_RemovesAfterTimeout(t *testing.T) {
	svc, clock := newTestCoreService(t)
	mustIngest(t, svc, []byte("frame"))

	clock.Advance(DefaultTimeout)
	if svc.Sweep() {
		t.Fatalf("sweep deleted the image at exactly the timeout")
	}
	if _, err := svc.FetchImage(); err != nil {
		t.Fatalf("expected image before timeout elapsed, got %v", err)
	}

	clock.Advance(time.Millisecond)
	if !svc.Sweep() {
		t.Fatalf("expected sweep to delete the stale image")
	}
	if _, err := svc.FetchImage(); !errors.Is(err, ErrNoImage) {
		t.Fatalf("expected ErrNoImage after sweep, got %v", err)
	}
	if got := svc.Liveness(); got.State != StateIdle || !got.LastIngestAt.IsZero() {
		t.Fatalf("expected cleared clock after sweep, got %+v", got)
	}
	if svc.Sweep() {
		t.Fatalf("sweep on an idle slot reported a deletion")
	}
}

func TestSweep_IngestResetsClock(t *testing.T) {
	svc, clock := newTestCoreService(t)
	mustIngest(t, svc, []byte("a"))
	clock.Advance(8 * time.Second)
	mustIngest(t, svc, []byte("b"))
	clock.Advance(8 * time.Second)

	if svc.Sweep() {
		t.Fatalf("sweep deleted an image only 8s old")
	}
	img, err := svc.FetchImage()
	if err != nil || string(img.Data) != "b" {
		t.Fatalf("expected image b, got %v / %v", img, err)
	}
}

func TestSweep_FailureIsRetried(t *testing.T) {
	ds := &flakyDatabase{MemoryDatabase: database.NewMemoryDatabase(), failDelete: true}
	svc, clock := newTestCoreServiceWithDatabase(t, ds)
	mustIngest(t, svc, []byte("frame"))
	clock.Advance(time.Minute)

	if svc.Sweep() {
		t.Fatalf("sweep reported success although delete failed")
	}
	if got := svc.Liveness().State; got != StateActive {
		t.Fatalf("expected clock to survive a failed delete, got %s", got)
	}

	ds.failDelete = false
	if !svc.Sweep() {
		t.Fatalf("expected retry to delete the image")
	}
}

// runTicks advances the clock to target, running a sweep at every tick on the way.
func runTicks(svc *CoreService, clock *fakeClock, nextTick *time.Time, interval time.Duration, target time.Time) {
	for !nextTick.After(target) {
		clock.Advance(nextTick.Sub(clock.Now()))
		svc.Sweep()
		*nextTick = nextTick.Add(interval)
	}
	clock.Advance(target.Sub(clock.Now()))
}

// Device uploads at t=0, the prediction client reads at t=2, then the device goes silent.
// Sweeps run every 3s on their own phase (here t=1.5, 4.5, 7.5, 10.5) with a 10s timeout,
// so the read at t=11 finds the slot empty.
func TestScenario_DeviceGoesSilent(t *testing.T) {
	svc, clock := newTestCoreService(t)
	frame := []byte("\xFF\xD8 jpeg frame \xFF\xD9")
	start := clock.Now()
	mustIngest(t, svc, frame)
	nextTick := start.Add(1500 * time.Millisecond)

	runTicks(svc, clock, &nextTick, DefaultSweepInterval, start.Add(2*time.Second))
	img, err := svc.FetchImage()
	if err != nil || !bytes.Equal(img.Data, frame) {
		t.Fatalf("expected frame at t=2, got %v / %v", img, err)
	}

	runTicks(svc, clock, &nextTick, DefaultSweepInterval, start.Add(11*time.Second))
	if _, err := svc.FetchImage(); !errors.Is(err, ErrNoImage) {
		t.Fatalf("expected ErrNoImage at t=11, got %v", err)
	}
}

// Whatever the tick phase, a stale image is gone within timeout + one interval.
func TestSweep_DetectionLatencyBound(t *testing.T) {
	for _, phase := range []time.Duration{0, 500 * time.Millisecond, time.Second, 2 * time.Second, 2999 * time.Millisecond} {
		svc, clock := newTestCoreService(t)
		start := clock.Now()
		mustIngest(t, svc, []byte("frame"))
		nextTick := start.Add(phase)

		runTicks(svc, clock, &nextTick, DefaultSweepInterval, start.Add(DefaultTimeout+DefaultSweepInterval))
		if _, err := svc.FetchImage(); !errors.Is(err, ErrNoImage) {
			t.Errorf("phase %s: expected image to be reclaimed within timeout+interval, got %v", phase, err)
		}
	}
}

func TestConcurrentIngests_ExactlyOneSurvives(t *testing.T) {
	svc, _ := newTestCoreService(t)
	a := bytes.Repeat([]byte{0xAA}, 64*1024)
	b := bytes.Repeat([]byte{0xBB}, 64*1024)

	var wg sync.WaitGroup
	errs := make(chan error, 512)
	for i := 0; i < 100; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			if _, err := svc.IngestImage(a); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := svc.IngestImage(b); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			img, err := svc.FetchImage()
			if errors.Is(err, ErrNoImage) {
				return
			}
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(img.Data, a) && !bytes.Equal(img.Data, b) {
				errs <- errors.New("fetch observed a mixed payload")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	img, err := svc.FetchImage()
	if err != nil {
		t.Fatalf("FetchImage error: %v", err)
	}
	if !bytes.Equal(img.Data, a) && !bytes.Equal(img.Data, b) {
		t.Fatalf("final image is neither A nor B")
	}
}

func TestIngestPrediction_Overwrites(t *testing.T) {
	svc, clock := newTestCoreService(t)

	if _, err := svc.FetchPrediction(); !errors.Is(err, ErrNoPrediction) {
		t.Fatalf("expected ErrNoPrediction, got %v", err)
	}

	if _, err := svc.IngestPrediction("Metal", StringConfidence("87.50%")); err != nil {
		t.Fatalf("IngestPrediction #1 error: %v", err)
	}
	clock.Advance(2 * time.Second)
	if _, err := svc.IngestPrediction("Non-Metal", Confidence("0.91")); err != nil {
		t.Fatalf("IngestPrediction #2 error: %v", err)
	}

	got, err := svc.FetchPrediction()
	if err != nil {
		t.Fatalf("FetchPrediction error: %v", err)
	}
	if got.Label != "Non-Metal" || string(got.Confidence) != "0.91" {
		t.Fatalf("expected only the second prediction, got %+v", got)
	}
	if want := clock.Now().Format(TimestampLayout); got.Timestamp != want {
		t.Fatalf("expected timestamp %q, got %q", want, got.Timestamp)
	}
}

func TestIngestPrediction_ServerTimestamp(t *testing.T) {
	svc, clock := newTestCoreService(t)

	rec, err := svc.IngestPrediction("Metal", StringConfidence("87.50%"))
	if err != nil {
		t.Fatalf("IngestPrediction error: %v", err)
	}
	if rec.Label != "Metal" || rec.Confidence.String() != "87.50%" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Timestamp != "2024-06-01 12:00:00" {
		t.Fatalf("expected server timestamp 2024-06-01 12:00:00, got %q", rec.Timestamp)
	}
	if !rec.ReceivedAt().Equal(clock.Now()) {
		t.Fatalf("expected ReceivedAt %v, got %v", clock.Now(), rec.ReceivedAt())
	}
}

func TestIngestPrediction_LabelAllowList(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Predictions.Labels = []string{"Metal", "Non-Metal"}
	svc, err := NewCoreServiceWithDatabase(cfg, database.NewMemoryDatabase(), nil)
	if err != nil {
		t.Fatalf("NewCoreServiceWithDatabase error: %v", err)
	}

	if _, err := svc.IngestPrediction("Glass", StringConfidence("50%")); !errors.Is(err, ErrUnknownLabel) {
		t.Fatalf("expected ErrUnknownLabel, got %v", err)
	}
	if _, err := svc.FetchPrediction(); !errors.Is(err, ErrNoPrediction) {
		t.Fatalf("rejected prediction must not be stored, got %v", err)
	}
	if _, err := svc.IngestPrediction("Metal", StringConfidence("50%")); err != nil {
		t.Fatalf("expected allowed label to be stored, got %v", err)
	}
}

func TestNewCoreService_SeedsClockFromLeftoverImage(t *testing.T) {
	ds := database.NewMemoryDatabase()
	clock := newFakeClock()
	leftover, err := database.NewImage([]byte("old"), "image/jpeg", clock.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("NewImage error: %v", err)
	}
	if err := ds.ReplaceImage(leftover); err != nil {
		t.Fatalf("ReplaceImage error: %v", err)
	}

	svc, err := NewCoreServiceWithDatabase(DefaultConfig(), ds, clock.Now)
	if err != nil {
		t.Fatalf("NewCoreServiceWithDatabase error: %v", err)
	}
	if got := svc.Liveness().State; got != StateActive {
		t.Fatalf("expected %s with leftover image, got %s", StateActive, got)
	}
	if !svc.Sweep() {
		t.Fatalf("expected first sweep to reclaim the leftover image")
	}
}

func TestNewCoreService_FromConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database = Database{Type: "sqlite", ConnectionString: ":memory:"}

	svc, err := NewCoreService(cfg)
	if err != nil {
		t.Fatalf("NewCoreService error: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })

	if !svc.IsStorageAvailable() {
		t.Fatalf("expected sqlite storage to be available")
	}
	mustIngest(t, svc, []byte("via sqlite"))
	img, err := svc.FetchImage()
	if err != nil || string(img.Data) != "via sqlite" {
		t.Fatalf("unexpected fetch result %v / %v", img, err)
	}
}

func TestNewCoreService_UnknownDatabase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Type = "cassandra"
	if _, err := NewCoreService(cfg); err == nil {
		t.Fatalf("expected error for unsupported database type")
	}
}
