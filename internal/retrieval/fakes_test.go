package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/italolelis/grfn_downloader/internal/archive"
	"github.com/italolelis/grfn_downloader/internal/credentials"
	"github.com/italolelis/grfn_downloader/internal/manifest"
	"github.com/spf13/afero"
)

const suffix = ".unw_geo.zip"

var t0 = time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: t0}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)

	return c.now
}

// fakeTimer fires immediately after moving the clock forward by the wait.
type fakeTimer struct {
	clock *fakeClock
	c     chan time.Time
}

func (t *fakeTimer) Start(d time.Duration) {
	t.c <- t.clock.Advance(d)
}

func (t *fakeTimer) Stop() {}

func (t *fakeTimer) C() <-chan time.Time {
	return t.c
}

func (c *fakeClock) timer() backoff.Timer {
	return &fakeTimer{clock: c, c: make(chan time.Time, 1)}
}

type step struct {
	status archive.Status
	err    error
}

// fakeArchive scripts status answers per file; the last step repeats.
type fakeArchive struct {
	mu         sync.Mutex
	scripts    map[string][]step
	statusCall map[string]int
	restores   map[string]int
	fetches    map[string]int
	leases     map[string]credentials.Lease

	restoreErr error
	fetchErr   map[string]error
	broken     map[string]bool
	onFetch    func(fileName string)
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{
		scripts:    map[string][]step{},
		statusCall: map[string]int{},
		restores:   map[string]int{},
		fetches:    map[string]int{},
		leases:     map[string]credentials.Lease{},
		fetchErr:   map[string]error{},
		broken:     map[string]bool{},
	}
}

func (a *fakeArchive) script(fileName string, steps ...step) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.scripts[fileName] = steps
}

func (a *fakeArchive) Status(_ context.Context, fileName string) (archive.Status, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	steps, ok := a.scripts[fileName]
	if !ok {
		return "", &archive.HTTPError{Operation: "status", StatusCode: 404, Message: "not found"}
	}

	i := a.statusCall[fileName]
	a.statusCall[fileName]++

	if i >= len(steps) {
		i = len(steps) - 1
	}

	return steps[i].status, steps[i].err
}

func (a *fakeArchive) Restore(_ context.Context, fileName string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.restores[fileName]++

	return a.restoreErr
}

func (a *fakeArchive) Fetch(_ context.Context, ref manifest.ObjectRef, lease credentials.Lease) (io.ReadCloser, int64, error) {
	a.mu.Lock()
	a.fetches[ref.FileName]++
	a.leases[ref.FileName] = lease
	err := a.fetchErr[ref.FileName]
	broken := a.broken[ref.FileName]
	onFetch := a.onFetch
	a.mu.Unlock()

	if onFetch != nil {
		onFetch(ref.FileName)
	}

	if err != nil {
		return nil, 0, err
	}

	if broken {
		return &brokenReader{}, 1 << 10, nil
	}

	p := payload(ref.FileName)

	return io.NopCloser(strings.NewReader(p)), int64(len(p)), nil
}

func (a *fakeArchive) calls(fileName string) (status, restores, fetches int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.statusCall[fileName], a.restores[fileName], a.fetches[fileName]
}

func (a *fakeArchive) totalCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for _, m := range []map[string]int{a.statusCall, a.restores, a.fetches} {
		for _, c := range m {
			n += c
		}
	}

	return n
}

func payload(fileName string) string {
	return "payload:" + fileName
}

func ref(id string) manifest.ObjectRef {
	return manifest.ObjectRef{ID: id, FileName: id + suffix, Size: int64(len(payload(id + suffix)))}
}

// hourlyLeases hands out token-N leases valid for one hour from the clock.
type hourlyLeases struct {
	clock *fakeClock
	mu    sync.Mutex
	n     int
	err   error
}

func (p *hourlyLeases) FetchLease(context.Context) (credentials.Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return credentials.Lease{}, p.err
	}

	p.n++

	return credentials.Lease{
		AccessKeyID:     "ASIA",
		SecretAccessKey: "secret",
		SessionToken:    fmt.Sprintf("token-%d", p.n),
		Expiration:      p.clock.Now().Add(time.Hour),
	}, nil
}

type harness struct {
	clock   *fakeClock
	fs      afero.Fs
	store   *LocalStore
	archive *fakeArchive
	leases  *hourlyLeases
	keeper  *credentials.Keeper
}

func newHarness() *harness {
	clock := newFakeClock()
	fs := afero.NewMemMapFs()
	leases := &hourlyLeases{clock: clock}

	return &harness{
		clock:   clock,
		fs:      fs,
		store:   NewLocalStore(fs, "/data"),
		archive: newFakeArchive(),
		leases:  leases,
		keeper:  credentials.NewKeeper(leases, 5*time.Minute, credentials.WithClock(clock.Now)),
	}
}

func (h *harness) acquire() {
	if _, err := h.keeper.Acquire(context.Background()); err != nil {
		panic(err)
	}
}

func (h *harness) machine(opts ...MachineOption) *Machine {
	opts = append([]MachineOption{
		WithPollInterval(30 * time.Second),
		WithMaxPolls(10),
		WithTimer(h.clock.timer),
		WithMachineClock(h.clock.Now),
	}, opts...)

	return NewMachine(h.store, h.archive, h.archive, h.keeper, opts...)
}

func (h *harness) scheduler(provider manifest.Provider, opts ...SchedulerOption) *Scheduler {
	return h.schedulerWith(provider, h.machine(), opts...)
}

func (h *harness) schedulerWith(provider manifest.Provider, m *Machine, opts ...SchedulerOption) *Scheduler {
	opts = append([]SchedulerOption{WithSchedulerClock(h.clock.Now)}, opts...)

	return NewScheduler(provider, h.keeper, m, opts...)
}

func (h *harness) seed(name string) {
	if err := afero.WriteFile(h.fs, h.store.Path(name), []byte("existing"), 0o644); err != nil {
		panic(err)
	}
}

func (h *harness) exists(name string) bool {
	ok, err := afero.Exists(h.fs, h.store.Path(name))
	if err != nil {
		panic(err)
	}

	return ok
}

func (h *harness) tempArtifacts() []string {
	entries, err := afero.ReadDir(h.fs, h.store.Dir())
	if err != nil {
		return nil
	}

	var out []string

	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".part") {
			out = append(out, e.Name())
		}
	}

	return out
}

type failingManifest struct{}

func (failingManifest) Manifest(context.Context, string) ([]manifest.ObjectRef, error) {
	return nil, errors.New("catalog unreachable")
}

// brokenReader returns some bytes then fails.
type brokenReader struct {
	sent bool
}

func (r *brokenReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true

		return copy(p, "partial"), nil
	}

	return 0, errors.New("connection reset by peer")
}

func (r *brokenReader) Close() error { return nil }
