package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// journal records lifecycle calls across goroutines.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fakeService struct {
	name      string
	journal   *journal
	startErr  error
	stopErr   error
	healthErr error
}

func (s *fakeService) Name() string { return s.name }

func (s *fakeService) Start(ctx context.Context) error {
	s.journal.add("start " + s.name)
	return s.startErr
}

func (s *fakeService) Stop(ctx context.Context) error {
	s.journal.add("stop " + s.name)
	return s.stopErr
}

func (s *fakeService) HealthCheck(ctx context.Context) error {
	return s.healthErr
}

func quietRunner(services []Service, opts ...Option) *Runner {
	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	return New(services, opts...)
}

func TestRunnerStartsInOrderStopsInReverse(t *testing.T) {
	j := &journal{}
	store := &fakeService{name: "store", journal: j}
	projections := &fakeService{name: "projections", journal: j}
	commands := &fakeService{name: "commands", journal: j}

	r := quietRunner([]Service{store, projections, commands})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return len(j.snapshot()) == 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)

	assert.Equal(t, []string{
		"start store",
		"start projections",
		"start commands",
		"stop commands",
		"stop projections",
		"stop store",
	}, j.snapshot())
}

func TestRunnerFailedStartStopsStartedServices(t *testing.T) {
	j := &journal{}
	store := &fakeService{name: "store", journal: j}
	broken := &fakeService{name: "broken", journal: j, startErr: errors.New("port taken")}
	never := &fakeService{name: "never", journal: j}

	r := quietRunner([]Service{store, broken, never})

	err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "starting broken")

	// The failed service never started, so only its predecessors unwind.
	assert.Equal(t, []string{
		"start store",
		"start broken",
		"stop store",
	}, j.snapshot())
}

func TestRunnerCollectsStopErrors(t *testing.T) {
	j := &journal{}
	good := &fakeService{name: "good", journal: j}
	bad := &fakeService{name: "bad", journal: j, stopErr: errors.New("flush failed")}

	r := quietRunner([]Service{good, bad})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return len(j.snapshot()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	err := <-errCh
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopping bad")

	// The failing stop does not strand the remaining services.
	assert.Contains(t, j.snapshot(), "stop good")
}

func TestRunnerHealthCheck(t *testing.T) {
	j := &journal{}
	healthy := &fakeService{name: "healthy", journal: j}
	sick := &fakeService{name: "sick", journal: j, healthErr: errors.New("behind")}

	r := quietRunner([]Service{healthy, sick})
	err := r.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sick")

	r = quietRunner([]Service{healthy})
	require.NoError(t, r.HealthCheck(context.Background()))
}
