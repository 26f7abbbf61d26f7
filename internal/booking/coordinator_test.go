package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/serani/backend/internal/models"
)

// ---------------------------------------------------------------------------
// in-memory stores
// ---------------------------------------------------------------------------

type mockRunnerDir struct {
	mu      sync.Mutex
	runners map[uuid.UUID]*models.Runner
	gets    int
}

func newMockRunnerDir(rs ...*models.Runner) *mockRunnerDir {
	m := &mockRunnerDir{runners: make(map[uuid.UUID]*models.Runner)}
	for _, r := range rs {
		m.runners[r.ID] = r
	}
	return m
}

func (m *mockRunnerDir) GetByID(_ context.Context, id uuid.UUID) (*models.Runner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	r, ok := m.runners[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *r
	return &cp, nil
}

type mockTaskStore struct {
	mu      sync.Mutex
	tasks   []*models.Task
	failAll bool
	block   chan struct{} // when set, Create blocks until closed
	entered chan struct{} // when set, receives one signal as Create is entered
}

func (m *mockTaskStore) FindPendingPair(_ context.Context, runnerID, clientID uuid.UUID) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return nil, errors.New("store unreachable")
	}
	for _, t := range m.tasks {
		if t.RunnerID != nil && *t.RunnerID == runnerID && t.ClientID == clientID && t.Status == models.TaskStatusPending {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockTaskStore) Create(ctx context.Context, t *models.Task) error {
	if m.entered != nil {
		select {
		case m.entered <- struct{}{}:
		default:
		}
	}
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return errors.New("store unreachable")
	}
	cp := *t
	m.tasks = append(m.tasks, &cp)
	return nil
}

func (m *mockTaskStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

type mockChatStore struct {
	mu      sync.Mutex
	chats   map[uuid.UUID]*models.Chat
	creates int
	fail    bool
}

func newMockChatStore() *mockChatStore {
	return &mockChatStore{chats: make(map[uuid.UUID]*models.Chat)}
}

func (m *mockChatStore) CreateIfAbsent(_ context.Context, c *models.Chat) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return false, errors.New("store unreachable")
	}
	m.creates++
	if _, ok := m.chats[c.TaskID]; ok {
		return false, nil
	}
	cp := *c
	m.chats[c.TaskID] = &cp
	return true, nil
}

func (m *mockChatStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chats)
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func availableRunnerAt(lat, lon float64) *models.Runner {
	return &models.Runner{
		ID:             uuid.New(),
		Name:           "Test Runner",
		IsAvailable:    true,
		Rating:         4.5,
		CompletedTasks: 12,
		Location:       &models.RunnerLocation{Latitude: lat, Longitude: lon, Timestamp: time.Now()},
	}
}

func nairobiClient() models.LatLng {
	return models.LatLng{Latitude: -1.2900, Longitude: 36.8200}
}

func testSpec() models.TaskSpec {
	return models.TaskSpec{
		Category:    "delivery_dropoffs",
		ServiceName: "Package Pickup",
		Description: "Collect a parcel from the post office",
		Price:       800,
		Address:     "Moi Avenue, Nairobi",
	}
}

func newCoordinator(runners *mockRunnerDir, tasks *mockTaskStore, chats *mockChatStore) *Coordinator {
	return NewCoordinator(runners, tasks, chats, discard)
}

// ---------------------------------------------------------------------------
// BookRunner re-validation
// ---------------------------------------------------------------------------

func TestBookRunnerSuccessUsesFreshData(t *testing.T) {
	runner := availableRunnerAt(-1.2910, 36.8220) // ~0.24 km away
	dir := newMockRunnerDir(runner)
	c := newCoordinator(dir, &mockTaskStore{}, newMockChatStore())

	conf, err := c.BookRunner(context.Background(), runner.ID, uuid.New(), nairobiClient())
	if err != nil {
		t.Fatalf("BookRunner: %v", err)
	}
	if dir.gets != 1 {
		t.Errorf("expected exactly one fresh fetch, got %d", dir.gets)
	}
	if conf.RunnerName != "Test Runner" || conf.Rating != 4.5 || conf.CompletedTasks != 12 {
		t.Errorf("confirmation not built from the fetched record: %+v", conf)
	}
	if conf.DistanceKm < 0.2 || conf.DistanceKm > 0.3 {
		t.Errorf("distance = %.3f, want ~0.24", conf.DistanceKm)
	}
}

func TestBookRunnerNotFoundClearsSelection(t *testing.T) {
	clientID := uuid.New()
	c := newCoordinator(newMockRunnerDir(), &mockTaskStore{}, newMockChatStore())

	_, err := c.BookRunner(context.Background(), uuid.New(), clientID, nairobiClient())
	if !errors.Is(err, ErrRunnerNotFound) {
		t.Fatalf("expected ErrRunnerNotFound, got %v", err)
	}
	if c.Selection(clientID) != nil {
		t.Error("selection should be cleared after RunnerNotFound")
	}
}

// The re-fetched record says unavailable: no task, no chat, selection
// cleared.
func TestBookRunnerUnavailable(t *testing.T) {
	runner := availableRunnerAt(-1.2910, 36.8220)
	runner.IsAvailable = false
	clientID := uuid.New()
	tasks := &mockTaskStore{}
	chats := newMockChatStore()
	c := newCoordinator(newMockRunnerDir(runner), tasks, chats)

	_, err := c.BookRunner(context.Background(), runner.ID, clientID, nairobiClient())
	if !errors.Is(err, ErrRunnerUnavailable) {
		t.Fatalf("expected ErrRunnerUnavailable, got %v", err)
	}
	if tasks.count() != 0 || chats.count() != 0 {
		t.Error("no task or chat may be created for an unavailable runner")
	}
	if c.Selection(clientID) != nil {
		t.Error("selection should be cleared")
	}
}

func TestBookRunnerOutOfServiceArea(t *testing.T) {
	runner := availableRunnerAt(-1.3500, 36.9000) // ~9.4 km away
	c := newCoordinator(newMockRunnerDir(runner), &mockTaskStore{}, newMockChatStore())

	_, err := c.BookRunner(context.Background(), runner.ID, uuid.New(), nairobiClient())
	if !errors.Is(err, ErrOutOfServiceArea) {
		t.Fatalf("expected ErrOutOfServiceArea, got %v", err)
	}
}

func TestBookRunnerNoCoordinatesIsOutOfArea(t *testing.T) {
	runner := availableRunnerAt(0, 0)
	runner.Location = nil
	c := newCoordinator(newMockRunnerDir(runner), &mockTaskStore{}, newMockChatStore())

	_, err := c.BookRunner(context.Background(), runner.ID, uuid.New(), nairobiClient())
	if !errors.Is(err, ErrOutOfServiceArea) {
		t.Fatalf("runner without a fix must be out of area, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// InitiateBooking idempotency
// ---------------------------------------------------------------------------

// Scenario D: an existing pending task for the pair is reused, never
// duplicated.
func TestInitiateBookingReusesPendingTask(t *testing.T) {
	runner := availableRunnerAt(-1.2910, 36.8220)
	clientID := uuid.New()
	tasks := &mockTaskStore{}
	chats := newMockChatStore()
	c := newCoordinator(newMockRunnerDir(runner), tasks, chats)

	first, err := c.InitiateBooking(context.Background(), runner.ID, clientID, nairobiClient(), testSpec())
	if err != nil {
		t.Fatalf("first InitiateBooking: %v", err)
	}
	second, err := c.InitiateBooking(context.Background(), runner.ID, clientID, nairobiClient(), testSpec())
	if err != nil {
		t.Fatalf("second InitiateBooking: %v", err)
	}

	if first.TaskID != second.TaskID {
		t.Fatalf("task IDs differ: %s vs %s", first.TaskID, second.TaskID)
	}
	if !second.Reused {
		t.Error("second booking should report the task as reused")
	}
	if tasks.count() != 1 {
		t.Fatalf("expected 1 task, got %d", tasks.count())
	}
	if chats.count() != 1 {
		t.Fatalf("expected 1 chat, got %d", chats.count())
	}
}

func TestInitiateBookingCarriesFullTaskFields(t *testing.T) {
	runner := availableRunnerAt(-1.2910, 36.8220)
	tasks := &mockTaskStore{}
	c := newCoordinator(newMockRunnerDir(runner), tasks, newMockChatStore())

	loc := nairobiClient()
	if _, err := c.InitiateBooking(context.Background(), runner.ID, uuid.New(), loc, testSpec()); err != nil {
		t.Fatalf("InitiateBooking: %v", err)
	}

	created := tasks.tasks[0]
	if created.Status != models.TaskStatusPending {
		t.Errorf("status = %q, want pending", created.Status)
	}
	if created.Category == "" || created.ServiceName == "" || created.Price == 0 {
		t.Errorf("task missing request fields: %+v", created)
	}
	if created.RunnerID == nil || *created.RunnerID != runner.ID {
		t.Error("task must carry the runner id")
	}
	if created.Location.Coordinates == nil || *created.Location.Coordinates != loc {
		t.Error("task coordinates must be the client location")
	}
}

// Chat creation is idempotent: a second call for the same task id is a no-op.
func TestChatCreatedAtMostOnce(t *testing.T) {
	runner := availableRunnerAt(-1.2910, 36.8220)
	clientID := uuid.New()
	chats := newMockChatStore()
	c := newCoordinator(newMockRunnerDir(runner), &mockTaskStore{}, chats)

	for i := 0; i < 2; i++ {
		if _, err := c.InitiateBooking(context.Background(), runner.ID, clientID, nairobiClient(), testSpec()); err != nil {
			t.Fatalf("InitiateBooking #%d: %v", i+1, err)
		}
	}
	if chats.count() != 1 {
		t.Fatalf("expected exactly 1 chat, got %d", chats.count())
	}
}

// Task created but chat creation failed: the retry finds the existing task
// and only re-attempts the chat.
func TestRetryAfterChatFailureCompletesWithoutDuplicates(t *testing.T) {
	runner := availableRunnerAt(-1.2910, 36.8220)
	clientID := uuid.New()
	tasks := &mockTaskStore{}
	chats := newMockChatStore()
	chats.fail = true
	c := newCoordinator(newMockRunnerDir(runner), tasks, chats)

	_, err := c.InitiateBooking(context.Background(), runner.ID, clientID, nairobiClient(), testSpec())
	if !errors.Is(err, ErrBookingFailed) {
		t.Fatalf("expected ErrBookingFailed, got %v", err)
	}
	if tasks.count() != 1 {
		t.Fatalf("task should have been created before the chat failure")
	}

	chats.mu.Lock()
	chats.fail = false
	chats.mu.Unlock()

	b, err := c.InitiateBooking(context.Background(), runner.ID, clientID, nairobiClient(), testSpec())
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !b.Reused {
		t.Error("retry must reuse the task from the failed attempt")
	}
	if tasks.count() != 1 {
		t.Fatalf("retry duplicated the task: %d tasks", tasks.count())
	}
	if chats.count() != 1 {
		t.Fatalf("expected 1 chat after retry, got %d", chats.count())
	}
}

// ---------------------------------------------------------------------------
// double-tap and timeout protection
// ---------------------------------------------------------------------------

func TestDoubleTapRejectedWhileInFlight(t *testing.T) {
	runner := availableRunnerAt(-1.2910, 36.8220)
	clientID := uuid.New()
	tasks := &mockTaskStore{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	c := newCoordinator(newMockRunnerDir(runner), tasks, newMockChatStore())

	done := make(chan error, 1)
	go func() {
		_, err := c.InitiateBooking(context.Background(), runner.ID, clientID, nairobiClient(), testSpec())
		done <- err
	}()

	// Wait until the first call is blocked inside Create, then tap again.
	select {
	case <-tasks.entered:
	case <-time.After(time.Second):
		t.Fatal("first booking never reached the store")
	}
	if _, err := c.InitiateBooking(context.Background(), runner.ID, clientID, nairobiClient(), testSpec()); !errors.Is(err, ErrBookingInProgress) {
		t.Fatalf("second tap: expected ErrBookingInProgress, got %v", err)
	}

	close(tasks.block)
	if err := <-done; err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if tasks.count() != 1 {
		t.Fatalf("double tap created %d tasks", tasks.count())
	}
}

// The in-flight guard is scoped to the client: one client's booking being
// mid-flight must not reject a different client booking a different runner.
func TestIndependentClientsBookConcurrently(t *testing.T) {
	runnerA := availableRunnerAt(-1.2910, 36.8220)
	runnerB := availableRunnerAt(-1.2920, 36.8230)
	clientA := uuid.New()
	clientB := uuid.New()
	tasks := &mockTaskStore{block: make(chan struct{}), entered: make(chan struct{}, 2)}
	c := newCoordinator(newMockRunnerDir(runnerA, runnerB), tasks, newMockChatStore())

	done := make(chan error, 2)
	go func() {
		_, err := c.InitiateBooking(context.Background(), runnerA.ID, clientA, nairobiClient(), testSpec())
		done <- err
	}()
	select {
	case <-tasks.entered:
	case <-time.After(time.Second):
		t.Fatal("client A's booking never reached the store")
	}

	// Client A is blocked inside the store; client B must get past the guard
	// and reach the store too, not fail with ErrBookingInProgress.
	go func() {
		_, err := c.InitiateBooking(context.Background(), runnerB.ID, clientB, nairobiClient(), testSpec())
		done <- err
	}()
	select {
	case <-tasks.entered:
	case <-time.After(time.Second):
		t.Fatal("client B's booking was held back by client A's in-flight booking")
	}

	close(tasks.block)
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("booking %d: %v", i+1, err)
		}
	}
	if tasks.count() != 2 {
		t.Fatalf("expected 2 tasks, got %d", tasks.count())
	}
}

func TestBookingTimeout(t *testing.T) {
	runner := availableRunnerAt(-1.2910, 36.8220)
	tasks := &mockTaskStore{block: make(chan struct{})} // never closed
	c := newCoordinator(newMockRunnerDir(runner), tasks, newMockChatStore())
	c.Timeout = 50 * time.Millisecond

	_, err := c.InitiateBooking(context.Background(), runner.ID, uuid.New(), nairobiClient(), testSpec())
	if !errors.Is(err, ErrBookingTimeout) {
		t.Fatalf("expected ErrBookingTimeout, got %v", err)
	}
	if errors.Is(err, ErrBookingFailed) {
		t.Error("timeout must be distinct from BookingFailed")
	}
}

func TestStoreFailureIsRetryable(t *testing.T) {
	runner := availableRunnerAt(-1.2910, 36.8220)
	tasks := &mockTaskStore{failAll: true}
	c := newCoordinator(newMockRunnerDir(runner), tasks, newMockChatStore())

	_, err := c.InitiateBooking(context.Background(), runner.ID, uuid.New(), nairobiClient(), testSpec())
	if !errors.Is(err, ErrBookingFailed) {
		t.Fatalf("expected ErrBookingFailed, got %v", err)
	}
}
