package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/stepflow/pkg/mocks"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/persistence/file"
	"github.com/dukex/stepflow/pkg/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// testEnv wires the three services onto one file store, one clock and one id sequence.
type testEnv struct {
	persistence persistence.Persistence
	bus         *mocks.MockEventBus
	clock       *testutil.FixedClock
	workflows   *Workflow
	executions  *Execution
	analytics   *Analytics
}

func newTestEnv(t *testing.T, extra ...Option) *testEnv {
	t.Helper()

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	env := &testEnv{
		persistence: file.NewPersistence(t.TempDir()),
		bus:         bus,
		clock:       &testutil.FixedClock{T: time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)},
	}

	opts := append([]Option{
		WithPublisher(bus),
		WithLogger(slog.New(slog.DiscardHandler)),
		WithClock(env.clock.Now),
		WithIDGenerator(testutil.Sequence("id")),
	}, extra...)

	env.workflows = NewWorkflow(env.persistence, opts...)
	env.executions = NewExecution(env.persistence, opts...)
	env.analytics = NewAnalytics(env.persistence, opts...)

	return env
}

// seedWorkflow stores a workflow directly, bypassing the service rules.
func (e *testEnv) seedWorkflow(t *testing.T, overrides ...func(*models.Workflow)) *models.Workflow {
	t.Helper()

	workflow := testutil.CreateTestWorkflow(overrides...)
	require.NoError(t, e.persistence.WorkflowRepository().Create(context.Background(), workflow))

	return workflow
}

// seedActiveWorkflow stores an active workflow with n Screen steps.
func (e *testEnv) seedActiveWorkflow(t *testing.T, n int, overrides ...func(*models.Workflow)) *models.Workflow {
	t.Helper()

	return e.seedWorkflow(t, append([]func(*models.Workflow){
		testutil.WithStatus(models.WorkflowStatusActive),
		testutil.WithSteps(testutil.CreateTestSteps(n)),
	}, overrides...)...)
}

func (e *testEnv) seedContact(t *testing.T, id, name string) *models.Contact {
	t.Helper()

	contact := testutil.CreateTestContact(id, name)
	require.NoError(t, e.persistence.ContactRepository().Save(context.Background(), contact))

	return contact
}

func (e *testEnv) storedWorkflow(t *testing.T, id string) *models.Workflow {
	t.Helper()

	workflow, err := e.persistence.WorkflowRepository().GetByID(context.Background(), id)
	require.NoError(t, err)

	return workflow
}

// publishedTypes lists the event types published so far, in order.
func (e *testEnv) publishedTypes() []string {
	var types []string
	for _, event := range e.bus.Published() {
		types = append(types, string(event.GetType()))
	}

	return types
}

func ptr[T any](v T) *T {
	return &v
}
