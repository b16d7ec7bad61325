package mocks

import (
	"context"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository interface.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) Create(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) ListWorkflows(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.WorkflowListResult), args.Error(1)
}

func (m *MockWorkflowRepository) Update(ctx context.Context, workflow *models.Workflow, expectedVersion int64) error {
	args := m.Called(ctx, workflow, expectedVersion)

	return args.Error(0)
}

func (m *MockWorkflowRepository) Delete(ctx context.Context, id string, expectedVersion int64) error {
	args := m.Called(ctx, id, expectedVersion)

	return args.Error(0)
}

func (m *MockWorkflowRepository) RecordExecution(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)

	return args.Error(0)
}

func (m *MockWorkflowRepository) RecordCompletion(ctx context.Context, id string, seconds float64) error {
	args := m.Called(ctx, id, seconds)

	return args.Error(0)
}

// MockExecutionRepository is a mock implementation of persistence.ExecutionRepository interface.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Execution), args.Error(1)
}

func (m *MockExecutionRepository) Update(ctx context.Context, execution *models.Execution, expectedVersion int64) error {
	args := m.Called(ctx, execution, expectedVersion)

	return args.Error(0)
}

func (m *MockExecutionRepository) ListExecutions(ctx context.Context, opts persistence.ListExecutionsOptions) ([]*models.Execution, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Execution), args.Error(1)
}

func (m *MockExecutionRepository) CountExecutions(ctx context.Context, filter persistence.ExecutionFilter) (int64, error) {
	args := m.Called(ctx, filter)

	return args.Get(0).(int64), args.Error(1)
}

func (m *MockExecutionRepository) FindByWorkflow(ctx context.Context, workflowID, organizationID string) ([]*models.Execution, error) {
	args := m.Called(ctx, workflowID, organizationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Execution), args.Error(1)
}

// MockContactRepository is a mock implementation of persistence.ContactRepository interface.
type MockContactRepository struct {
	mock.Mock
}

func (m *MockContactRepository) Get(ctx context.Context, id, organizationID string) (*models.Contact, error) {
	args := m.Called(ctx, id, organizationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Contact), args.Error(1)
}

func (m *MockContactRepository) Save(ctx context.Context, contact *models.Contact) error {
	args := m.Called(ctx, contact)

	return args.Error(0)
}

// MockPortalRepository is a mock implementation of persistence.PortalRepository interface.
type MockPortalRepository struct {
	mock.Mock
}

func (m *MockPortalRepository) ListActiveByWorkflow(ctx context.Context, workflowID, organizationID string) ([]*models.Portal, error) {
	args := m.Called(ctx, workflowID, organizationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Portal), args.Error(1)
}

func (m *MockPortalRepository) Save(ctx context.Context, portal *models.Portal) error {
	args := m.Called(ctx, portal)

	return args.Error(0)
}

// MockUserRepository is a mock implementation of persistence.UserRepository interface.
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Get(ctx context.Context, id string) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) Save(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)

	return args.Error(0)
}

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	Workflows  *MockWorkflowRepository
	Executions *MockExecutionRepository
	Contacts   *MockContactRepository
	Portals    *MockPortalRepository
	Users      *MockUserRepository
}

// NewMockPersistence creates a new MockPersistence with mock repositories.
func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		Workflows:  &MockWorkflowRepository{},
		Executions: &MockExecutionRepository{},
		Contacts:   &MockContactRepository{},
		Portals:    &MockPortalRepository{},
		Users:      &MockUserRepository{},
	}
}

func (m *MockPersistence) WorkflowRepository() persistence.WorkflowRepository {
	return m.Workflows
}

func (m *MockPersistence) ExecutionRepository() persistence.ExecutionRepository {
	return m.Executions
}

func (m *MockPersistence) ContactRepository() persistence.ContactRepository {
	return m.Contacts
}

func (m *MockPersistence) PortalRepository() persistence.PortalRepository {
	return m.Portals
}

func (m *MockPersistence) UserRepository() persistence.UserRepository {
	return m.Users
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
