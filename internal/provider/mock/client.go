package mock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kiranshivaraju/meshgen/internal/provider"
)

// MockClient satisfies provider.Client for testing.
type MockClient struct {
	GetStatusFunc  func(ctx context.Context, externalJobID string) (provider.Status, error)
	CreateTaskFunc func(ctx context.Context, imageURLs []string, webhookURL string) (string, error)

	statusCalls atomic.Int64
	createCalls atomic.Int64
}

func (m *MockClient) GetStatus(ctx context.Context, externalJobID string) (provider.Status, error) {
	m.statusCalls.Add(1)
	if m.GetStatusFunc != nil {
		return m.GetStatusFunc(ctx, externalJobID)
	}
	return provider.Status{ExternalJobID: externalJobID, Status: "processing"}, nil
}

func (m *MockClient) CreateTask(ctx context.Context, imageURLs []string, webhookURL string) (string, error) {
	n := m.createCalls.Add(1)
	if m.CreateTaskFunc != nil {
		return m.CreateTaskFunc(ctx, imageURLs, webhookURL)
	}
	return fmt.Sprintf("ext-mock-%d", n), nil
}

// StatusCalls returns how many times GetStatus was invoked.
func (m *MockClient) StatusCalls() int { return int(m.statusCalls.Load()) }

// CreateCalls returns how many times CreateTask was invoked.
func (m *MockClient) CreateCalls() int { return int(m.createCalls.Load()) }

// NewMockClient returns a MockClient that reports every task as processing.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// NewStaticClient returns a MockClient answering GetStatus from a fixed table.
// Unknown ids yield provider.ErrTaskNotFound. Entries may be replaced with Set.
func NewStaticClient(statuses map[string]provider.Status) *StaticClient {
	s := &StaticClient{statuses: make(map[string]provider.Status, len(statuses))}
	for k, v := range statuses {
		s.statuses[k] = v
	}
	s.GetStatusFunc = func(_ context.Context, id string) (provider.Status, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		st, ok := s.statuses[id]
		if !ok {
			return provider.Status{}, fmt.Errorf("%w: %s", provider.ErrTaskNotFound, id)
		}
		return st, nil
	}
	return s
}

// StaticClient is a MockClient backed by a mutable status table.
type StaticClient struct {
	MockClient
	mu       sync.Mutex
	statuses map[string]provider.Status
}

func (s *StaticClient) Set(id string, st provider.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = st
}

// NewFailingClient returns a MockClient that always returns the given error.
func NewFailingClient(err error) *MockClient {
	return &MockClient{
		GetStatusFunc: func(_ context.Context, _ string) (provider.Status, error) {
			return provider.Status{}, err
		},
		CreateTaskFunc: func(_ context.Context, _ []string, _ string) (string, error) {
			return "", err
		},
	}
}

// Compile-time check that MockClient implements provider.Client.
var _ provider.Client = (*MockClient)(nil)
