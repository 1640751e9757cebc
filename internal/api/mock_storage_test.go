package api

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/martinsuchenak/podd/internal/model"
	"github.com/martinsuchenak/podd/internal/storage"
	"github.com/martinsuchenak/podd/pkg/oshandler"
)

// mockStorage is an in-memory storage.Storage for handler tests.
type mockStorage struct {
	targets    map[string]*model.Target
	operations []*model.OperationRecord
	err        error // returned from every method when set
}

func newMockStorage() *mockStorage {
	return &mockStorage{targets: make(map[string]*model.Target)}
}

func (m *mockStorage) ListTargets(filter *model.TargetFilter) ([]model.Target, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []model.Target
	for _, t := range m.targets {
		if filter != nil && filter.Transport != "" && t.Transport != filter.Transport {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockStorage) GetTarget(id string) (*model.Target, error) {
	if m.err != nil {
		return nil, m.err
	}
	if t, ok := m.targets[id]; ok {
		copied := *t
		return &copied, nil
	}
	for _, t := range m.targets {
		if strings.EqualFold(t.Name, id) {
			copied := *t
			return &copied, nil
		}
	}
	return nil, storage.ErrTargetNotFound
}

func (m *mockStorage) CreateTarget(target *model.Target) error {
	if m.err != nil {
		return m.err
	}
	for _, t := range m.targets {
		if strings.EqualFold(t.Name, target.Name) {
			return storage.ErrDuplicateName
		}
	}
	copied := *target
	m.targets[target.ID] = &copied
	return nil
}

func (m *mockStorage) UpdateTarget(target *model.Target) error {
	if m.err != nil {
		return m.err
	}
	if _, ok := m.targets[target.ID]; !ok {
		return storage.ErrTargetNotFound
	}
	copied := *target
	m.targets[target.ID] = &copied
	return nil
}

func (m *mockStorage) DeleteTarget(id string) error {
	if m.err != nil {
		return m.err
	}
	if _, ok := m.targets[id]; !ok {
		return storage.ErrTargetNotFound
	}
	delete(m.targets, id)
	return nil
}

func (m *mockStorage) SearchTargets(query string) ([]model.Target, error) {
	if m.err != nil {
		return nil, m.err
	}
	query = strings.ToLower(query)
	var out []model.Target
	for _, t := range m.targets {
		if strings.Contains(strings.ToLower(t.Name), query) ||
			strings.Contains(strings.ToLower(t.Address), query) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *mockStorage) RecordOperation(record *model.OperationRecord) error {
	if m.err != nil {
		return m.err
	}
	m.operations = append(m.operations, record)
	return nil
}

func (m *mockStorage) ListOperations(filter *model.OperationFilter) ([]model.OperationRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []model.OperationRecord
	for _, op := range m.operations {
		if filter != nil && filter.TargetID != "" && op.TargetID != filter.TargetID {
			continue
		}
		out = append(out, *op)
	}
	if filter != nil && filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *mockStorage) Close() error { return nil }

// stubRunner records calls and returns canned results.
type stubRunner struct {
	lastCommand string
	lastConfig  oshandler.NetworkConfig
	result      oshandler.Result
	interfaces  []oshandler.NetworkInterface
	err         error
}

func (s *stubRunner) Run(ctx context.Context, target *model.Target, command string, timeout time.Duration, elevate bool) (oshandler.Result, error) {
	s.lastCommand = command
	return s.result, s.err
}

func (s *stubRunner) ConfigureNetwork(ctx context.Context, target *model.Target, config oshandler.NetworkConfig) (oshandler.Result, error) {
	s.lastConfig = config
	return s.result, s.err
}

func (s *stubRunner) Interfaces(ctx context.Context, target *model.Target) ([]oshandler.NetworkInterface, error) {
	return s.interfaces, s.err
}

// stubProber answers VLAN verification without a switch.
type stubProber struct {
	present bool
	err     error
}

func (s *stubProber) VerifyVLAN(ctx context.Context, vlanID int) (bool, error) {
	return s.present, s.err
}
