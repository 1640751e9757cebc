package storage

import (
	"errors"

	"github.com/martinsuchenak/podd/internal/model"
)

var (
	ErrTargetNotFound = errors.New("target not found")
	ErrInvalidID      = errors.New("invalid target ID")
	ErrDuplicateName  = errors.New("target name already exists")
)

// Storage defines the interface for target inventory and audit storage
type Storage interface {
	ListTargets(filter *model.TargetFilter) ([]model.Target, error)
	GetTarget(id string) (*model.Target, error)
	CreateTarget(target *model.Target) error
	UpdateTarget(target *model.Target) error
	DeleteTarget(id string) error
	SearchTargets(query string) ([]model.Target, error)

	RecordOperation(record *model.OperationRecord) error
	ListOperations(filter *model.OperationFilter) ([]model.OperationRecord, error)

	Close() error
}
