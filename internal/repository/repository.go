package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a record does not exist or is not visible to
// the caller.
var ErrNotFound = errors.New("record not found")

// Repository is the GORM-backed store for every model. It implements
// alert.TriggerStore, alert.AlertStore and ingest.Recorder.
type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// DB exposes the underlying handle for health checks.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Scope restricts queries to a set of hosts. A nil HostIDs means all hosts.
type Scope struct {
	HostIDs []uint
}

// All is the unrestricted scope used for administrators.
var All = Scope{}

func (s Scope) apply(q *gorm.DB, column string) *gorm.DB {
	if s.HostIDs == nil {
		return q
	}
	if len(s.HostIDs) == 0 {
		return q.Where("1 = 0")
	}
	return q.Where(column+" IN ?", s.HostIDs)
}

// Allows reports whether hostID is inside the scope.
func (s Scope) Allows(hostID uint) bool {
	if s.HostIDs == nil {
		return true
	}
	for _, id := range s.HostIDs {
		if id == hostID {
			return true
		}
	}
	return false
}
