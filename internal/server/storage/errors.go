package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/nnsi/hono-practice-sub007/internal/models"
)

// Common storage errors
var (
	// ErrEntryNotFound indicates that entity was not found
	ErrEntryNotFound = errors.New("entry not found")

	// ErrUnknownEntityType indicates that entity type has no table
	ErrUnknownEntityType = errors.New("unknown entity type")
)

// TableFor возвращает таблицу для типа сущности.
// Имена таблиц берутся только из этого закрытого списка.
func TableFor(t models.EntityType) (string, error) {
	switch t {
	case models.EntityActivity:
		return "activities", nil
	case models.EntityTask:
		return "tasks", nil
	case models.EntityGoal:
		return "goals", nil
	case models.EntityActivityLog:
		return "activity_logs", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEntityType, t)
}

// ToMillis переводит время в миллисекунды unix
func ToMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis переводит миллисекунды unix во время UTC
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
