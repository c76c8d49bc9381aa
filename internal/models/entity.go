package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EntityType тип синхронизируемой сущности (тег объединения payload).
type EntityType string

// Поддерживаемые типы сущностей
const (
	EntityActivity    EntityType = "activity"
	EntityTask        EntityType = "task"
	EntityGoal        EntityType = "goal"
	EntityActivityLog EntityType = "activityLog"
)

// EntityTypes возвращает все поддерживаемые типы в порядке синхронизации:
// родители раньше потомков.
func EntityTypes() []EntityType {
	return []EntityType{EntityActivity, EntityTask, EntityGoal, EntityActivityLog}
}

// ErrUnknownEntityType возвращается для тега, не входящего в объединение
var ErrUnknownEntityType = errors.New("unknown entity type")

// Valid проверяет, что тип входит в закрытое множество
func (t EntityType) Valid() bool {
	switch t {
	case EntityActivity, EntityTask, EntityGoal, EntityActivityLog:
		return true
	}
	return false
}

// ParseEntityType разбирает строковый тег сущности
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownEntityType, s)
	}
	return t, nil
}

// SyncMeta метаданные синхронизации, общие для всех сущностей.
// UpdatedAt участвует в LWW, DeletedAt != nil означает tombstone.
type SyncMeta struct {
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// Meta возвращает метаданные синхронизации
func (m *SyncMeta) Meta() *SyncMeta {
	return m
}

// Deleted сообщает, является ли запись tombstone
func (m *SyncMeta) Deleted() bool {
	return m.DeletedAt != nil
}

// Entity вариант объединения payload.
type Entity interface {
	EntityID() string
	Kind() EntityType
	// Parent возвращает сущность-владельца; пустой id означает,
	// что сущность принадлежит пользователю напрямую.
	Parent() (EntityType, string)
	Validate() error
	Meta() *SyncMeta
}

// NewEntity создает пустой вариант для тега
func NewEntity(t EntityType) (Entity, error) {
	switch t {
	case EntityActivity:
		return &Activity{}, nil
	case EntityTask:
		return &Task{}, nil
	case EntityGoal:
		return &Goal{}, nil
	case EntityActivityLog:
		return &ActivityLog{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEntityType, t)
}

// DecodeEntity разбирает JSON payload в вариант, выбранный по тегу
func DecodeEntity(t EntityType, raw json.RawMessage) (Entity, error) {
	e, err := NewEntity(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, e); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", t, err)
	}
	return e, nil
}

// Snapshot серверная строка сущности: payload плюс авторитетные метаданные.
type Snapshot struct {
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
	ID         string
	EntityType EntityType
	UserID     string
	ParentID   string
	Payload    json.RawMessage
}

// SnapshotOf строит Snapshot из сущности клиента
func SnapshotOf(userID string, e Entity) (*Snapshot, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", e.Kind(), err)
	}
	_, parentID := e.Parent()
	meta := e.Meta()
	return &Snapshot{
		ID:         e.EntityID(),
		EntityType: e.Kind(),
		UserID:     userID,
		ParentID:   parentID,
		Payload:    payload,
		CreatedAt:  meta.CreatedAt,
		UpdatedAt:  meta.UpdatedAt,
		DeletedAt:  meta.DeletedAt,
	}, nil
}

// Entity декодирует payload и накладывает серверные метаданные
func (s *Snapshot) Entity() (Entity, error) {
	e, err := DecodeEntity(s.EntityType, s.Payload)
	if err != nil {
		return nil, err
	}
	meta := e.Meta()
	meta.CreatedAt = s.CreatedAt
	meta.UpdatedAt = s.UpdatedAt
	meta.DeletedAt = s.DeletedAt
	return e, nil
}
