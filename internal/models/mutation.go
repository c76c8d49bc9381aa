package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Operation вид изменения сущности
type Operation string

// Поддерживаемые операции
const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Valid проверяет, что операция входит в закрытое множество
func (o Operation) Valid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// Mutation одно локальное изменение сущности, ожидающее доставки на сервер.
// Payload всегда содержит полное желаемое состояние сущности.
type Mutation struct {
	Timestamp      time.Time  `json:"timestamp"`      // Timestamp время изменения на клиенте, используется в LWW
	CreatedAt      time.Time  `json:"createdAt"`      // CreatedAt время постановки в очередь
	Payload        Entity     `json:"payload"`        // Payload вариант, выбранный по EntityType
	ID             string     `json:"id"`             // ID идентификатор записи очереди (ULID)
	UserID         string     `json:"userId"`         // UserID владелец; сервер берет пользователя из токена
	EntityType     EntityType `json:"entityType"`     // EntityType тег объединения
	EntityID       string     `json:"entityId"`       // EntityID идентификатор сущности (UUID)
	Operation      Operation  `json:"operation"`      // Operation create/update/delete
	SequenceNumber uint64     `json:"sequenceNumber"` // SequenceNumber монотонный номер на устройстве; 0 если неизвестен
}

// mutationWire промежуточное представление для разбора payload по тегу
type mutationWire struct {
	Timestamp      time.Time       `json:"timestamp"`
	CreatedAt      time.Time       `json:"createdAt"`
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	EntityType     EntityType      `json:"entityType"`
	EntityID       string          `json:"entityId"`
	Operation      Operation       `json:"operation"`
	Payload        json.RawMessage `json:"payload"`
	SequenceNumber uint64          `json:"sequenceNumber"`
}

// UnmarshalJSON разбирает payload в вариант, соответствующий entityType
func (m *Mutation) UnmarshalJSON(data []byte) error {
	var w mutationWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*m = Mutation{
		Timestamp:      w.Timestamp,
		CreatedAt:      w.CreatedAt,
		ID:             w.ID,
		UserID:         w.UserID,
		EntityType:     w.EntityType,
		EntityID:       w.EntityID,
		Operation:      w.Operation,
		SequenceNumber: w.SequenceNumber,
	}

	if len(w.Payload) == 0 || string(w.Payload) == "null" {
		return nil
	}

	payload, err := DecodeEntity(w.EntityType, w.Payload)
	if err != nil {
		return fmt.Errorf("mutation %s: %w", w.ID, err)
	}
	m.Payload = payload
	return nil
}

// Key ключ сущности, к которой относится изменение
func (m *Mutation) Key() EntityKey {
	return EntityKey{Type: m.EntityType, ID: m.EntityID}
}

// EntityKey уникальный ключ сущности
type EntityKey struct {
	Type EntityType
	ID   string
}

func (k EntityKey) String() string {
	return string(k.Type) + "/" + k.ID
}
