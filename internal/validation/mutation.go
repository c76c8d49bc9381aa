package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/nnsi/hono-practice-sub007/internal/models"
)

// MaxBatchSize максимальное количество элементов в одном sync-запросе
const MaxBatchSize = 100

// ErrInvalid базовая ошибка структурной валидации: весь запрос отклоняется с 400
var ErrInvalid = errors.New("validation failed")

// FieldError ошибка одного поля одного элемента пакета.
// Index == -1 означает ошибку уровня пакета.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Index   int    `json:"index"`
}

// Errors набор ошибок валидации пакета
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		if fe.Index < 0 {
			parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
			continue
		}
		parts = append(parts, fmt.Sprintf("item %d: %s: %s", fe.Index, fe.Field, fe.Message))
	}
	return strings.Join(parts, "; ")
}

// Unwrap позволяет проверять errors.Is(err, ErrInvalid)
func (e Errors) Unwrap() error {
	return ErrInvalid
}

// ValidateMutation проверяет структуру одного изменения
func ValidateMutation(m *models.Mutation) error {
	errs := mutationErrors(0, m)
	if len(errs) > 0 {
		for i := range errs {
			errs[i].Index = -1
		}
		return errs
	}
	return nil
}

// ValidateBatch проверяет пакет изменений для маршрута entityType.
// Любая ошибка отклоняет пакет целиком.
func ValidateBatch(entityType models.EntityType, items []*models.Mutation) error {
	if len(items) > MaxBatchSize {
		return Errors{{
			Index:   -1,
			Field:   "items",
			Message: fmt.Sprintf("batch must not exceed %d items, got %d", MaxBatchSize, len(items)),
		}}
	}

	var errs Errors
	seen := make(map[string]int, len(items))

	for i, m := range items {
		if m == nil {
			errs = append(errs, FieldError{Index: i, Field: "item", Message: "must not be null"})
			continue
		}

		errs = append(errs, mutationErrors(i, m)...)

		if m.EntityType != entityType {
			errs = append(errs, FieldError{
				Index:   i,
				Field:   "entityType",
				Message: fmt.Sprintf("expected %q, got %q", entityType, m.EntityType),
			})
		}

		// Исход по каждому id должен быть однозначным
		if prev, ok := seen[m.EntityID]; ok && m.EntityID != "" {
			errs = append(errs, FieldError{
				Index:   i,
				Field:   "entityId",
				Message: fmt.Sprintf("duplicates item %d", prev),
			})
			continue
		}
		seen[m.EntityID] = i
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func mutationErrors(i int, m *models.Mutation) Errors {
	var errs Errors
	add := func(field, msg string) {
		errs = append(errs, FieldError{Index: i, Field: field, Message: msg})
	}

	if _, err := ulid.ParseStrict(m.ID); err != nil {
		add("id", "must be a ULID")
	}
	if !m.EntityType.Valid() {
		add("entityType", fmt.Sprintf("unknown entity type %q", m.EntityType))
	}
	if _, err := uuid.Parse(m.EntityID); err != nil {
		add("entityId", "must be a UUID")
	}
	if !m.Operation.Valid() {
		add("operation", fmt.Sprintf("unknown operation %q", m.Operation))
	}
	if m.Timestamp.IsZero() {
		add("timestamp", "required")
	}

	if m.Payload == nil {
		add("payload", "required")
		return errs
	}
	if m.Payload.Kind() != m.EntityType {
		add("payload", fmt.Sprintf("payload kind %q does not match entity type", m.Payload.Kind()))
	}
	if m.Payload.EntityID() != m.EntityID {
		add("payload.id", "must equal entityId")
	}
	if err := m.Payload.Validate(); err != nil {
		var fe *models.FieldError
		if errors.As(err, &fe) {
			add("payload."+fe.Field, fe.Message)
		} else {
			add("payload", err.Error())
		}
	}

	return errs
}
