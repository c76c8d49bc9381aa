package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Форматы дат и времени в payload
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// ErrInvalidPayload оборачивает все ошибки проверки payload
var ErrInvalidPayload = errors.New("invalid payload")

// Activity вид активности пользователя
type Activity struct {
	SyncMeta
	Description       string `json:"description,omitempty"`
	Emoji             string `json:"emoji,omitempty"`
	ID                string `json:"id"`
	Label             string `json:"label,omitempty"`
	Name              string `json:"name"`
	OrderIndex        string `json:"orderIndex,omitempty"`
	QuantityUnit      string `json:"quantityUnit,omitempty"`
	ShowCombinedStats bool   `json:"showCombinedStats"`
}

func (a *Activity) EntityID() string             { return a.ID }
func (a *Activity) Kind() EntityType             { return EntityActivity }
func (a *Activity) Parent() (EntityType, string) { return "", "" }

// Validate проверяет обязательные поля активности
func (a *Activity) Validate() error {
	if err := checkUUID("id", a.ID); err != nil {
		return err
	}
	if a.Name == "" {
		return fieldError("name", "required")
	}
	return nil
}

// Task задача пользователя
type Task struct {
	SyncMeta
	ArchivedAt *time.Time `json:"archivedAt,omitempty"`
	DoneDate   *string    `json:"doneDate,omitempty"`
	DueDate    *string    `json:"dueDate,omitempty"`
	ID         string     `json:"id"`
	Memo       string     `json:"memo,omitempty"`
	StartDate  *string    `json:"startDate,omitempty"`
	Title      string     `json:"title"`
}

func (t *Task) EntityID() string             { return t.ID }
func (t *Task) Kind() EntityType             { return EntityTask }
func (t *Task) Parent() (EntityType, string) { return "", "" }

// Validate проверяет обязательные поля задачи
func (t *Task) Validate() error {
	if err := checkUUID("id", t.ID); err != nil {
		return err
	}
	if t.Title == "" {
		return fieldError("title", "required")
	}
	dates := []struct {
		v     *string
		field string
	}{
		{t.StartDate, "startDate"},
		{t.DueDate, "dueDate"},
		{t.DoneDate, "doneDate"},
	}
	for _, d := range dates {
		if d.v == nil {
			continue
		}
		if err := checkDate(d.field, *d.v); err != nil {
			return err
		}
	}
	return nil
}

// Goal цель по активности
type Goal struct {
	SyncMeta
	EndDate             *string `json:"endDate,omitempty"`
	ActivityID          string  `json:"activityId"`
	Description         string  `json:"description,omitempty"`
	ID                  string  `json:"id"`
	StartDate           string  `json:"startDate"`
	DailyTargetQuantity float64 `json:"dailyTargetQuantity"`
}

func (g *Goal) EntityID() string             { return g.ID }
func (g *Goal) Kind() EntityType             { return EntityGoal }
func (g *Goal) Parent() (EntityType, string) { return EntityActivity, g.ActivityID }

// Validate проверяет обязательные поля цели
func (g *Goal) Validate() error {
	if err := checkUUID("id", g.ID); err != nil {
		return err
	}
	if err := checkUUID("activityId", g.ActivityID); err != nil {
		return err
	}
	if g.DailyTargetQuantity < 0 {
		return fieldError("dailyTargetQuantity", "must not be negative")
	}
	if err := checkDate("startDate", g.StartDate); err != nil {
		return err
	}
	if g.EndDate != nil {
		return checkDate("endDate", *g.EndDate)
	}
	return nil
}

// ActivityLog запись о выполнении активности
type ActivityLog struct {
	SyncMeta
	ActivityKindID *string  `json:"activityKindId,omitempty"`
	Quantity       *float64 `json:"quantity,omitempty"`
	Time           *string  `json:"time,omitempty"`
	ActivityID     string   `json:"activityId"`
	Date           string   `json:"date"`
	ID             string   `json:"id"`
	Memo           string   `json:"memo"`
}

func (l *ActivityLog) EntityID() string             { return l.ID }
func (l *ActivityLog) Kind() EntityType             { return EntityActivityLog }
func (l *ActivityLog) Parent() (EntityType, string) { return EntityActivity, l.ActivityID }

// Validate проверяет обязательные поля записи активности
func (l *ActivityLog) Validate() error {
	if err := checkUUID("id", l.ID); err != nil {
		return err
	}
	if err := checkUUID("activityId", l.ActivityID); err != nil {
		return err
	}
	if l.ActivityKindID != nil {
		if err := checkUUID("activityKindId", *l.ActivityKindID); err != nil {
			return err
		}
	}
	if l.Quantity != nil && *l.Quantity < 0 {
		return fieldError("quantity", "must not be negative")
	}
	if err := checkDate("date", l.Date); err != nil {
		return err
	}
	if l.Time != nil {
		if _, err := time.Parse(TimeLayout, *l.Time); err != nil {
			return fieldError("time", "must be HH:MM")
		}
	}
	return nil
}

// FieldError ошибка конкретного поля payload
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap позволяет проверять errors.Is(err, ErrInvalidPayload)
func (e *FieldError) Unwrap() error {
	return ErrInvalidPayload
}

func fieldError(field, msg string) error {
	return &FieldError{Field: field, Message: msg}
}

func checkUUID(field, v string) error {
	if v == "" {
		return fieldError(field, "required")
	}
	if _, err := uuid.Parse(v); err != nil {
		return fieldError(field, "must be a UUID")
	}
	return nil
}

func checkDate(field, v string) error {
	if _, err := time.Parse(DateLayout, v); err != nil {
		return fieldError(field, "must be YYYY-MM-DD")
	}
	return nil
}
