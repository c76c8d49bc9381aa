// Package lww реализует правила Last-Write-Wins, общие для сервера и клиента:
// выбор победителя по времени изменения и подавление дубликатов повторной доставки.
package lww

import (
	"time"

	"github.com/nnsi/hono-practice-sub007/internal/models"
)

// DefaultDuplicateWindow допуск по времени, в пределах которого одинаковые
// изменения одной сущности считаются повторной доставкой
const DefaultDuplicateWindow = time.Second

// Decision результат сравнения входящего изменения с состоянием сервера
type Decision int

const (
	// ServerWins серверная версия остается, клиент получает snapshot
	ServerWins Decision = iota
	// ClientWins входящее изменение применяется
	ClientWins
)

func (d Decision) String() string {
	if d == ClientWins {
		return "client_wins"
	}
	return "server_wins"
}

// Decide сравнивает время входящего изменения с updatedAt сервера.
// Побеждает строго более позднее изменение; при равенстве остается серверная версия.
func Decide(incoming, current time.Time) Decision {
	if incoming.After(current) {
		return ClientWins
	}
	return ServerWins
}

// Stamp отметка уже примененного изменения
type Stamp struct {
	Timestamp      time.Time
	SequenceNumber uint64
}

// IsDuplicate сообщает, является ли next повторной доставкой prev.
// Вызывающий отвечает за совпадение сущности и операции.
// Разные известные номера последовательности означают разные изменения,
// такие пары разрешаются через Decide.
func IsDuplicate(prev, next Stamp, window time.Duration) bool {
	delta := next.Timestamp.Sub(prev.Timestamp)
	if delta < 0 {
		delta = -delta
	}
	if delta > window {
		return false
	}
	if prev.SequenceNumber == 0 || next.SequenceNumber == 0 {
		return true
	}
	return prev.SequenceNumber == next.SequenceNumber
}

// Newer сообщает, должна ли версия incoming заменить local в клиентском кэше.
// Отсутствующая локальная версия всегда заменяется.
func Newer(incoming, local *models.SyncMeta) bool {
	if local == nil {
		return true
	}
	return Decide(incoming.UpdatedAt, local.UpdatedAt) == ClientWins
}
