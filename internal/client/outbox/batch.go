package outbox

import (
	"github.com/nnsi/hono-practice-sub007/internal/client/storage"
	"github.com/nnsi/hono-practice-sub007/internal/models"
)

// Batch записи, забранные одним DrainBatch, сгруппированные по типу сущности
type Batch struct {
	byType map[models.EntityType][]*storage.OutboxEntry
	size   int
}

func newBatch(entries []*storage.OutboxEntry) *Batch {
	b := &Batch{byType: make(map[models.EntityType][]*storage.OutboxEntry), size: len(entries)}
	for _, e := range entries {
		t := e.Mutation.EntityType
		b.byType[t] = append(b.byType[t], e)
	}
	return b
}

// Len число записей в пакете
func (b *Batch) Len() int {
	return b.size
}

// Types типы сущностей пакета; родители раньше потомков
func (b *Batch) Types() []models.EntityType {
	var out []models.EntityType
	for _, t := range models.EntityTypes() {
		if len(b.byType[t]) > 0 {
			out = append(out, t)
		}
	}
	return out
}

// Items изменения типа t для отправки. Payload содержит полное состояние,
// поэтому для каждой сущности отправляется только последнее изменение.
// Порядок соответствует SequenceNumber последних изменений.
func (b *Batch) Items(t models.EntityType) []*models.Mutation {
	entries := b.byType[t]
	last := make(map[string]int, len(entries))
	for i, e := range entries {
		last[e.Mutation.EntityID] = i
	}

	items := make([]*models.Mutation, 0, len(last))
	for i, e := range entries {
		if last[e.Mutation.EntityID] == i {
			items = append(items, e.Mutation)
		}
	}
	return items
}

// Seqs позиции всех записей типа t, включая поглощенные более поздними
func (b *Batch) Seqs(t models.EntityType) []uint64 {
	entries := b.byType[t]
	seqs := make([]uint64, 0, len(entries))
	for _, e := range entries {
		seqs = append(seqs, e.Seq())
	}
	return seqs
}

func (b *Batch) entries(t models.EntityType) []*storage.OutboxEntry {
	return b.byType[t]
}
