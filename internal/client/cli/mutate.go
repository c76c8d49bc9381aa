package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nnsi/hono-practice-sub007/internal/client/storage"
	"github.com/nnsi/hono-practice-sub007/internal/models"
)

func (a *App) newMutateCmd() *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "mutate <type> <create|update|delete> [json|-]",
		Short: "Record a local change and queue it for sync",
		Long: `Record a local change of an entity and queue it for sync.

create and update take the full entity JSON as an argument or from stdin ("-").
update overlays the given fields onto the cached entity. delete takes --id.`,
		Example: `  actiko mutate activity create '{"name":"Walking","quantityUnit":"km"}'
  actiko mutate task update '{"id":"...","doneDate":"2024-05-01"}'
  actiko mutate goal delete --id 6f1c1b9e-6a51-4f0c-8f43-3f1f3c0a9b11`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityType, err := models.ParseEntityType(args[0])
			if err != nil {
				return err
			}
			op := models.Operation(args[1])
			if !op.Valid() {
				return fmt.Errorf("unknown operation %q: use create, update or delete", args[1])
			}

			var entity models.Entity
			if op == models.OperationDelete {
				if id == "" {
					return errors.New("--id is required for delete")
				}
				entity, err = a.cached(cmd, entityType, id)
			} else {
				var raw []byte
				raw, err = readPayload(cmd, args[2:])
				if err != nil {
					return err
				}
				entity, err = a.buildEntity(cmd, entityType, op, raw)
			}
			if err != nil {
				return err
			}

			m, err := a.manager.Enqueue(cmd.Context(), op, entity)
			if err != nil {
				return fmt.Errorf("failed to queue change: %w", err)
			}
			a.io.Printf("✓ Queued %s %s %s (seq %d)\n", m.Operation, m.EntityType, m.EntityID, m.SequenceNumber)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "entity id (delete)")
	return cmd
}

func (a *App) newLogCmd() *cobra.Command {
	var (
		activityID string
		date       string
		at         string
		memo       string
		quantity   float64
	)

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Record an activity log entry",
		Example: `  actiko log --activity 0b8f7a26-2a7e-4b8a-9a53-c0a7c1f6e2d4 --quantity 5 --memo "morning run"`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" {
				date = a.now().Format(models.DateLayout)
			}
			entry := &models.ActivityLog{
				ID:         a.id(),
				ActivityID: activityID,
				Date:       date,
				Memo:       memo,
			}
			if cmd.Flags().Changed("quantity") {
				entry.Quantity = &quantity
			}
			if at != "" {
				entry.Time = &at
			}

			m, err := a.manager.Enqueue(cmd.Context(), models.OperationCreate, entry)
			if err != nil {
				return fmt.Errorf("failed to queue log: %w", err)
			}
			a.io.Printf("✓ Logged %s on %s (%s)\n", activityID, date, m.EntityID)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&activityID, "activity", "", "activity id")
	f.StringVar(&date, "date", "", "date YYYY-MM-DD (default today)")
	f.StringVar(&at, "time", "", "time HH:MM")
	f.StringVar(&memo, "memo", "", "memo")
	f.Float64Var(&quantity, "quantity", 0, "quantity")
	_ = cmd.MarkFlagRequired("activity")
	return cmd
}

// buildEntity собирает payload: для create генерирует id, для update
// накладывает поля на закэшированную версию
func (a *App) buildEntity(cmd *cobra.Command, t models.EntityType, op models.Operation, raw []byte) (models.Entity, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}

	var id string
	if v, ok := fields["id"]; ok {
		if err := json.Unmarshal(v, &id); err != nil {
			return nil, fmt.Errorf("id must be a string: %w", err)
		}
	}

	switch op {
	case models.OperationCreate:
		if id == "" {
			fields["id"], _ = json.Marshal(a.id())
			raw, _ = json.Marshal(fields)
		}
		return models.DecodeEntity(t, raw)
	default:
		if id == "" {
			return nil, errors.New("update payload requires id")
		}
		entity, err := a.cached(cmd, t, id)
		if errors.Is(err, storage.ErrEntryNotFound) {
			return models.DecodeEntity(t, raw)
		}
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, entity); err != nil {
			return nil, fmt.Errorf("failed to apply update: %w", err)
		}
		return entity, nil
	}
}

func (a *App) cached(cmd *cobra.Command, t models.EntityType, id string) (models.Entity, error) {
	entity, err := a.manager.Get(cmd.Context(), models.EntityKey{Type: t, ID: id})
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", t, id, err)
	}
	return entity, nil
}

// readPayload берет JSON из аргумента или stdin
func readPayload(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read payload: %w", err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return nil, errors.New("empty payload")
		}
		return data, nil
	}
	return []byte(args[0]), nil
}
