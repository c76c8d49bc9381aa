package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	clientsync "github.com/nnsi/hono-practice-sub007/internal/client/sync"
	"github.com/nnsi/hono-practice-sub007/internal/models"
)

func (a *App) newStatusCmd() *cobra.Command {
	var checkServer bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.io.Println("=== Sync Status ===")
			a.printStatus(a.manager.Status())

			if checkServer {
				a.io.Println()
				health, err := a.health.Health(cmd.Context())
				if err != nil {
					a.io.Printf("Server:        unreachable (%v)\n", err)
					return nil
				}
				a.io.Printf("Server:        %s (version %s)\n", health.Status, health.Version)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&checkServer, "server", false, "also check server health")
	return cmd
}

func (a *App) newListCmd() *cobra.Command {
	var deleted bool

	cmd := &cobra.Command{
		Use:   "list <activity|task|goal|activityLog>",
		Short: "List entities from the local cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityType, err := models.ParseEntityType(args[0])
			if err != nil {
				return err
			}
			entities, err := a.manager.List(cmd.Context(), entityType, deleted)
			if err != nil {
				return fmt.Errorf("failed to list %s: %w", entityType, err)
			}
			if len(entities) == 0 {
				a.io.Printf("No %s entities.\n", entityType)
				return nil
			}

			w := tabwriter.NewWriter(a.io, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tUPDATED\tDELETED\tSUMMARY")
			for _, e := range entities {
				meta := e.Meta()
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					e.EntityID(),
					meta.UpdatedAt.Local().Format(time.DateTime),
					yesNo(meta.Deleted()),
					summary(e))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&deleted, "deleted", false, "include deleted entities")
	return cmd
}

func (a *App) newQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show queued changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := a.manager.Entries(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read queue: %w", err)
			}
			if len(entries) == 0 {
				a.io.Println("Queue is empty.")
				return nil
			}

			w := tabwriter.NewWriter(a.io, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "SEQ\tSTATUS\tOP\tTYPE\tENTITY\tATTEMPTS\tERROR")
			for _, e := range entries {
				m := e.Mutation
				_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
					e.Seq(), e.Status, m.Operation, m.EntityType, m.EntityID, e.Attempts, e.LastError)
			}
			return w.Flush()
		},
	}
}

func (a *App) newClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Discard all queued changes that were not synced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status := a.manager.Status()
			total := status.Pending + status.Syncing + status.Failed + status.Rejected
			if total == 0 {
				a.io.Println("Queue is empty.")
				return nil
			}

			if !yes {
				if !a.io.IsInteractive() {
					return fmt.Errorf("refusing to discard %d changes without --yes", total)
				}
				answer, err := a.io.ReadInput(fmt.Sprintf("Discard %d unsynced changes? [y/N]: ", total))
				if err != nil {
					return err
				}
				if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
					return errAborted
				}
			}

			n, err := a.manager.ClearQueue(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to clear queue: %w", err)
			}
			a.io.Printf("Discarded %d changes\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func (a *App) printStatus(s clientsync.Status) {
	if s.LastSyncAt != nil {
		a.io.Printf("Last sync:     %s\n", s.LastSyncAt.Local().Format(time.DateTime))
	} else {
		a.io.Println("Last sync:     never")
	}
	a.io.Printf("Pending:       %d\n", s.Pending)
	if s.Syncing > 0 {
		a.io.Printf("Syncing:       %d\n", s.Syncing)
	}
	a.io.Printf("Failed:        %d\n", s.Failed)
	a.io.Printf("Rejected:      %d\n", s.Rejected)
	if s.LastError != "" {
		a.io.Printf("Last error:    %s\n", s.LastError)
	}
	if s.IsFullySynced() {
		a.io.Println("✓ Fully synced")
	}
}

func formatStatusLine(s clientsync.Status) string {
	line := fmt.Sprintf("[%s] pending=%d syncing=%d failed=%d rejected=%d",
		time.Now().Format(time.TimeOnly), s.Pending, s.Syncing, s.Failed, s.Rejected)
	if s.IsFullySynced() {
		line += " synced"
	}
	if s.LastError != "" {
		line += " error=" + s.LastError
	}
	return line
}

// summary краткое описание сущности для таблицы
func summary(e models.Entity) string {
	switch v := e.(type) {
	case *models.Activity:
		return strings.TrimSpace(v.Emoji + " " + v.Name)
	case *models.Task:
		return v.Title
	case *models.Goal:
		return fmt.Sprintf("%g/day for %s", v.DailyTargetQuantity, v.ActivityID)
	case *models.ActivityLog:
		s := v.Date + " " + v.ActivityID
		if v.Quantity != nil {
			s += fmt.Sprintf(" x%g", *v.Quantity)
		}
		return s
	}
	data, _ := json.Marshal(e)
	return string(data)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
