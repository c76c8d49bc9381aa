package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	clientsync "github.com/nnsi/hono-practice-sub007/internal/client/sync"
)

func (a *App) newSyncCmd() *cobra.Command {
	var noPull bool

	cmd := &cobra.Command{
		Use:         "sync",
		Short:       "Send queued changes to the server and pull remote changes",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationServer: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a.io.Println("=== Synchronization ===")

			res, syncErr := a.manager.SyncAll(ctx)
			if res != nil {
				a.printCycle(res)
			}
			if syncErr != nil {
				a.printStatus(a.manager.Status())
				return fmt.Errorf("synchronization failed: %w", syncErr)
			}

			if !noPull {
				merged, err := a.manager.Pull(ctx)
				if err != nil {
					return fmt.Errorf("pull failed: %w", err)
				}
				a.io.Printf("Pulled from server: %d entities\n", merged)
			}

			a.io.Println()
			a.printStatus(a.manager.Status())
			return nil
		},
	}
	cmd.Flags().BoolVar(&noPull, "no-pull", false, "only send queued changes")
	return cmd
}

func (a *App) newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "pull",
		Short:       "Fetch changes made on other devices",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationServer: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			merged, err := a.manager.Pull(cmd.Context())
			if err != nil {
				return fmt.Errorf("pull failed: %w", err)
			}
			a.io.Printf("Pulled from server: %d entities\n", merged)
			return nil
		},
	}
}

func (a *App) newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Return changes rejected by the server to the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.manager.Retry(cmd.Context())
			if err != nil {
				return err
			}
			a.io.Printf("Requeued %d rejected changes\n", n)
			return nil
		},
	}
}

func (a *App) newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "watch",
		Short:       "Sync in the background and print status changes until interrupted",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationServer: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.watch(ctx)
		},
	}
}

// watch запускает фоновый цикл и печатает каждое изменение состояния
func (a *App) watch(ctx context.Context) error {
	unsubscribe := a.manager.Subscribe(func(s clientsync.Status) {
		a.io.Println(formatStatusLine(s))
	})
	defer unsubscribe()

	interval := a.interval
	if interval <= 0 {
		interval = time.Minute
	}
	err := a.manager.Run(ctx, interval)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) printCycle(res *clientsync.CycleResult) {
	a.io.Printf("Sent to server:     %d changes\n", res.Drained)
	a.io.Printf("Synced:             %d\n", res.Synced)
	if res.ServerWins > 0 {
		a.io.Printf("Server versions:    %d\n", res.ServerWins)
	}
	if res.Skipped > 0 {
		a.io.Printf("Skipped:            %d\n", res.Skipped)
	}
	if res.Requeued > 0 {
		a.io.Printf("Requeued:           %d\n", res.Requeued)
	}
	if res.Rejected > 0 {
		a.io.Printf("Rejected:           %d (see 'actiko queue', then 'actiko retry')\n", res.Rejected)
	}
}
