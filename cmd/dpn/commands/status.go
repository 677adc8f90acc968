package commands

import (
	"context"
	"fmt"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/dpnlabs/dpn/pkg/stores"
	"github.com/dpnlabs/dpn/pkg/wal"
)

func newStatusCommand() *cobra.Command {
	var (
		resourceType    string
		includeArchived bool
		watch           bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show provisioned resources and in-flight transactions",
		Long: `Status lists the resources in the state store and any transactions whose
WAL file has not reached a terminal state. A non-empty pending list after
a crash means recover should be run.

With --watch the status is re-rendered whenever the WAL directory
changes. If metrics are enabled in the configuration, watch mode also
serves the Prometheus endpoint.`,
		Example: `  dpn status
  dpn status --type aws_s3_bucket
  dpn status --archived
  dpn status --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			walLog, err := wal.Open(app.cfg.WALDir())
			if err != nil {
				return err
			}

			filter := stores.ListFilter{Type: resourceType, IncludeArchived: includeArchived}

			if !watch {
				return renderStatus(ctx, cmd, app, walLog, filter)
			}
			return watchStatus(ctx, cmd, app, walLog, filter)
		},
	}

	cmd.Flags().StringVarP(&resourceType, "type", "t", "", "only show resources of this type")
	cmd.Flags().BoolVar(&includeArchived, "archived", false, "include archived resources")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-render when the WAL directory changes")

	return cmd
}

type statusReport struct {
	Resources []stores.ResourceRecord `json:"resources"`
	Pending   []wal.Info              `json:"pending"`
}

func renderStatus(ctx context.Context, cmd *cobra.Command, app *app, walLog *wal.Log, filter stores.ListFilter) error {
	resources, err := app.store.List(ctx, filter)
	if err != nil {
		return err
	}
	pending, err := walLog.Pending()
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd, statusReport{Resources: resources, Pending: pending})
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tNAME\tCREATED\tARCHIVED")
	for _, r := range resources {
		archived := ""
		if r.Archived {
			archived = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Type, r.Name, r.CreatedAt.Format(time.RFC3339), archived)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(pending) == 0 {
		cmd.Println("\nNo pending transactions")
		return nil
	}
	cmd.Printf("\n%d pending transaction(s), run 'dpn recover':\n", len(pending))
	for _, info := range pending {
		cmd.Printf("  %s (last written %s)\n", info.TxID, info.ModTime.Format(time.RFC3339))
	}
	return nil
}

func watchStatus(ctx context.Context, cmd *cobra.Command, app *app, walLog *wal.Log, filter stores.ListFilter) error {
	if app.cfg.Metrics.Enabled {
		go serveMetrics(ctx, app)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(walLog.Dir()); err != nil {
		return fmt.Errorf("watching WAL directory: %w", err)
	}

	if err := renderStatus(ctx, cmd, app, walLog, filter); err != nil {
		return err
	}

	// Burst of WAL appends collapses into one redraw.
	const debounce = 250 * time.Millisecond
	var timer *time.Timer
	redraw := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			app.logger.Warn().Err(err).Msg("watch error")
		case _, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if timer == nil {
				timer = time.AfterFunc(debounce, func() {
					select {
					case redraw <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(debounce)
			}
		case <-redraw:
			timer = nil
			if err := renderStatus(ctx, cmd, app, walLog, filter); err != nil {
				return err
			}
		}
	}
}

func serveMetrics(ctx context.Context, app *app) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.metrics.Handler())
	srv := &http.Server{Addr: app.cfg.Metrics.Listen, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info().Str("listen", app.cfg.Metrics.Listen).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		app.logger.Warn().Err(err).Msg("metrics server stopped")
	}
}
