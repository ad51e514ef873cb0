package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fieldnote/fieldnote/pkg/allocation"
	"github.com/fieldnote/fieldnote/pkg/jobs"
	"github.com/fieldnote/fieldnote/pkg/notify"
	"github.com/fieldnote/fieldnote/pkg/schema"
)

func newMigrateCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "migrate",
		Description: "Create or upgrade the database schema",
		Flags:       flag.NewFlagSet("migrate", flag.ContinueOnError),
	}

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		ctx := context.Background()
		_, db, err := env.connect(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := schema.Run(ctx, db, env.Logger); err != nil {
			return err
		}

		fmt.Fprintln(env.Out, "Schema is up to date")
		return nil
	}

	return cmd
}

func newDueCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "due",
		Description: "List the allocations the next push run would notify",
		Flags:       flag.NewFlagSet("due", flag.ContinueOnError),
	}

	limit := cmd.Flags.Int("limit", 0, "Maximum allocations (default: configured batch size)")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		ctx := context.Background()
		cfg, db, err := env.connect(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		if *limit <= 0 {
			*limit = cfg.Scheduler.BatchSize
		}

		due, err := allocation.NewPostgresStore(db).ListDue(ctx, env.Clock.Now(), cfg.Scheduler.Throttle, *limit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tGROUP\tSURVEY\tDUE\tLAST PUSH")
		for _, a := range due {
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n", a.ID, a.GroupID, a.SurveyName, formatTime(a.DueAt), formatTime(a.PushedAt))
		}
		return w.Flush()
	}

	return cmd
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func newPushOnceCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "push-once",
		Description: "Run the allocation push job once and print its summary",
		Flags:       flag.NewFlagSet("push-once", flag.ContinueOnError),
	}

	dispatcherKind := cmd.Flags.String("dispatcher", "", "Override the dispatcher (http or log)")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		ctx := context.Background()
		cfg, db, err := env.connect(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		dispatcher := env.Dispatcher
		if dispatcher == nil {
			kind := cfg.Notify.Dispatcher
			if *dispatcherKind != "" {
				kind = *dispatcherKind
			}
			dispatcher, err = notify.New(kind, notify.HTTPConfig{
				Endpoint:    cfg.Notify.Endpoint,
				AccessToken: cfg.Notify.AccessToken,
				ChunkSize:   cfg.Notify.ChunkSize,
				Timeout:     cfg.Notify.Timeout,
			}, env.Logger)
			if err != nil {
				return err
			}
		}

		poller := allocation.NewPoller(
			allocation.NewPostgresStore(db),
			dispatcher,
			jobs.NewRegistry(env.Clock),
			allocation.WithConfig(allocation.Config{
				Throttle:    cfg.Scheduler.Throttle,
				BatchSize:   cfg.Scheduler.BatchSize,
				Concurrency: cfg.Scheduler.Concurrency,
			}),
			allocation.WithLogger(env.Logger),
		)

		summary, err := poller.RunOnce(ctx)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(env.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	return cmd
}
