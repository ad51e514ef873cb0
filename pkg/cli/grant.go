package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fieldnote/fieldnote/pkg/access"
	"github.com/fieldnote/fieldnote/pkg/audit"
	"github.com/fieldnote/fieldnote/pkg/storage"
)

// removeLevel is the -level value that deletes a grant
const removeLevel = "none"

func newGrantCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "grant",
		Description: "Set, remove, list or audit admin grants on a group or survey",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("grant", flag.ContinueOnError),
	}
	cmd.Run = cmd.dispatch

	cmd.Subcommands["set"] = newGrantSetCommand(env)
	cmd.Subcommands["list"] = newGrantListCommand(env)
	cmd.Subcommands["history"] = newGrantHistoryCommand(env)

	return cmd
}

// resourceFlags registers -kind and -id on fs
func resourceFlags(fs *flag.FlagSet) (kind *string, id *int64) {
	kind = fs.String("kind", "", "Resource kind (group or survey)")
	id = fs.Int64("id", 0, "Resource id")
	return kind, id
}

func parseResource(kind string, id int64) (access.Resource, error) {
	k, err := access.ParseResourceKind(kind)
	if err != nil {
		return access.Resource{}, err
	}
	res := access.Resource{Kind: k, ID: id}
	return res, res.Validate()
}

// resolver opens the database and builds a resolver that shares the
// configured grant cache, so changes invalidate what other processes cached,
// and records changes to the configured audit sink
func (e *Env) resolver(ctx context.Context) (*access.Resolver, access.Store, func(), error) {
	cfg, db, err := e.connect(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	cache, redisClient, err := storage.NewGrantCache(ctx, cfg.Cache)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	auditor, err := storage.NewAuditLogger(cfg.Audit, db, e.Logger)
	if err != nil {
		if redisClient != nil {
			redisClient.Close()
		}
		db.Close()
		return nil, nil, nil, err
	}

	closeAll := func() {
		if err := auditor.Close(); err != nil {
			e.Logger.WithError(err).Warn("Failed to close audit log")
		}
		if redisClient != nil {
			redisClient.Close()
		}
		db.Close()
	}

	store := access.NewPostgresStore(db)
	resolver := access.NewResolver(store,
		access.WithCache(cache),
		access.WithLogger(e.Logger),
		access.WithAuditor(auditor),
	)
	return resolver, store, closeAll, nil
}

func newGrantSetCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "set",
		Description: "Grant, change or remove an admin's level",
		Flags:       flag.NewFlagSet("grant set", flag.ContinueOnError),
	}

	kind, id := resourceFlags(cmd.Flags)
	email := cmd.Flags.String("email", "", "Admin email")
	level := cmd.Flags.String("level", "", "view, edit, owner, or none to remove")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *email == "" || *level == "" {
			return fmt.Errorf("email and level are required")
		}

		res, err := parseResource(*kind, *id)
		if err != nil {
			return err
		}

		var target *access.Level
		if strings.ToLower(*level) != removeLevel {
			l, err := access.ParseLevel(*level)
			if err != nil {
				return err
			}
			target = &l
		}

		ctx := context.Background()
		resolver, _, closeAll, err := env.resolver(ctx)
		if err != nil {
			return err
		}
		defer closeAll()

		grant, err := resolver.SetGrant(ctx, res, *email, target)
		if err != nil {
			return fmt.Errorf("failed to set grant: %w", err)
		}

		if grant == nil {
			fmt.Fprintf(env.Out, "Removed %s from %s\n", *email, res)
			return nil
		}
		fmt.Fprintf(env.Out, "Granted %s %s on %s\n", *email, grant.Level, res)
		return nil
	}

	return cmd
}

func newGrantListCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "list",
		Description: "List the admins of a group or survey",
		Flags:       flag.NewFlagSet("grant list", flag.ContinueOnError),
	}

	kind, id := resourceFlags(cmd.Flags)
	asJSON := cmd.Flags.Bool("json", false, "Print JSON")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		res, err := parseResource(*kind, *id)
		if err != nil {
			return err
		}

		ctx := context.Background()
		resolver, _, closeAll, err := env.resolver(ctx)
		if err != nil {
			return err
		}
		defer closeAll()

		grants, err := resolver.ListGrants(ctx, res)
		if err != nil {
			return fmt.Errorf("failed to list grants: %w", err)
		}

		if *asJSON {
			if grants == nil {
				grants = []access.Grant{}
			}
			enc := json.NewEncoder(env.Out)
			enc.SetIndent("", "  ")
			return enc.Encode(grants)
		}

		w := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ADMIN\tEMAIL\tLEVEL")
		for _, g := range grants {
			fmt.Fprintf(w, "%d\t%s\t%s\n", g.SubjectID, g.Email, g.Level)
		}
		return w.Flush()
	}

	return cmd
}

func newGrantHistoryCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "history",
		Description: "Show recent grant changes on a group or survey",
		Flags:       flag.NewFlagSet("grant history", flag.ContinueOnError),
	}

	kind, id := resourceFlags(cmd.Flags)
	limit := cmd.Flags.Int("limit", 20, "Maximum number of changes")
	asJSON := cmd.Flags.Bool("json", false, "Print JSON")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		res, err := parseResource(*kind, *id)
		if err != nil {
			return err
		}
		if *limit <= 0 {
			return fmt.Errorf("limit must be positive")
		}

		ctx := context.Background()
		_, db, err := env.connect(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		auditLog, err := audit.NewDBLogger(db)
		if err != nil {
			return err
		}

		events, err := auditLog.Recent(ctx, string(res.Kind), res.ID, *limit)
		if err != nil {
			return fmt.Errorf("failed to read grant history: %w", err)
		}

		if *asJSON {
			if events == nil {
				events = []audit.Event{}
			}
			enc := json.NewEncoder(env.Out)
			enc.SetIndent("", "  ")
			return enc.Encode(events)
		}

		w := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tCHANGE\tADMIN\tEMAIL\tFROM\tTO")
		for _, e := range events {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
				e.Timestamp.UTC().Format(time.RFC3339), e.EventType, e.AdminID,
				orDash(e.Email), orDash(e.PreviousLevel), orDash(e.Level))
		}
		return w.Flush()
	}

	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
