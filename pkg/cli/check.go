package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/fieldnote/fieldnote/pkg/access"
)

func newCheckCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "check",
		Description: "Check whether an admin holds a level on a group or survey",
		Flags:       flag.NewFlagSet("check", flag.ContinueOnError),
	}

	kind, id := resourceFlags(cmd.Flags)
	email := cmd.Flags.String("email", "", "Admin email")
	level := cmd.Flags.String("level", "view", "Required level")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *email == "" {
			return fmt.Errorf("email is required")
		}

		res, err := parseResource(*kind, *id)
		if err != nil {
			return err
		}
		needed, err := access.ParseLevel(*level)
		if err != nil {
			return err
		}

		ctx := context.Background()
		resolver, store, closeAll, err := env.resolver(ctx)
		if err != nil {
			return err
		}
		defer closeAll()

		subject, err := store.FindSubjectByEmail(ctx, *email)
		if err != nil {
			return err
		}

		granted, err := resolver.ResolveGrant(ctx, *subject, res)
		if err != nil {
			return err
		}
		if !access.HasAccess(needed, granted) {
			return fmt.Errorf("%s holds %s on %s, %s required: %w", *email, granted, res, needed, access.ErrAccessDenied)
		}

		fmt.Fprintf(env.Out, "allowed: %s holds %s on %s\n", *email, granted, res)
		return nil
	}

	return cmd
}
