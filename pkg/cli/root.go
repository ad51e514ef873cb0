package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fieldnote/fieldnote/pkg/config"
	"github.com/fieldnote/fieldnote/pkg/jobs"
	"github.com/fieldnote/fieldnote/pkg/notify"
	"github.com/fieldnote/fieldnote/pkg/observability"
	"github.com/fieldnote/fieldnote/pkg/storage"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// Env carries what commands run against. Zero fields get production defaults.
type Env struct {
	Out    io.Writer
	Logger *observability.Logger

	LoadConfig func() (*config.Config, error)
	OpenDB     func(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error)

	// Dispatcher replaces the configured push dispatcher
	Dispatcher notify.Dispatcher
	Clock      jobs.Clock
}

func (e *Env) withDefaults() *Env {
	out := *e
	if out.Out == nil {
		out.Out = os.Stdout
	}
	if out.Logger == nil {
		out.Logger = observability.NewLogger(observability.WarnLevel, os.Stderr)
	}
	if out.LoadConfig == nil {
		out.LoadConfig = config.LoadConfig
	}
	if out.OpenDB == nil {
		out.OpenDB = storage.OpenPostgres
	}
	if out.Clock == nil {
		out.Clock = jobs.SystemClock{}
	}
	return &out
}

// connect loads the configuration and opens the database
func (e *Env) connect(ctx context.Context) (*config.Config, *sql.DB, error) {
	cfg, err := e.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := e.OpenDB(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

// NewRootCommand creates the root command
func NewRootCommand(env *Env) *Command {
	if env == nil {
		env = &Env{}
	}
	env = env.withDefaults()

	root := &Command{
		Name:        "fieldnote",
		Description: "Fieldnote - survey allocation and access administration",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("fieldnote", flag.ContinueOnError),
	}
	root.Run = root.dispatch

	root.Subcommands["migrate"] = newMigrateCommand(env)
	root.Subcommands["grant"] = newGrantCommand(env)
	root.Subcommands["check"] = newCheckCommand(env)
	root.Subcommands["due"] = newDueCommand(env)
	root.Subcommands["push-once"] = newPushOnceCommand(env)

	return root
}

// Execute runs the command with the process arguments
func (c *Command) Execute() error {
	return c.dispatch(os.Args[1:])
}

// dispatch hands args to the named subcommand
func (c *Command) dispatch(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	switch strings.ToLower(args[0]) {
	case "-h", "--help", "help":
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	fmt.Printf("Usage: %s <command> [args]\n\n", c.Name)
	fmt.Printf("Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Printf("  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}
