// Package cli implements the loom command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/asaidimu/go-loom/config"
	"github.com/asaidimu/go-loom/core/persistence"
	"github.com/asaidimu/go-loom/core/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ErrOperationFailed is returned when a collection operation reports a
// failed envelope.
var ErrOperationFailed = errors.New("operation failed")

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	SchemaDir  string
	Backend    string
	Path       string
	Database   string
	Verbose    bool
}

// NewRootCommand creates the root command for the loom CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "loom",
		Short: "loom - schema-governed document store",
		Long: `Validate, store and query JSON documents against registered schemas.

Schemas are YAML or JSON descriptor files. Documents live in a memory,
sqlite or redis backend.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (YAML)")
	cmd.PersistentFlags().StringVarP(&opts.SchemaDir, "schemas", "s", "", "schema descriptor directory")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "backend (memory|sqlite|redis)")
	cmd.PersistentFlags().StringVar(&opts.Path, "path", "", "sqlite database directory")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "default database name")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewEditCommand(opts))
	cmd.AddCommand(NewDelCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// loadConfig reads the config file and applies the global flags over it.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if o.SchemaDir != "" {
		cfg.SchemaDir = o.SchemaDir
	}
	if o.Backend != "" {
		cfg.Backend.Kind = o.Backend
	}
	if o.Path != "" {
		cfg.Backend.Path = o.Path
	}
	if o.Database != "" {
		cfg.Database = o.Database
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// session is an opened directory with the configured schemas registered.
type session struct {
	cfg    *config.Config
	dir    *persistence.Directory
	driver store.Driver
	logger *zap.Logger
}

func (o *RootOptions) open(ctx context.Context) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return nil, err
	}
	driver, err := cfg.Driver(ctx, logger)
	if err != nil {
		return nil, err
	}

	dir, err := persistence.NewDirectory(driver,
		persistence.WithLogger(logger),
		persistence.WithDatabase(cfg.Database),
	)
	if err != nil {
		config.Close(driver)
		return nil, err
	}
	s := &session{cfg: cfg, dir: dir, driver: driver, logger: logger}

	if err := dir.Open(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if cfg.SchemaDir != "" {
		if _, err := dir.LoadDir(cfg.SchemaDir); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *session) collection(name string) (*persistence.Collection, error) {
	c, ok := s.dir.LookupSchema(name)
	if !ok {
		return nil, fmt.Errorf("collection %q not found", name)
	}
	return c, nil
}

func (s *session) Close() error {
	err := errors.Join(s.dir.CloseAll(), config.Close(s.driver))
	s.logger.Sync()
	return err
}

// printEnvelope writes env as indented JSON. A failed envelope is returned
// as an error so the process exits non-zero.
func printEnvelope(w io.Writer, op string, env *persistence.Envelope) error {
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Fprintln(w, string(data))
	if !env.OK {
		return fmt.Errorf("%s: %w: %v", op, ErrOperationFailed, env.Err())
	}
	return nil
}

// parseObject decodes a JSON object argument.
func parseObject(name, arg string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(arg), &out); err != nil {
		return nil, fmt.Errorf("invalid %s JSON: %w", name, err)
	}
	if out == nil {
		return nil, fmt.Errorf("invalid %s JSON: not an object", name)
	}
	return out, nil
}
