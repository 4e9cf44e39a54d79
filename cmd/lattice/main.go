// Command lattice introspects relational schemas and manages schema
// snapshots for the table engine.
package main

import (
	"fmt"
	"os"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/graphtable/lattice/dialect"
	"github.com/graphtable/lattice/introspect"
	lsql "github.com/graphtable/lattice/dialect/sql"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lattice",
		Short:         "Schema tooling for the lattice table engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("driver", dialect.Postgres, "store dialect: postgres, mysql or sqlite3")
	root.PersistentFlags().String("dsn", "", "store connection string")
	root.PersistentFlags().String("schema", "public", "schema to introspect")
	viper.SetEnvPrefix("LATTICE")
	viper.AutomaticEnv()
	for _, name := range []string{"driver", "dsn", "schema"} {
		_ = viper.BindPFlag(name, root.PersistentFlags().Lookup(name))
	}
	root.AddCommand(newIntrospectCmd(), newSnapshotCmd(), newDiffCmd())
	return root
}

// driverName maps a dialect to the registered database/sql driver.
func driverName(d string) (string, error) {
	switch d {
	case dialect.Postgres:
		return "pgx", nil
	case dialect.MySQL:
		return "mysql", nil
	case dialect.SQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unknown driver %q", d)
	}
}

func openDriver() (dialect.Driver, error) {
	d := viper.GetString("driver")
	dsn := viper.GetString("dsn")
	if dsn == "" {
		return nil, fmt.Errorf("a dsn is required (flag --dsn or LATTICE_DSN)")
	}
	name, err := driverName(d)
	if err != nil {
		return nil, err
	}
	drv, err := lsql.OpenNamed(d, name, dsn)
	if err != nil {
		return nil, err
	}
	return drv, nil
}

func newIntrospectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "introspect",
		Short: "Print the discovered tables of a schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			drv, err := openDriver()
			if err != nil {
				return err
			}
			defer drv.Close()
			ex, err := introspect.New(drv)
			if err != nil {
				return err
			}
			schema := viper.GetString("schema")
			names, err := ex.Tables(cmd.Context(), schema)
			if err != nil {
				return err
			}
			for _, name := range names {
				t, err := ex.Table(cmd.Context(), schema, name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%d columns, %d relations, %d unique sets)\n",
					t.Path(), len(t.Columns), len(t.ForeignKeys), len(t.UniqueSets))
				for _, c := range t.Columns {
					null := ""
					if c.Nullable {
						null = " null"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "  %s %s%s\n", c.Name, c.Type, null)
				}
			}
			return nil
		},
	}
}

func newSnapshotCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Write a YAML schema snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			drv, err := openDriver()
			if err != nil {
				return err
			}
			defer drv.Close()
			ex, err := introspect.New(drv)
			if err != nil {
				return err
			}
			snap, err := introspect.Take(cmd.Context(), ex, drv.Dialect(), viper.GetString("schema"))
			if err != nil {
				return err
			}
			if err := snap.Save(out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d tables)\n", out, len(snap.Tables))
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "schema.yaml", "output file")
	return cmd
}

func newDiffCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Compare a snapshot against the live catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := introspect.LoadSnapshot(file)
			if err != nil {
				return err
			}
			drv, err := openDriver()
			if err != nil {
				return err
			}
			defer drv.Close()
			ex, err := introspect.New(drv)
			if err != nil {
				return err
			}
			live, err := introspect.Take(cmd.Context(), ex, drv.Dialect(), viper.GetString("schema"))
			if err != nil {
				return err
			}
			result := introspect.Diff(current, live)
			fmt.Fprintln(cmd.OutOrStdout(), result)
			if result.HasBreakingChanges() {
				return fmt.Errorf("breaking schema changes detected")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "snapshot", "schema.yaml", "snapshot file")
	return cmd
}
