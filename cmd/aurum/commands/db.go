package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/aurum/db"
	"github.com/teranos/aurum/display"
	"github.com/teranos/aurum/errors"
	"github.com/teranos/aurum/logger"
	"github.com/teranos/aurum/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.Short("db"),
	Long: sym.DB + ` db — Manage the aurum store

Examples:
  aurum db migrate               # Apply pending migrations
  aurum db status                # List applied migrations`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	RunE:  runDbMigrate,
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List applied migrations",
	RunE:  runDbStatus,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatusCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	conn, err := db.Open(cfg.Database.Driver, storeDSN(cfg), logger.Logger.Named("db"))
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := db.Migrate(conn, logger.Logger.Named("db")); err != nil {
		return errors.Wrap(err, "failed to migrate store")
	}

	versions, err := db.AppliedVersions(conn)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Store at migration %s\n", sym.DB, latest(versions))
	return nil
}

func runDbStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	conn, err := db.Open(cfg.Database.Driver, storeDSN(cfg), logger.Logger.Named("db"))
	if err != nil {
		return err
	}
	defer conn.Close()

	versions, err := db.AppliedVersions(conn)
	if err != nil {
		return errors.WithHint(err, "run `aurum db migrate` to initialise the store")
	}

	rows := make([][]string, 0, len(versions))
	for _, v := range versions {
		rows = append(rows, []string{v})
	}
	return display.Table(cmd.OutOrStdout(), []string{"APPLIED MIGRATION"}, rows)
}

func latest(versions []string) string {
	if len(versions) == 0 {
		return "none"
	}
	return versions[len(versions)-1]
}
