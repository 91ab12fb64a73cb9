// cmd/catalog/main.go
//
// Catalog – CLI and HTTP entry point.
//
// Command tree
// ------------
//
//	catalog serve                                    run the JSON API
//	catalog scan     --source --database [--incremental] [--ai]
//	catalog detect   --source --database
//	catalog snapshot create  --source --database [--version]
//	catalog snapshot list    [--database] [--limit]
//	catalog snapshot compare --from --to
//	catalog snapshot migrate --from --to [--dialect]
//	catalog versions --database [--table] [--limit]
//
// Every command loads conf/catalog.yaml (resolving `vault:` values when
// VAULT_ADDR is set).  Human output is a table; `--json` prints raw JSON.
package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	serverEnvPath = "/usr/local/etc/catalog/catalog.env"
	cliVersion    = "0.1.0"
)

// loadEnv prefers the host-wide env file; on dev it falls back to .env.
func loadEnv() {
	if _, err := os.Stat(serverEnvPath); err == nil {
		_ = godotenv.Load(serverEnvPath)
		return
	}
	_ = godotenv.Load()
}

func init() { loadEnv() }

func main() {
	if err := run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	command := newRootCommand()
	parsed := []string{}
	if len(args) > 1 {
		parsed = args[1:]
	}
	command.SetArgs(parsed)
	return command.Execute()
}

func newRootCommand() *cobra.Command {
	command := &cobra.Command{
		Use:          "catalog",
		Short:        "Metadata catalog: scans, change detection, snapshots, versions",
		Version:      cliVersion,
		SilenceUsage: true,
	}
	command.PersistentFlags().Bool("json", false, "print raw JSON instead of a table")

	addLeaf := func(parent *cobra.Command, name, short string, addFlags func(*cobra.Command), runFn func(*cobra.Command, []string) error) {
		cmd := &cobra.Command{
			Use:   name,
			Short: short,
			Args:  cobra.NoArgs,
			RunE:  runFn,
		}
		if addFlags != nil {
			addFlags(cmd)
		}
		parent.AddCommand(cmd)
	}

	addLeaf(command, "serve", "run the HTTP API", nil, runServe)
	addLeaf(command, "scan", "scan a source database into the catalog", addScanFlags, runScan)
	addLeaf(command, "detect", "report schema drift since the last detection pass", addSourceFlags, runDetect)
	addLeaf(command, "versions", "show version history for a database or table", addVersionFlags, runVersions)

	snapshotCommand := &cobra.Command{
		Use:   "snapshot",
		Short: "create, list, and compare metadata snapshots",
	}
	addLeaf(snapshotCommand, "create", "capture a snapshot of a live source", addSnapshotCreateFlags, snapshotCreate)
	addLeaf(snapshotCommand, "list", "list snapshots, newest first", addSnapshotListFlags, snapshotList)
	addLeaf(snapshotCommand, "compare", "diff two snapshots", addPairFlags, snapshotCompare)
	addLeaf(snapshotCommand, "migrate", "generate migration SQL between two snapshots", addMigrateFlags, snapshotMigrate)
	command.AddCommand(snapshotCommand)

	return command
}

/*────────────────────────── flags ──────────────────────────────────────────*/

func addSourceFlags(cmd *cobra.Command) {
	cmd.Flags().String("source", "", "configured source name")
	cmd.Flags().String("database", "", "database (schema for postgres) to inspect")
	cmd.Flags().StringSlice("exclude", nil, "extra table names to skip")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("database")
}

func addScanFlags(cmd *cobra.Command) {
	addSourceFlags(cmd)
	cmd.Flags().Bool("incremental", false, "only sync tables added or modified since the last detection")
	cmd.Flags().Bool("ai", false, "annotate columns (AI stage when enabled, rules otherwise)")
}

func addVersionFlags(cmd *cobra.Command) {
	cmd.Flags().String("database", "", "catalog database name")
	cmd.Flags().String("table", "", "limit to one table")
	cmd.Flags().Int("limit", 50, "maximum rows")
	_ = cmd.MarkFlagRequired("database")
}

func addSnapshotCreateFlags(cmd *cobra.Command) {
	cmd.Flags().String("source", "", "configured source name")
	cmd.Flags().String("database", "", "database (schema for postgres) to capture")
	cmd.Flags().String("version", "", "version label (default: creation time)")
	cmd.Flags().String("created-by", "", "author recorded on the snapshot")
	cmd.Flags().String("description", "", "free-text description")
	cmd.Flags().StringSlice("tag", nil, "tag (repeatable)")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("database")
}

func addSnapshotListFlags(cmd *cobra.Command) {
	cmd.Flags().String("database", "", "filter by database")
	cmd.Flags().Int("limit", 20, "maximum rows")
}

func addPairFlags(cmd *cobra.Command) {
	cmd.Flags().String("from", "", "base snapshot id")
	cmd.Flags().String("to", "", "target snapshot id")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
}

func addMigrateFlags(cmd *cobra.Command) {
	addPairFlags(cmd)
	cmd.Flags().String("dialect", "", "mysql or postgres (default: migration.dialect)")
}
