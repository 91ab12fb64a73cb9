// cmd/catalog/commands.go
//
// Command handlers.  Each one-shot command wires an app, runs one
// operation, and prints the result as a table or as JSON.
package main

import (
	"context"
	"fmt"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yanizio/catalog/internal/api"
	"github.com/yanizio/catalog/internal/scan"
	"github.com/yanizio/catalog/internal/server"
	"github.com/yanizio/catalog/internal/snapshot"
)

/*────────────────────────── serve ──────────────────────────────────────────*/

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()

	h := api.New(api.Deps{
		Scanner:   a.scanner,
		Begin:     a.session,
		Snapshots: a.snaps,
		Adapter:   a.adapter,
		Versions:  a.versions,
		Sources:   a.sources,
		Policy:    a.policy,
		Dialect:   a.dialect,
		Logger:    a.log,
	})
	srv := server.New(a.cfg.HTTP.ListenAddr, h.Routes(), a.cfg.HTTP.WriteTimeout)
	return server.Run(ctx, srv, a.log)
}

/*────────────────────────── scan / detect ──────────────────────────────────*/

func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func scanRequest(cmd *cobra.Command, a *app) (scan.Request, error) {
	source, _ := cmd.Flags().GetString("source")
	database, _ := cmd.Flags().GetString("database")
	exclude, _ := cmd.Flags().GetStringSlice("exclude")
	conn, err := a.connection(source)
	if err != nil {
		return scan.Request{}, err
	}
	return scan.Request{Connection: conn, Database: database, ExcludeTables: exclude}, nil
}

func runScan(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		req, err := scanRequest(cmd, a)
		if err != nil {
			return err
		}
		req.AIAnnotate, _ = cmd.Flags().GetBool("ai")
		incremental, _ := cmd.Flags().GetBool("incremental")

		sess, err := a.session(ctx)
		if err != nil {
			return err
		}
		run := a.scanner.ScanDatabase
		if incremental {
			run = a.scanner.IncrementalScan
		}
		res, runErr := run(ctx, req, sess)
		if res != nil {
			if err := emit(cmd, res, func() { printScanResult(res) }); err != nil {
				return err
			}
		}
		return runErr
	})
}

func runDetect(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		req, err := scanRequest(cmd, a)
		if err != nil {
			return err
		}
		rep, err := a.scanner.DetectChanges(ctx, req.Connection, req.Database, req.ExcludeTables)
		if err != nil {
			return err
		}
		return emit(cmd, rep, func() {
			rows := [][]string{}
			for _, n := range rep.TablesAdded {
				rows = append(rows, []string{n, "added"})
			}
			for _, c := range rep.TablesModified {
				rows = append(rows, []string{c.TableName, "modified"})
			}
			for _, n := range rep.TablesDeleted {
				rows = append(rows, []string{n, "deleted"})
			}
			for _, f := range rep.TablesFailed {
				rows = append(rows, []string{f.TableName, "failed: " + f.Error})
			}
			renderTextTable([]string{"Table", "Change"}, rows)
			fmt.Fprintf(stdout, "%d tables, has_changes=%t\n", rep.TotalTables, rep.HasChanges())
		})
	})
}

func printScanResult(res *scan.Result) {
	renderTextTable([]string{"Field", "Value"}, [][]string{
		{"run_id", res.RunID},
		{"mode", res.Mode},
		{"database", res.Database},
		{"status", res.Status},
		{"tables_discovered", strconv.Itoa(res.TablesDiscovered)},
		{"tables_scanned", strconv.Itoa(res.TablesScanned)},
		{"tables_skipped", strconv.Itoa(res.TablesSkipped)},
		{"tables_created", strconv.Itoa(res.TablesCreated)},
		{"tables_updated", strconv.Itoa(res.TablesUpdated)},
		{"columns_discovered", strconv.Itoa(res.ColumnsDiscovered)},
		{"columns_annotated", strconv.Itoa(res.ColumnsAnnotated)},
		{"versions_created", strconv.Itoa(res.VersionsCreated)},
		{"duration_ms", strconv.FormatInt(res.DurationMS, 10)},
	})
	for _, e := range res.Errors {
		fmt.Fprintln(stdout, "error:", e)
	}
}

/*────────────────────────── snapshots ──────────────────────────────────────*/

func snapshotCreate(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		source, _ := cmd.Flags().GetString("source")
		database, _ := cmd.Flags().GetString("database")
		label, _ := cmd.Flags().GetString("version")
		by, _ := cmd.Flags().GetString("created-by")
		desc, _ := cmd.Flags().GetString("description")
		tags, _ := cmd.Flags().GetStringSlice("tag")

		conn, err := a.connection(source)
		if err != nil {
			return err
		}
		snap, err := a.snaps.Capture(ctx, a.adapter, conn, database, a.policy, label,
			snapshot.CreateOptions{CreatedBy: by, Description: desc, Tags: tags})
		if err != nil {
			return err
		}
		return emit(cmd, snap, func() { printSnapshots([]*snapshot.Snapshot{snap}) })
	})
}

func snapshotList(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		database, _ := cmd.Flags().GetString("database")
		limit, _ := cmd.Flags().GetInt("limit")
		list, err := a.snaps.ListSnapshots(ctx, database, limit)
		if err != nil {
			return err
		}
		return emit(cmd, list, func() { printSnapshots(list) })
	})
}

func printSnapshots(list []*snapshot.Snapshot) {
	rows := make([][]string, 0, len(list))
	for _, s := range list {
		rows = append(rows, []string{
			s.ID, s.Version, s.Database, strconv.Itoa(len(s.Tables)),
			s.CreatedAt.Format("2006-01-02 15:04:05"), s.CreatedBy, strings.Join(s.Tags, ","),
		})
	}
	renderTextTable([]string{"ID", "Version", "Database", "Tables", "Created", "By", "Tags"}, rows)
}

func snapshotCompare(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		d, err := a.snaps.CompareSnapshots(ctx, from, to)
		if err != nil {
			return err
		}
		return emit(cmd, d, func() { printDiff(d) })
	})
}

func printDiff(d *snapshot.Diff) {
	rows := [][]string{}
	for _, t := range d.TablesAdded {
		rows = append(rows, []string{t.Name, "", "table added", ""})
	}
	for _, t := range d.TablesRemoved {
		rows = append(rows, []string{t.Name, "", "table removed", ""})
	}
	for _, t := range d.TablesModified {
		for _, c := range t.ColumnsAdded {
			rows = append(rows, []string{t.Name, c.Name, "column added", c.Type})
		}
		for _, c := range t.ColumnsRemoved {
			rows = append(rows, []string{t.Name, c.Name, "column removed", c.Type})
		}
		for _, c := range t.ColumnsModified {
			for _, f := range c.Changes {
				rows = append(rows, []string{t.Name, c.Name, strings.ToLower(f.ChangeType) + " " + f.Field,
					fmt.Sprintf("%v -> %v", f.OldValue, f.NewValue)})
			}
		}
	}
	renderTextTable([]string{"Table", "Column", "Change", "Detail"}, rows)
	fmt.Fprintln(stdout, d.Summary)
}

func snapshotMigrate(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		raw, _ := cmd.Flags().GetString("dialect")

		dialect := a.dialect
		if raw != "" {
			var err error
			if dialect, err = snapshot.ParseDialect(raw); err != nil {
				return err
			}
		}
		stmts, err := a.snaps.MigrationSQLFor(ctx, from, to, dialect)
		if err != nil {
			return err
		}
		return emit(cmd, stmts, func() { printMigration(stmts) })
	})
}

func printMigration(stmts map[string][]string) {
	if len(stmts) == 0 {
		fmt.Fprintln(stdout, "-- no changes")
		return
	}
	tables := make([]string, 0, len(stmts))
	for t := range stmts {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	for _, t := range tables {
		fmt.Fprintf(stdout, "-- %s\n", t)
		for _, s := range stmts[t] {
			fmt.Fprintln(stdout, s+";")
		}
	}
}

/*────────────────────────── versions ───────────────────────────────────────*/

func runVersions(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		database, _ := cmd.Flags().GetString("database")
		table, _ := cmd.Flags().GetString("table")
		limit, _ := cmd.Flags().GetInt("limit")
		list, err := a.versions(ctx, database, table, limit)
		if err != nil {
			return err
		}
		return emit(cmd, list, func() {
			rows := make([][]string, 0, len(list))
			for _, v := range list {
				rows = append(rows, []string{
					v.SchemaSnapshot.TableName, strconv.Itoa(v.VersionNumber), v.ChangeType,
					v.ChangeSummary, v.ChangeSource, v.CreatedAt.Format("2006-01-02 15:04:05"),
				})
			}
			renderTextTable([]string{"Table", "Version", "Type", "Summary", "Source", "Created"}, rows)
		})
	})
}
