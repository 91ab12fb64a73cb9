package discovery

import (
	"fmt"
	"strings"
)

// dialect holds the information_schema queries for one driver.  Every
// query aliases its columns so both drivers scan into the same row types.
type dialect struct {
	tables  string
	columns string
	quote   func(ident string) string
	limit   func(n int) string
}

var dialects = map[string]dialect{
	"mysql": {
		tables: `
			SELECT TABLE_NAME AS name,
			       TABLE_TYPE AS type,
			       COALESCE(TABLE_COMMENT, '') AS comment,
			       COALESCE(TABLE_ROWS, 0) AS row_count,
			       UPDATE_TIME AS last_modified
			FROM information_schema.TABLES
			WHERE TABLE_SCHEMA = ?
			ORDER BY TABLE_NAME`,
		columns: `
			SELECT COLUMN_NAME AS name,
			       COLUMN_TYPE AS type,
			       IS_NULLABLE AS is_nullable,
			       COLUMN_KEY AS key_role,
			       COALESCE(COLUMN_COMMENT, '') AS comment,
			       ORDINAL_POSITION AS position,
			       CHARACTER_MAXIMUM_LENGTH AS max_length,
			       NUMERIC_PRECISION AS numeric_precision,
			       NUMERIC_SCALE AS numeric_scale,
			       COLUMN_DEFAULT AS column_default,
			       EXTRA AS extra
			FROM information_schema.COLUMNS
			WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
			ORDER BY ORDINAL_POSITION`,
		quote: func(s string) string { return "`" + strings.ReplaceAll(s, "`", "``") + "`" },
		limit: func(n int) string { return fmt.Sprintf("LIMIT %d", n) },
	},
	"postgres": {
		tables: `
			SELECT c.relname AS name,
			       CASE c.relkind WHEN 'v' THEN 'VIEW' ELSE 'BASE TABLE' END AS type,
			       COALESCE(obj_description(c.oid, 'pg_class'), '') AS comment,
			       GREATEST(c.reltuples, 0)::bigint AS row_count,
			       NULL::timestamp AS last_modified
			FROM pg_class c
			JOIN pg_namespace n ON n.oid = c.relnamespace
			WHERE n.nspname = $1 AND c.relkind IN ('r', 'p', 'v')
			ORDER BY c.relname`,
		columns: `
			SELECT c.column_name AS name,
			       COALESCE(c.udt_name, c.data_type) AS type,
			       c.is_nullable AS is_nullable,
			       CASE WHEN pk.column_name IS NOT NULL THEN 'PRI' ELSE '' END AS key_role,
			       COALESCE(col_description(format('%I.%I', c.table_schema, c.table_name)::regclass, c.ordinal_position), '') AS comment,
			       c.ordinal_position AS position,
			       c.character_maximum_length AS max_length,
			       c.numeric_precision AS numeric_precision,
			       c.numeric_scale AS numeric_scale,
			       c.column_default AS column_default,
			       CASE WHEN c.is_identity = 'YES' OR c.column_default LIKE 'nextval(%' THEN 'auto_increment' ELSE '' END AS extra
			FROM information_schema.columns c
			LEFT JOIN (
			    SELECT kcu.column_name
			    FROM information_schema.table_constraints tc
			    JOIN information_schema.key_column_usage kcu
			      ON tc.constraint_name = kcu.constraint_name
			     AND tc.table_schema = kcu.table_schema
			    WHERE tc.constraint_type = 'PRIMARY KEY'
			      AND tc.table_schema = $1 AND tc.table_name = $2
			) pk ON pk.column_name = c.column_name
			WHERE c.table_schema = $1 AND c.table_name = $2
			ORDER BY c.ordinal_position`,
		quote: func(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` },
		limit: func(n int) string { return fmt.Sprintf("LIMIT %d", n) },
	},
}

func dialectFor(driver string) (dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported driver %q", driver)
	}
	return d, nil
}

// schemaName maps the catalog's database argument onto the schema filter
// each driver expects.
func schemaName(driver, database string) string {
	if driver == "postgres" && database == "" {
		return "public"
	}
	return database
}
