// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

package actions

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/KavyaMunusamy/LiveDataRag/shared/logger"
)

// maxRowsPerOperation caps how many rows a delete may touch
const maxRowsPerOperation = 1000

// defaultAllowedTables are writable without extra configuration
var defaultAllowedTables = []string{
	"actions_log", "notifications", "user_rules", "data_streams", "system_metrics",
}

// DataUpdateHandler performs constrained relational writes
type DataUpdateHandler struct {
	db      *sql.DB
	allowed map[string]bool
	log     *logger.Logger
}

// NewDataUpdateHandler creates the data_update handler. An empty allow
// list falls back to the defaults.
func NewDataUpdateHandler(db *sql.DB, allowedTables []string) *DataUpdateHandler {
	if len(allowedTables) == 0 {
		allowedTables = defaultAllowedTables
	}
	allowed := make(map[string]bool, len(allowedTables))
	for _, t := range allowedTables {
		allowed[t] = true
	}
	return &DataUpdateHandler{
		db:      db,
		allowed: allowed,
		log:     logger.New("dataupdate-handler"),
	}
}

func (h *DataUpdateHandler) Type() Type { return TypeDataUpdate }

// Execute runs one update, insert or delete against an allow-listed table
func (h *DataUpdateHandler) Execute(ctx context.Context, params, actionCtx map[string]interface{}) (map[string]interface{}, error) {
	table, _ := StringParam(params, "table")
	if table == "" {
		return nil, &ConfigError{Scope: "data_update", Field: "table", Msg: "table name is required"}
	}
	if !h.allowed[table] {
		return nil, &ConfigError{Scope: "data_update", Field: "table", Msg: fmt.Sprintf("table %q is not allowed for automatic updates", table)}
	}

	operation, ok := StringParam(params, "operation")
	if !ok {
		operation = "update"
	}

	query, _ := params["query"].(map[string]interface{})
	updateData, _ := params["update"].(map[string]interface{})

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var result map[string]interface{}
	switch operation {
	case "update":
		result, err = h.updateRecords(ctx, tx, table, query, updateData)
	case "insert":
		result, err = h.insertRecord(ctx, tx, table, updateData)
	case "delete":
		result, err = h.deleteRecords(ctx, tx, table, query)
	default:
		return nil, &ConfigError{Scope: "data_update", Field: "operation", Msg: fmt.Sprintf("invalid operation %q", operation)}
	}
	if err != nil {
		h.log.Error("", "", "database operation failed", map[string]interface{}{
			"table":     table,
			"operation": operation,
			"error":     err.Error(),
		})
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	h.log.Info("", "", "database operation successful", map[string]interface{}{
		"table":     table,
		"operation": operation,
	})
	return map[string]interface{}{
		"status":    "success",
		"operation": operation,
		"table":     table,
		"result":    result,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (h *DataUpdateHandler) updateRecords(ctx context.Context, tx *sql.Tx, table string, query, updateData map[string]interface{}) (map[string]interface{}, error) {
	if len(updateData) == 0 {
		return nil, &ConfigError{Scope: "data_update", Field: "update", Msg: "update operation requires update data"}
	}

	var args []interface{}
	setParts := make([]string, 0, len(updateData))
	for _, col := range sortedKeys(updateData) {
		args = append(args, updateData[col])
		setParts = append(setParts, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	where, args, err := buildWhereClause(query, args)
	if err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(setParts, ", "), where)
	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("update failed: %w", err)
	}

	affected, _ := res.RowsAffected()
	return map[string]interface{}{
		"rows_affected": affected,
		"query":         stmt,
	}, nil
}

func (h *DataUpdateHandler) insertRecord(ctx context.Context, tx *sql.Tx, table string, data map[string]interface{}) (map[string]interface{}, error) {
	if len(data) == 0 {
		return nil, &ConfigError{Scope: "data_update", Field: "update", Msg: "insert operation requires data"}
	}
	if err := h.validateInsertData(ctx, tx, table, data); err != nil {
		return nil, err
	}

	cols := sortedKeys(data)
	placeholders := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	for i, col := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = data[col]
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("insert failed: %w", err)
	}

	affected, _ := res.RowsAffected()
	return map[string]interface{}{
		"rows_affected": affected,
		"data":          data,
	}, nil
}

func (h *DataUpdateHandler) deleteRecords(ctx context.Context, tx *sql.Tx, table string, query map[string]interface{}) (map[string]interface{}, error) {
	if len(query) == 0 {
		return nil, &ConfigError{Scope: "data_update", Field: "query", Msg: "delete operation requires a query to prevent mass deletion"}
	}

	where, args, err := buildWhereClause(query, nil)
	if err != nil {
		return nil, err
	}

	var count int
	countStmt := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table, where)
	if err := tx.QueryRowContext(ctx, countStmt, args...).Scan(&count); err != nil {
		return nil, fmt.Errorf("delete preview failed: %w", err)
	}
	if count > maxRowsPerOperation {
		return nil, fmt.Errorf("delete would affect %d rows, exceeding limit of %d", count, maxRowsPerOperation)
	}

	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", table, where)
	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("delete failed: %w", err)
	}

	affected, _ := res.RowsAffected()
	return map[string]interface{}{
		"rows_affected":  affected,
		"expected_count": count,
		"query":          stmt,
	}, nil
}

// buildWhereClause translates a query document into a WHERE clause with
// positional placeholders. Nested documents carry comparison operators
// ($gt, $lt, $gte, $lte, $ne, $in, $like); plain values compare equal.
func buildWhereClause(query map[string]interface{}, args []interface{}) (string, []interface{}, error) {
	if len(query) == 0 {
		return "1=1", args, nil
	}

	var conditions []string
	for _, key := range sortedKeys(query) {
		value := query[key]
		doc, ok := value.(map[string]interface{})
		if !ok {
			args = append(args, value)
			conditions = append(conditions, fmt.Sprintf("%s = $%d", key, len(args)))
			continue
		}

		for _, op := range sortedKeys(doc) {
			opValue := doc[op]
			switch op {
			case "$gt", "$lt", "$gte", "$lte", "$ne", "$like":
				args = append(args, opValue)
				conditions = append(conditions, fmt.Sprintf("%s %s $%d", key, sqlOperator(op), len(args)))
			case "$in":
				items, ok := opValue.([]interface{})
				if !ok || len(items) == 0 {
					return "", nil, &ConfigError{Scope: "data_update", Field: "query", Msg: fmt.Sprintf("$in for %q requires a non-empty list", key)}
				}
				placeholders := make([]string, len(items))
				for i, item := range items {
					args = append(args, item)
					placeholders[i] = fmt.Sprintf("$%d", len(args))
				}
				conditions = append(conditions, fmt.Sprintf("%s IN (%s)", key, strings.Join(placeholders, ", ")))
			default:
				return "", nil, &ConfigError{Scope: "data_update", Field: "query", Msg: fmt.Sprintf("unsupported operator %q", op)}
			}
		}
	}

	return strings.Join(conditions, " AND "), args, nil
}

func sqlOperator(op string) string {
	switch op {
	case "$gt":
		return ">"
	case "$lt":
		return "<"
	case "$gte":
		return ">="
	case "$lte":
		return "<="
	case "$ne":
		return "!="
	case "$like":
		return "LIKE"
	}
	return "="
}

// validateInsertData checks the payload against the live table schema:
// unknown columns are rejected and non-nullable columns without a default
// must be present.
func (h *DataUpdateHandler) validateInsertData(ctx context.Context, tx *sql.Tx, table string, data map[string]interface{}) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT column_name, is_nullable, column_default IS NOT NULL
		FROM information_schema.columns
		WHERE table_name = $1`, table)
	if err != nil {
		return fmt.Errorf("failed to inspect table schema: %w", err)
	}
	defer rows.Close()

	known := make(map[string]bool)
	var required []string
	for rows.Next() {
		var name, nullable string
		var hasDefault bool
		if err := rows.Scan(&name, &nullable, &hasDefault); err != nil {
			return fmt.Errorf("failed to read table schema: %w", err)
		}
		known[name] = true
		if nullable == "NO" && !hasDefault {
			required = append(required, name)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read table schema: %w", err)
	}
	if len(known) == 0 {
		return &ConfigError{Scope: "data_update", Field: "table", Msg: fmt.Sprintf("table %q has no visible schema", table)}
	}

	for _, col := range required {
		if _, ok := data[col]; !ok {
			return &ConfigError{Scope: "data_update", Field: col, Msg: fmt.Sprintf("required column %q is missing", col)}
		}
	}
	for key := range data {
		if !known[key] {
			return &ConfigError{Scope: "data_update", Field: key, Msg: fmt.Sprintf("unknown column %q for table %q", key, table)}
		}
	}
	return nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
