// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/KavyaMunusamy/LiveDataRag/actions"
	"github.com/KavyaMunusamy/LiveDataRag/shared/logger"
)

func TestPostgresStoreCountSince(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	since := time.Now().Add(-time.Hour)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM actions_log`).
		WithArgs("alert", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	store := &PostgresStore{db: db}
	count, err := store.CountSince(context.Background(), actions.TypeAlert, since)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 7 {
		t.Errorf("expected 7, got %d", count)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreHasFingerprint(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	since := time.Now().Add(-5 * time.Minute)
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("api_call", "abc123", since).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	store := &PostgresStore{db: db}
	found, err := store.HasFingerprint(context.Background(), actions.TypeAPICall, "abc123", since)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Error("expected fingerprint to be found")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"action_id", "action_type", "parameters", "result",
		"error_message", "status", "fingerprint", "created_at",
	}).
		AddRow("act_2", "alert", []byte(`{"message":"hi"}`), []byte(`{"sent":true}`), "", "executed", "fp2", now).
		AddRow("act_1", "api_call", []byte(`{}`), []byte(`null`), "boom", "failed", "fp1", now.Add(-time.Minute))

	mock.ExpectQuery(`SELECT action_id, action_type`).
		WithArgs(2).
		WillReturnRows(rows)

	store := &PostgresStore{db: db}
	records, err := store.Recent(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ActionID != "act_2" || records[0].Status != actions.StatusExecuted {
		t.Errorf("unexpected first record: %+v", records[0])
	}
	if records[0].Parameters["message"] != "hi" {
		t.Errorf("parameters not decoded: %+v", records[0].Parameters)
	}
	if records[1].Error != "boom" {
		t.Errorf("expected error message preserved, got %q", records[1].Error)
	}
}

func TestPostgresStoreWriteBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectPrepare(`INSERT INTO actions_log`).
		ExpectExec().
		WithArgs("act_1", "alert", sqlmock.AnyArg(), sqlmock.AnyArg(), "", "executed", "fp1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := &PostgresStore{db: db, log: logger.New("history-store")}
	err = store.writeBatch(context.Background(), []*Record{{
		ActionID:    "act_1",
		Type:        actions.TypeAlert,
		Parameters:  map[string]interface{}{"message": "hi"},
		Status:      actions.StatusExecuted,
		Fingerprint: "fp1",
		Timestamp:   time.Now(),
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
