package db

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestErrorClassifiers(t *testing.T) {
	if !IsNotFound(fmt.Errorf("get slot: %w", pgx.ErrNoRows)) {
		t.Fatalf("expected wrapped ErrNoRows to be not found")
	}
	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	if !IsUniqueViolation(unique) || IsCheckViolation(unique) {
		t.Fatalf("unique violation misclassified")
	}
	if !IsCheckViolation(&pgconn.PgError{Code: "23514"}) {
		t.Fatalf("expected check violation")
	}
	if !IsInvalidText(fmt.Errorf("lock: %w", &pgconn.PgError{Code: "22P02"})) {
		t.Fatalf("expected invalid text representation")
	}
	if IsNotFound(nil) || IsUniqueViolation(nil) {
		t.Fatalf("nil error classified")
	}
}
