package errors

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestDumpExtractsPgxDetails(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "idx_cart_records_user_id", TableName: "cart_records", Message: "duplicate key value"}
	err := Wrap(CodeStoreUnavailable, fmt.Errorf("create header: %w", pgErr), "save cart")

	d := Dump(err)
	if d.Code != CodeStoreUnavailable {
		t.Fatalf("expected store code, got %s", d.Code)
	}
	if d.PGCode != "23505" || d.PGConstraint != "idx_cart_records_user_id" || d.PGTable != "cart_records" {
		t.Fatalf("unexpected pg details: %+v", d)
	}
	if len(d.Chain) != 3 {
		t.Fatalf("expected 3 chain entries, got %d: %v", len(d.Chain), d.Chain)
	}
	if d.Fields()["pg_code"] != "23505" {
		t.Fatalf("fields should carry pg code: %v", d.Fields())
	}
}

func TestDumpExtractsPqDetails(t *testing.T) {
	err := fmt.Errorf("delete: %w", &pq.Error{Code: "40001", Table: "cart_items", Message: "serialization failure"})
	d := Dump(err)
	if d.PGCode != "40001" || d.PGTable != "cart_items" {
		t.Fatalf("unexpected pq details: %+v", d)
	}
	if d.Code != "" {
		t.Fatalf("untyped chain should have no code, got %s", d.Code)
	}
}

func TestDumpNil(t *testing.T) {
	if d := Dump(nil); d.TopMessage != "" || d.Chain != nil {
		t.Fatalf("expected empty dump, got %+v", d)
	}
}

func TestFieldsOmitEmptyPgDetails(t *testing.T) {
	fields := Dump(New(CodeNotFound, "item not in cart")).Fields()
	if _, ok := fields["pg_code"]; ok {
		t.Fatalf("pg fields should be omitted: %v", fields)
	}
	if fields["error_code"] != CodeNotFound {
		t.Fatalf("expected error code field, got %v", fields["error_code"])
	}
}
