package mssql

import (
	"errors"
	"testing"
	"time"
)

func TestBuildSelectSQL(t *testing.T) {
	got := buildSelectSQL(SourceOptions{
		Schema:    "dbo",
		Table:     "users",
		Columns:   []string{"id", "na]me"},
		KeyColumn: "id",
		Where:     "active = 1",
		Limit:     5,
	})
	want := "SELECT TOP (5) [id], [na]]me] FROM [dbo].[users] WHERE active = 1 ORDER BY [id]"
	if got != want {
		t.Fatalf("buildSelectSQL:\n got %s\nwant %s", got, want)
	}

	if got := buildSelectSQL(SourceOptions{Schema: "dbo", Table: "t"}); got != "SELECT * FROM [dbo].[t]" {
		t.Fatalf("unexpected bare select: %s", got)
	}
}

func TestEscapeSQLString(t *testing.T) {
	if got := escapeSQLString("o'hara"); got != "o''hara" {
		t.Fatalf("escapeSQLString: %s", got)
	}
}

func TestSourceOptionsDefaults(t *testing.T) {
	opts := SourceOptions{Table: " users "}.withDefaults()
	if opts.Schema != "dbo" || opts.Table != "users" {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
	if err := (SourceOptions{Schema: "dbo", Table: "users", Limit: -1}).validate(); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected negative limit to fail, got %v", err)
	}
	if _, err := NewRowSource(nil, SourceOptions{Table: "users"}); err == nil {
		t.Fatalf("expected nil db to fail")
	}
}

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		name   string
		dbType string
		in     any
		want   any
	}{
		{name: "decimal", dbType: "DECIMAL", in: []byte("10.50"), want: 10.5},
		{name: "money", dbType: "MONEY", in: []byte("3.0000"), want: 3.0},
		{name: "varchar bytes", dbType: "VARCHAR", in: []byte("abc"), want: "abc"},
		{name: "binary", dbType: "VARBINARY", in: []byte{0xde, 0xad}, want: "DEAD"},
		{name: "time", dbType: "DATETIME2", in: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), want: "2024-01-02T03:04:05Z"},
		{name: "int", dbType: "BIGINT", in: int64(7), want: int64(7)},
		{name: "null", dbType: "NVARCHAR", in: nil, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeValue(tt.dbType, tt.in); got != tt.want {
				t.Fatalf("normalizeValue(%s): got %#v want %#v", tt.dbType, got, tt.want)
			}
		})
	}
}

func TestNormalizeUniqueIdentifier(t *testing.T) {
	// SQL Server stores the first three groups little-endian.
	raw := []byte{0x04, 0x03, 0x02, 0x01, 0x06, 0x05, 0x08, 0x07, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
	got := normalizeValue("UNIQUEIDENTIFIER", raw)
	if got != "01020304-0506-0708-090A-0B0C0D0E0F10" {
		t.Fatalf("unexpected uniqueidentifier: %v", got)
	}
}
