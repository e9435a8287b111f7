package postgres

import (
	"errors"
	"strings"
	"testing"
	"testing/fstest"
)

func migrationFS(files map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, body := range files {
		fsys["sql/migrations/"+name] = &fstest.MapFile{Data: []byte(body)}
	}
	return fsys
}

func TestLoadMigrationsFromFS_SortsAndChecksums(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(migrationFS(map[string]string{
		"0002_carts.up.sql":    "CREATE TABLE carts (id INT);",
		"0002_carts.down.sql":  "DROP TABLE IF EXISTS carts;",
		"0001_orders.up.sql":   "CREATE TABLE orders (id INT);",
		"0001_orders.down.sql": "DROP TABLE IF EXISTS orders;",
	}))
	if err != nil {
		t.Fatalf("loadMigrationsFromFS failed: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].label() != "0001_orders" || migrations[1].label() != "0002_carts" {
		t.Fatalf("unexpected order: %s, %s", migrations[0].label(), migrations[1].label())
	}
	if len(migrations[0].Checksum) != 64 || migrations[0].Checksum == migrations[1].Checksum {
		t.Fatalf("unexpected checksums: %q %q", migrations[0].Checksum, migrations[1].Checksum)
	}
}

func TestLoadMigrationsFromFS_Embedded(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		t.Fatalf("embedded migrations must load: %v", err)
	}
	if len(migrations) != 3 || migrations[1].Name != "catalog" || migrations[2].Name != "order_item_cart_line" {
		t.Fatalf("unexpected embedded migrations: %+v", migrations)
	}
}

func TestLoadMigrationsFromFS_Rejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		files map[string]string
		want  string
	}{
		{"missing down", map[string]string{"0001_init.up.sql": "SELECT 1;"}, "both up and down"},
		{"invalid name", map[string]string{"not_a_migration.sql": "SELECT 1;"}, "invalid migration file name"},
		{"empty body", map[string]string{"0001_init.up.sql": "  \n", "0001_init.down.sql": "SELECT 1;"}, "empty"},
		{"name mismatch", map[string]string{"0001_init.up.sql": "SELECT 1;", "0001_other.down.sql": "SELECT 1;"}, "name mismatch"},
		{"no files", map[string]string{}, "no migration files"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadMigrationsFromFS(migrationFS(tc.files))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestPlanMigrations(t *testing.T) {
	t.Parallel()

	all := []migration{
		{Version: 1, Name: "orders", Checksum: "a"},
		{Version: 2, Name: "catalog", Checksum: "b"},
		{Version: 3, Name: "carts", Checksum: "c"},
	}

	plan, err := planMigrations(all, map[int64]string{1: "a"}, migrationUp, 0)
	if err != nil || len(plan) != 2 || plan[0].Version != 2 {
		t.Fatalf("up all: plan=%+v err=%v", plan, err)
	}

	plan, err = planMigrations(all, map[int64]string{}, migrationUp, 1)
	if err != nil || len(plan) != 1 || plan[0].Version != 1 {
		t.Fatalf("up one step: plan=%+v err=%v", plan, err)
	}

	plan, err = planMigrations(all, map[int64]string{1: "", 2: "b"}, migrationUp, 0)
	if err != nil || len(plan) != 1 || plan[0].Version != 3 {
		t.Fatalf("legacy rows without checksum must be accepted: plan=%+v err=%v", plan, err)
	}

	if _, err := planMigrations(all, map[int64]string{1: "changed"}, migrationUp, 0); !errors.Is(err, ErrMigrationDrift) {
		t.Fatalf("expected drift error, got %v", err)
	}

	plan, err = planMigrations(all, map[int64]string{1: "a", 2: "b", 3: "c"}, migrationDown, 2)
	if err != nil || len(plan) != 2 || plan[0].Version != 3 || plan[1].Version != 2 {
		t.Fatalf("down two steps: plan=%+v err=%v", plan, err)
	}

	if _, err := planMigrations(all, map[int64]string{9: "x"}, migrationDown, 1); err == nil {
		t.Fatal("expected error for unknown applied version")
	}
}
