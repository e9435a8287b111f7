package postgres

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMigrator_UpDownSequence(t *testing.T) {
	store := rawStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	embedded, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		t.Fatal(err)
	}
	latest := embedded[len(embedded)-1].Version

	if err := store.MigrateDown(ctx, len(embedded)+1); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	steps := []struct {
		name        string
		apply       func() error
		wantVersion int64
		wantPending int
	}{
		{name: "empty schema", apply: func() error { return nil }, wantVersion: 0, wantPending: len(embedded)},
		{name: "one step up", apply: func() error { return store.MigrateUp(ctx, 1) }, wantVersion: 1, wantPending: len(embedded) - 1},
		{name: "rest up", apply: func() error { return store.MigrateUp(ctx, 0) }, wantVersion: latest, wantPending: 0},
		{name: "up again is a no-op", apply: func() error { return store.MigrateUp(ctx, 0) }, wantVersion: latest, wantPending: 0},
		{name: "down defaults to one step", apply: func() error { return store.MigrateDown(ctx, 0) }, wantVersion: latest - 1, wantPending: 1},
		{name: "down everything", apply: func() error { return store.MigrateDown(ctx, len(embedded)) }, wantVersion: 0, wantPending: len(embedded)},
		{name: "down on empty schema", apply: func() error { return store.MigrateDown(ctx, 1) }, wantVersion: 0, wantPending: len(embedded)},
	}

	for _, step := range steps {
		if err := step.apply(); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		version, applied, err := store.MigrationStatus(ctx)
		if err != nil {
			t.Fatalf("%s: status: %v", step.name, err)
		}
		pending, err := store.PendingMigrations(ctx)
		if err != nil {
			t.Fatalf("%s: pending: %v", step.name, err)
		}
		if version != step.wantVersion || pending != step.wantPending || applied+pending != len(embedded) {
			t.Fatalf("%s: version=%d applied=%d pending=%d, want version=%d pending=%d",
				step.name, version, applied, pending, step.wantVersion, step.wantPending)
		}
	}
}

func TestMigrator_DetectsDrift(t *testing.T) {
	store := rawStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if _, err := store.DB().ExecContext(ctx, `UPDATE schema_migrations SET checksum = 'edited' WHERE version = 1`); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_, _ = store.DB().ExecContext(context.Background(), `UPDATE schema_migrations SET checksum = '' WHERE version = 1`)
	})

	if err := store.MigrateUp(ctx, 0); !errors.Is(err, ErrMigrationDrift) {
		t.Fatalf("expected ErrMigrationDrift, got %v", err)
	}
}

func TestMigrator_RejectsClosedStoreAndUnknownDirection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var closed *Store
	calls := map[string]error{
		"up":   closed.MigrateUp(ctx, 0),
		"down": closed.MigrateDown(ctx, 1),
	}
	_, _, calls["status"] = closed.MigrationStatus(ctx)
	_, calls["pending"] = closed.PendingMigrations(ctx)
	for name, err := range calls {
		if !errors.Is(err, errStoreClosed) {
			t.Fatalf("%s on nil store: %v", name, err)
		}
	}

	store := rawStore(t)
	if err := store.migrate(ctx, migrationDirection("sideways"), 0); err == nil {
		t.Fatal("expected unsupported direction error")
	}
}
