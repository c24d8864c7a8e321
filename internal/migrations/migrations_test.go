package migrations_test

import (
	"context"
	"testing"

	"github.com/storypath/engine/internal/database"
	"github.com/storypath/engine/internal/migrations"
)

func TestMigrations(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Memory)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer db.Close()

	if err := migrations.Run(ctx, db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	objects := []struct{ typ, name string }{
		{"table", "project"},
		{"table", "location"},
		{"table", "tracking"},
		{"view", "location_participant_counts"},
		{"view", "project_participant_counts"},
	}
	for _, o := range objects {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type=? AND name=?", o.typ, o.name,
		).Scan(&name)
		if err != nil {
			t.Errorf("%s %q not found: %v", o.typ, o.name, err)
		}
	}

	v, err := migrations.Version(ctx, db)
	if err != nil {
		t.Fatalf("reading version: %v", err)
	}
	if v != 2 {
		t.Errorf("version = %d, want 2", v)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Memory)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer db.Close()

	if err := migrations.Run(ctx, db); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := migrations.Run(ctx, db); err != nil {
		t.Fatalf("second run (should be no-op): %v", err)
	}
}

func TestTrackingIsUniquePerParticipant(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Memory)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer db.Close()
	if err := migrations.Run(ctx, db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	stmts := []string{
		`INSERT INTO project (id, title) VALUES (1, 'Campus')`,
		`INSERT INTO location (id, project_id, location_name) VALUES (1, 1, 'Gate')`,
		`INSERT INTO tracking (project_id, location_id, points, participant_username) VALUES (1, 1, 5, 'alice')`,
		`INSERT INTO tracking (project_id, location_id, points, participant_username) VALUES (1, 1, 5, 'bob')`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			t.Fatalf("%s: %v", s, err)
		}
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO tracking (project_id, location_id, points, participant_username) VALUES (1, 1, 5, 'alice')`)
	if err == nil {
		t.Fatal("duplicate tracking row accepted")
	}

	var n int
	if err := db.QueryRowContext(ctx,
		`SELECT number_participants FROM location_participant_counts WHERE location_id = 1`).Scan(&n); err != nil {
		t.Fatalf("reading count: %v", err)
	}
	if n != 2 {
		t.Errorf("participants = %d, want 2", n)
	}
}
