// Package postgres implements store.Store on PostgreSQL using pgx/v5.
//
// Jobs live in a single table keyed by (queue, id). Claims select the
// earliest claimable row with FOR UPDATE SKIP LOCKED and stamp a fresh
// lease in the same statement, so concurrent workers never observe the
// same job under a live lease. Releases and completions are fenced by the
// lease ID in their WHERE clause.
//
//	s, err := postgres.New(ctx, "postgres://localhost:5432/courier?sslmode=disable")
//	if err != nil { ... }
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil { ... }
//
// Migrations are embedded SQL files applied in filename order and
// recorded in courier_migrations.
package postgres
