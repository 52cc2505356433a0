// Package postgres implements the goGuard store interfaces on PostgreSQL
// through pgx.
//
// Schema changes ship as embedded goose migrations; call [Migrate] once at
// startup before serving traffic. All conditional transitions (challenge
// reset, attempt counting, verification, rotation) are single guarded
// statements or short transactions, so concurrent callers across processes
// observe the same single-winner outcomes as the in-memory store.
package postgres
