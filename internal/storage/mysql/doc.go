// Package mysql provides SQL-backed stores for profiles and prediction
// history. The same queries run against MySQL (go-sql-driver/mysql) and an
// embedded SQLite database (modernc.org/sqlite); dialect differences are
// limited to upsert syntax, pagination and duplicate-key detection. Schema
// migrations are embedded from deploy/migrations and applied on Open.
package mysql
