package store

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS jobs (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    name           TEXT NOT NULL,
    weight_grams   REAL,
    thumbnail_path TEXT NOT NULL DEFAULT '',
    started_at     TEXT NOT NULL DEFAULT (datetime('now','localtime')),
    completed_at   TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_name ON jobs(name);

CREATE TABLE IF NOT EXISTS admin_users (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    username      TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at    TEXT NOT NULL DEFAULT (datetime('now','localtime'))
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS jobs (
    id             BIGSERIAL PRIMARY KEY,
    name           TEXT NOT NULL,
    weight_grams   DOUBLE PRECISION,
    thumbnail_path TEXT NOT NULL DEFAULT '',
    started_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_jobs_name ON jobs(name);

CREATE TABLE IF NOT EXISTS admin_users (
    id            BIGSERIAL PRIMARY KEY,
    username      TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
