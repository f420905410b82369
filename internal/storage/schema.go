package storage

// SQLiteSchema is applied on every open; all statements are idempotent.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS user_settings (
    user_id TEXT PRIMARY KEY,
    items_per_day INTEGER NOT NULL DEFAULT 3,
    reminder_hour INTEGER NOT NULL DEFAULT 9,
    timezone TEXT NOT NULL DEFAULT 'UTC',
    push_opt_in BOOLEAN NOT NULL DEFAULT 0,
    last_push_at DATETIME,
    streak INTEGER NOT NULL DEFAULT 0,
    best_streak INTEGER NOT NULL DEFAULT 0,
    last_streak_at TEXT,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_user_settings_opt_in ON user_settings(push_opt_in);

CREATE TABLE IF NOT EXISTS items (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    url TEXT NOT NULL,
    domain TEXT,
    title TEXT,
    description TEXT,
    thumb_url TEXT,
    type TEXT NOT NULL DEFAULT 'other',
    status TEXT NOT NULL DEFAULT 'inbox' CHECK (status IN ('inbox', 'today', 'snoozed', 'done')),
    pinned BOOLEAN NOT NULL DEFAULT 0,
    added_at DATETIME NOT NULL,
    last_seen_at DATETIME,
    seen_count INTEGER NOT NULL DEFAULT 0,
    next_at DATETIME,
    done_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_items_user_status ON items(user_id, status);
CREATE INDEX IF NOT EXISTS idx_items_user_url ON items(user_id, url);

CREATE TABLE IF NOT EXISTS device_tokens (
    user_id TEXT NOT NULL,
    token TEXT NOT NULL,
    platform TEXT,
    created_at DATETIME NOT NULL,
    PRIMARY KEY (user_id, token)
);

CREATE TABLE IF NOT EXISTS feed_sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    url TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    etag TEXT,
    last_modified TEXT,
    last_fetched DATETIME,
    last_error TEXT,
    created_at DATETIME NOT NULL,
    UNIQUE(user_id, url)
);
`

// PostgresSchema mirrors SQLiteSchema with native types.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS user_settings (
    user_id TEXT PRIMARY KEY,
    items_per_day INTEGER NOT NULL DEFAULT 3,
    reminder_hour INTEGER NOT NULL DEFAULT 9,
    timezone TEXT NOT NULL DEFAULT 'UTC',
    push_opt_in BOOLEAN NOT NULL DEFAULT FALSE,
    last_push_at TIMESTAMPTZ,
    streak INTEGER NOT NULL DEFAULT 0,
    best_streak INTEGER NOT NULL DEFAULT 0,
    last_streak_at TEXT,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_user_settings_opt_in ON user_settings(push_opt_in);

CREATE TABLE IF NOT EXISTS items (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    url TEXT NOT NULL,
    domain TEXT,
    title TEXT,
    description TEXT,
    thumb_url TEXT,
    type TEXT NOT NULL DEFAULT 'other',
    status TEXT NOT NULL DEFAULT 'inbox' CHECK (status IN ('inbox', 'today', 'snoozed', 'done')),
    pinned BOOLEAN NOT NULL DEFAULT FALSE,
    added_at TIMESTAMPTZ NOT NULL,
    last_seen_at TIMESTAMPTZ,
    seen_count INTEGER NOT NULL DEFAULT 0,
    next_at TIMESTAMPTZ,
    done_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_items_user_status ON items(user_id, status);
CREATE INDEX IF NOT EXISTS idx_items_user_url ON items(user_id, url);

CREATE TABLE IF NOT EXISTS device_tokens (
    user_id TEXT NOT NULL,
    token TEXT NOT NULL,
    platform TEXT,
    created_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (user_id, token)
);

CREATE TABLE IF NOT EXISTS feed_sources (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    url TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    etag TEXT,
    last_modified TEXT,
    last_fetched TIMESTAMPTZ,
    last_error TEXT,
    created_at TIMESTAMPTZ NOT NULL,
    UNIQUE(user_id, url)
);
`
