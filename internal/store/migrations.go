package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'student' CHECK(status IN ('student', 'employee', 'guest')),
	diet_prefs    TEXT NOT NULL DEFAULT '[]',
	allergy_codes TEXT NOT NULL DEFAULT '[]',
	muted         INTEGER NOT NULL DEFAULT 0 CHECK(muted IN (0, 1)),
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS alerts (
	id         TEXT PRIMARY KEY,
	owner_id   INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	keyword    TEXT NOT NULL,
	muted      INTEGER NOT NULL DEFAULT 0 CHECK(muted IN (0, 1)),
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_alerts_owner_id ON alerts(owner_id);

CREATE TABLE IF NOT EXISTS delivery_records (
	alert_id     TEXT NOT NULL REFERENCES alerts(id) ON DELETE CASCADE,
	date         TEXT NOT NULL,
	delivered_at DATETIME NOT NULL,
	PRIMARY KEY (alert_id, date)
);

CREATE TABLE IF NOT EXISTS menu_days (
	date       TEXT PRIMARY KEY,
	fetched_at DATETIME NOT NULL,
	meals      TEXT NOT NULL DEFAULT '[]'
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_delivery_records_date ON delivery_records(date);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
