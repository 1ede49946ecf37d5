package store

// schema is applied at startup with CREATE TABLE/INDEX IF NOT EXISTS so
// initialization stays idempotent across restarts.
const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id             TEXT PRIMARY KEY,
	instruction    TEXT NOT NULL,
	priority       TEXT NOT NULL,
	state          TEXT NOT NULL,
	depends_on     TEXT NOT NULL DEFAULT '[]',
	retry_policy   TEXT,
	timeout_ms     INTEGER,
	webhook_url    TEXT,
	metadata       TEXT,
	llm_config     TEXT,
	batch_id       TEXT,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state);
CREATE INDEX IF NOT EXISTS idx_tasks_priority ON tasks(priority);
CREATE INDEX IF NOT EXISTS idx_tasks_batch_id ON tasks(batch_id);

CREATE TABLE IF NOT EXISTS task_results (
	task_id          TEXT PRIMARY KEY REFERENCES tasks(id) ON DELETE CASCADE,
	state            TEXT NOT NULL,
	result           TEXT,
	error            TEXT,
	started_at       TEXT,
	completed_at     TEXT,
	retry_count      INTEGER NOT NULL DEFAULT 0,
	execution_time_ms INTEGER
);

CREATE TABLE IF NOT EXISTS task_steps (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id     TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	seq         INTEGER NOT NULL,
	tool_name   TEXT NOT NULL,
	input       TEXT,
	output      TEXT,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_steps_task_id ON task_steps(task_id);

CREATE TABLE IF NOT EXISTS task_batches (
	id          TEXT PRIMARY KEY,
	webhook_url TEXT,
	parallelism INTEGER,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS routing_overrides (
	tool_pattern TEXT PRIMARY KEY,
	provider     TEXT NOT NULL,
	model        TEXT NOT NULL,
	reason       TEXT,
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS router_metrics (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	tool_name     TEXT NOT NULL,
	provider      TEXT NOT NULL,
	model         TEXT NOT NULL,
	success       INTEGER NOT NULL,
	latency_ms    INTEGER NOT NULL,
	estimated_cost REAL NOT NULL DEFAULT 0,
	timestamp     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_router_metrics_tool ON router_metrics(tool_name);
CREATE INDEX IF NOT EXISTS idx_router_metrics_provider_model ON router_metrics(provider, model);

CREATE TABLE IF NOT EXISTS routing_optimizations (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	tool_name   TEXT NOT NULL,
	old_provider TEXT,
	old_model   TEXT,
	new_provider TEXT NOT NULL,
	new_model   TEXT NOT NULL,
	reason      TEXT,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS downgrade_tests (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	tool_name     TEXT NOT NULL,
	from_model    TEXT NOT NULL,
	to_model      TEXT NOT NULL,
	provider      TEXT NOT NULL,
	status        TEXT NOT NULL,
	sample_size   INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL,
	completed_at  TEXT
);

CREATE TABLE IF NOT EXISTS memory_entries (
	id               TEXT PRIMARY KEY,
	type             TEXT NOT NULL,
	session_id       TEXT NOT NULL,
	content          TEXT NOT NULL,
	role             TEXT,
	metadata         TEXT,
	relevance_score  REAL NOT NULL DEFAULT 0,
	is_compressed    INTEGER NOT NULL DEFAULT 0,
	compressed_at    TEXT,
	compressed_tokens INTEGER,
	created_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_entries_session ON memory_entries(session_id);

CREATE TABLE IF NOT EXISTS memory_vectors (
	entry_id   TEXT PRIMARY KEY REFERENCES memory_entries(id) ON DELETE CASCADE,
	category   TEXT,
	key        TEXT,
	vector     TEXT
);
CREATE INDEX IF NOT EXISTS idx_memory_vectors_category_key ON memory_vectors(category, key);

CREATE TABLE IF NOT EXISTS optimization_snapshots (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	tokens_before   INTEGER NOT NULL,
	tokens_after    INTEGER NOT NULL,
	compressed      INTEGER NOT NULL DEFAULT 0,
	dropped         INTEGER NOT NULL DEFAULT 0,
	promoted        INTEGER NOT NULL DEFAULT 0,
	parameters      TEXT NOT NULL,
	created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS adaptive_parameters (
	key         TEXT PRIMARY KEY,
	value       REAL NOT NULL,
	updated_at  TEXT NOT NULL
);
`
