package store

// schema is applied in order at startup. Statements are idempotent so a
// restart against an existing database is a no-op.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS collections (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		description   TEXT NOT NULL DEFAULT '',
		metadata      JSONB NOT NULL DEFAULT '{}',
		dense_model   TEXT NOT NULL,
		sparse_model  TEXT NOT NULL DEFAULT '',
		reranker_model TEXT NOT NULL DEFAULT '',
		chunk_size    INT NOT NULL,
		chunk_overlap INT NOT NULL DEFAULT 0,
		strategy      TEXT NOT NULL DEFAULT 'recursive',
		chunking_url  TEXT NOT NULL DEFAULT '',
		keep_duplicate BOOLEAN NOT NULL DEFAULT FALSE,
		is_deleted    BOOLEAN NOT NULL DEFAULT FALSE,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS resources (
		id             TEXT PRIMARY KEY,
		collection_id  TEXT NOT NULL REFERENCES collections(id),
		owner_id       TEXT NOT NULL DEFAULT 'public',
		title          TEXT NOT NULL DEFAULT '',
		url            TEXT NOT NULL DEFAULT '',
		content        TEXT NOT NULL DEFAULT '',
		content_hash   TEXT NOT NULL DEFAULT '',
		description    TEXT NOT NULL DEFAULT '',
		metadata       JSONB NOT NULL DEFAULT '{}',
		chunk_overrides JSONB,
		status         TEXT NOT NULL DEFAULT '',
		status_message TEXT NOT NULL DEFAULT '',
		refreshed_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		is_deleted     BOOLEAN NOT NULL DEFAULT FALSE,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_resources_collection
		ON resources (collection_id) WHERE NOT is_deleted`,

	`CREATE TABLE IF NOT EXISTS chunks (
		id            TEXT PRIMARY KEY,
		resource_id   TEXT NOT NULL,
		collection_id TEXT NOT NULL,
		owner_id      TEXT NOT NULL DEFAULT 'public',
		data          TEXT NOT NULL,
		vector_source TEXT NOT NULL DEFAULT '',
		metadata      JSONB NOT NULL DEFAULT '{}',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_resource ON chunks (resource_id)`,

	`CREATE TABLE IF NOT EXISTS feedback_docs (
		id            TEXT PRIMARY KEY,
		collection_id TEXT NOT NULL,
		owner_id      TEXT NOT NULL DEFAULT 'public',
		query         TEXT NOT NULL,
		hits          JSONB NOT NULL DEFAULT '{}',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_feedback_docs_collection
		ON feedback_docs (collection_id, owner_id)`,

	`CREATE TABLE IF NOT EXISTS eval_cases (
		id                 TEXT PRIMARY KEY,
		collection_id      TEXT NOT NULL,
		owner_id           TEXT NOT NULL DEFAULT 'public',
		query              TEXT NOT NULL,
		expected_chunk_ids JSONB NOT NULL DEFAULT '[]',
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS eval_runs (
		id               TEXT PRIMARY KEY,
		collection_id    TEXT NOT NULL,
		owner_id         TEXT NOT NULL DEFAULT 'public',
		total_cases      INT NOT NULL,
		hit_count        INT NOT NULL,
		overall_accuracy DOUBLE PRECISION NOT NULL,
		average_recall   DOUBLE PRECISION NOT NULL,
		mrr              DOUBLE PRECISION NOT NULL,
		results          JSONB NOT NULL DEFAULT '[]',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS analytics_events (
		id            TEXT PRIMARY KEY,
		collection_id TEXT NOT NULL,
		owner_id      TEXT NOT NULL DEFAULT 'public',
		query         TEXT NOT NULL,
		rt_ms         BIGINT NOT NULL,
		ts            TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_analytics_collection_ts
		ON analytics_events (collection_id, ts DESC)`,

	`CREATE TABLE IF NOT EXISTS adapters (
		collection_id  TEXT PRIMARY KEY,
		weights        JSONB NOT NULL,
		bias           JSONB NOT NULL,
		input_dim      INT NOT NULL,
		output_dim     INT NOT NULL,
		training_count INT NOT NULL DEFAULT 0,
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}
