package ledger

const schema = `
CREATE TABLE IF NOT EXISTS ingestions (
    id TEXT PRIMARY KEY,
    path TEXT NOT NULL,
    layout TEXT,
    vendor_id TEXT,
    status TEXT,
    outcome TEXT NOT NULL,
    error TEXT,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_ingestions_path ON ingestions(path);
CREATE INDEX IF NOT EXISTS idx_ingestions_started_at ON ingestions(started_at);
`
