package protocol

// SchemaDDL defines the SQLite schema for the Gastown state database.
// Tables: towns, rigs, beads, convoys, bead_events, rig_mail,
// escalations, review_queue, checkpoints.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
//
// All timestamps are TEXT in TimestampLayout so lexical order equals
// chronological order. The bead_events table is append-only: no UPDATE
// or DELETE is ever issued against it.
const SchemaDDL = `
-- Tenant namespaces
CREATE TABLE IF NOT EXISTS towns (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    name TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT,
    UNIQUE(owner_id, name)
);

-- Workspaces; removal is a soft delete (state='removed')
CREATE TABLE IF NOT EXISTS rigs (
    id TEXT PRIMARY KEY,
    town_id TEXT NOT NULL REFERENCES towns(id),
    name TEXT NOT NULL,
    repo_url TEXT,
    default_branch TEXT DEFAULT 'main',
    state TEXT NOT NULL DEFAULT 'active',
    created_at TEXT NOT NULL,
    updated_at TEXT
);

-- Work items
CREATE TABLE IF NOT EXISTS beads (
    id TEXT PRIMARY KEY,
    rig_id TEXT NOT NULL REFERENCES rigs(id),
    type TEXT NOT NULL DEFAULT 'task',
    title TEXT NOT NULL,
    body TEXT,
    status TEXT NOT NULL DEFAULT 'open',
    priority TEXT NOT NULL DEFAULT 'medium',
    assignee TEXT,
    labels TEXT DEFAULT '[]',
    convoy_id TEXT,
    created_at TEXT NOT NULL,
    closed_at TEXT
);

-- Bead groups tracked in aggregate
CREATE TABLE IF NOT EXISTS convoys (
    id TEXT PRIMARY KEY,
    rig_id TEXT NOT NULL REFERENCES rigs(id),
    title TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    total_beads INTEGER NOT NULL DEFAULT 0,
    closed_beads INTEGER NOT NULL DEFAULT 0,
    created_by TEXT,
    created_at TEXT NOT NULL,
    landed_at TEXT
);

-- Append-only per-rig event log
CREATE TABLE IF NOT EXISTS bead_events (
    id INTEGER PRIMARY KEY,
    rig_id TEXT NOT NULL REFERENCES rigs(id),
    bead_id TEXT,
    agent_id TEXT,
    event_type TEXT NOT NULL,
    old_value TEXT,
    new_value TEXT,
    metadata TEXT DEFAULT '{}',
    created_at TEXT NOT NULL
);

-- Directed agent-to-agent messages within one rig
CREATE TABLE IF NOT EXISTS rig_mail (
    id TEXT PRIMARY KEY,
    rig_id TEXT NOT NULL REFERENCES rigs(id),
    from_agent_id TEXT NOT NULL,
    to_agent_id TEXT NOT NULL,
    subject TEXT NOT NULL,
    body TEXT,
    delivered INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    delivered_at TEXT
);

-- Human-facing alerts, deduplicated by category while unacknowledged
CREATE TABLE IF NOT EXISTS escalations (
    id TEXT PRIMARY KEY,
    rig_id TEXT NOT NULL REFERENCES rigs(id),
    source_agent_id TEXT,
    severity TEXT NOT NULL DEFAULT 'medium',
    category TEXT NOT NULL,
    message TEXT NOT NULL,
    acknowledged INTEGER NOT NULL DEFAULT 0,
    re_escalation_count INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    acknowledged_at TEXT
);

-- Code-review submissions: pending -> running -> {merged, failed}
CREATE TABLE IF NOT EXISTS review_queue (
    id TEXT PRIMARY KEY,
    rig_id TEXT NOT NULL REFERENCES rigs(id),
    agent_id TEXT NOT NULL,
    bead_id TEXT NOT NULL REFERENCES beads(id),
    branch TEXT NOT NULL,
    pr_url TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    summary TEXT,
    created_at TEXT NOT NULL,
    processed_at TEXT
);

-- Agent progress notes
CREATE TABLE IF NOT EXISTS checkpoints (
    id TEXT PRIMARY KEY,
    rig_id TEXT NOT NULL REFERENCES rigs(id),
    agent_id TEXT NOT NULL,
    bead_id TEXT,
    note TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rigs_town ON rigs(town_id, state);
CREATE INDEX IF NOT EXISTS idx_beads_rig ON beads(rig_id, status);
CREATE INDEX IF NOT EXISTS idx_beads_assignee ON beads(rig_id, assignee);
CREATE INDEX IF NOT EXISTS idx_events_rig_time ON bead_events(rig_id, created_at, id);
CREATE INDEX IF NOT EXISTS idx_mail_inbox ON rig_mail(rig_id, to_agent_id, delivered);
CREATE INDEX IF NOT EXISTS idx_escalations_open ON escalations(rig_id, category, acknowledged);
CREATE INDEX IF NOT EXISTS idx_reviews_bead ON review_queue(rig_id, bead_id, status);
CREATE INDEX IF NOT EXISTS idx_checkpoints_agent ON checkpoints(rig_id, agent_id);
`
