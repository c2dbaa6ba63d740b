package state

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
    id             TEXT PRIMARY KEY,
    url            TEXT NOT NULL,
    host           TEXT NOT NULL,
    source         TEXT NOT NULL,
    ready          INTEGER NOT NULL,
    dns_registered INTEGER NOT NULL,
    dns_attempts   INTEGER NOT NULL,
    http_attempts  INTEGER NOT NULL,
    last_status    INTEGER NOT NULL,
    error          TEXT,
    started_at     INTEGER NOT NULL,
    finished_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS runs_url_started ON runs (url, started_at);
`

// MySQL has no CREATE INDEX IF NOT EXISTS, so the index lives in the table definition.
const mysqlSchema = `
CREATE TABLE IF NOT EXISTS runs (
    id             VARCHAR(36) PRIMARY KEY,
    url            VARCHAR(2048) NOT NULL,
    host           VARCHAR(255) NOT NULL,
    source         VARCHAR(512) NOT NULL,
    ready          TINYINT(1) NOT NULL,
    dns_registered TINYINT(1) NOT NULL,
    dns_attempts   INT NOT NULL,
    http_attempts  INT NOT NULL,
    last_status    INT NOT NULL,
    error          TEXT,
    started_at     BIGINT NOT NULL,
    finished_at    BIGINT NOT NULL,
    INDEX runs_url_started (url(255), started_at)
)
`
