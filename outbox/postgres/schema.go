package postgres

import "fmt"

const schemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id UUID PRIMARY KEY,
	request_id BIGINT NOT NULL,
	event_type TEXT NOT NULL,
	event_data JSONB NOT NULL,
	published BOOLEAN NOT NULL DEFAULT FALSE,
	dead BOOLEAN NOT NULL DEFAULT FALSE,
	attempts INT NOT NULL DEFAULT 0,
	last_error TEXT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ NULL
);
CREATE INDEX IF NOT EXISTS idx_%s_unpublished ON %s (created_at, id) WHERE NOT published AND NOT dead;`

// Schema returns the DDL for an outbox table. The partial index keeps the
// relay's scan cheap no matter how many published rows accumulate.
func Schema(table string) (string, error) {
	name, err := sanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(schemaTemplate, name, name, name), nil
}
