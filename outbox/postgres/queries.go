package postgres

import "fmt"

type queries struct {
	insert        string
	selectPending string
	markPublished string
	failOne       string
	deadOne       string
	countPending  string
}

func newQueries(table string) queries {
	cols := "id::text, request_id, event_type, event_data, attempts, created_at"
	insert := fmt.Sprintf(
		"INSERT INTO %s (id, request_id, event_type, event_data, created_at) VALUES ($1, $2, $3, $4, $5)",
		table,
	)
	selectPending := fmt.Sprintf(
		"SELECT %s FROM %s WHERE NOT published AND NOT dead ORDER BY created_at, id LIMIT $1 FOR UPDATE SKIP LOCKED",
		cols,
		table,
	)
	// Guarded by NOT published so re-running on an already published record
	// is a no-op and published_at is written exactly once.
	markPublished := fmt.Sprintf(
		"UPDATE %s SET published = TRUE, published_at = $1 WHERE id = ANY($2::uuid[]) AND NOT published",
		table,
	)
	failOne := fmt.Sprintf(
		"UPDATE %s SET attempts = attempts + 1, last_error = $1, dead = (attempts + 1 >= $2) WHERE id = $3::uuid",
		table,
	)
	deadOne := fmt.Sprintf(
		"UPDATE %s SET attempts = attempts + 1, last_error = $1, dead = TRUE WHERE id = $2::uuid",
		table,
	)
	countPending := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE NOT published AND NOT dead", table)

	return queries{
		insert:        insert,
		selectPending: selectPending,
		markPublished: markPublished,
		failOne:       failOne,
		deadOne:       deadOne,
		countPending:  countPending,
	}
}
