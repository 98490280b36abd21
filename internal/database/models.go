package database

import "time"

// SeenIncident records one incident the broadcaster has already announced.
// Only the dedup key and a little context are stored, never message text.
type SeenIncident struct {
	Key       string    `db:"key"`
	Roadway   string    `db:"roadway"`
	FirstSeen time.Time `db:"first_seen"`
	LastSeen  time.Time `db:"last_seen"`
}
