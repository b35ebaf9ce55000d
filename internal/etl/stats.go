package etl

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"songetl/internal/metrics"
	"songetl/internal/storage"
)

// Stats counts what a file, a root or a whole run wrote.
type Stats struct {
	Files     int
	Songs     int64
	Artists   int64
	Users     int64
	Time      int64
	SongPlays int64

	// Unmatched counts songplays stored with NULL song_id and artist_id.
	Unmatched int64

	// IgnoredRecords counts song records after the first of their file.
	IgnoredRecords int
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Files += o.Files
	s.Songs += o.Songs
	s.Artists += o.Artists
	s.Users += o.Users
	s.Time += o.Time
	s.SongPlays += o.SongPlays
	s.Unmatched += o.Unmatched
	s.IgnoredRecords += o.IgnoredRecords
}

// record publishes the row counts of one committed file.
func (s Stats) record() {
	metrics.RecordRecords(storage.Songs.Name, s.Songs)
	metrics.RecordRecords(storage.Artists.Name, s.Artists)
	metrics.RecordRecords(storage.Users.Name, s.Users)
	metrics.RecordRecords(storage.Time.Name, s.Time)
	metrics.RecordRecords(storage.SongPlays.Name, s.SongPlays)
	metrics.RecordRecords("songplays_unmatched", s.Unmatched)
}

// MarshalZerologObject logs the counters with thousands separators.
func (s Stats) MarshalZerologObject(e *zerolog.Event) {
	e.Int("files", s.Files).
		Str("songs", humanize.Comma(s.Songs)).
		Str("artists", humanize.Comma(s.Artists)).
		Str("users", humanize.Comma(s.Users)).
		Str("time", humanize.Comma(s.Time)).
		Str("songplays", humanize.Comma(s.SongPlays)).
		Str("unmatched", humanize.Comma(s.Unmatched))
	if s.IgnoredRecords > 0 {
		e.Int("records_ignored", s.IgnoredRecords)
	}
}

// Summary describes a finished (or aborted) run.
type Summary struct {
	RunID    string
	Song     Stats
	Log      Stats
	Duration time.Duration
}

// Total is Song plus Log.
func (s Summary) Total() Stats {
	t := s.Song
	t.Add(s.Log)
	return t
}
