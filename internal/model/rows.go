package model

import "time"

// Song is a row of the songs table.
type Song struct {
	SongID   string
	Title    string
	ArtistID string
	Year     int
	Duration *float64
}

// Values returns the row in songs column order.
func (s Song) Values() []any {
	return []any{s.SongID, s.Title, s.ArtistID, s.Year, floatOrNil(s.Duration)}
}

// Artist is a row of the artists table.
type Artist struct {
	ArtistID  string
	Name      *string
	Location  *string
	Latitude  *float64
	Longitude *float64
}

// Values returns the row in artists column order.
func (a Artist) Values() []any {
	return []any{
		a.ArtistID,
		stringOrNil(a.Name),
		stringOrNil(a.Location),
		floatOrNil(a.Latitude),
		floatOrNil(a.Longitude),
	}
}

// User is a row of the users table.
type User struct {
	UserID    UserID
	FirstName *string
	LastName  *string
	Gender    *string
	Level     string
}

// Values returns the row in users column order.
func (u User) Values() []any {
	return []any{
		u.UserID.Any(),
		stringOrNil(u.FirstName),
		stringOrNil(u.LastName),
		stringOrNil(u.Gender),
		u.Level,
	}
}

// TimeRow is a row of the time dimension.
type TimeRow struct {
	StartTime time.Time
	Hour      int
	Day       int
	Week      int
	Month     int
	Year      int
	Weekday   int
}

// MillisToTime converts a millisecond epoch to a UTC time.
func MillisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// NewTimeRow derives the calendar fields of a millisecond epoch in UTC.
// Week is the ISO-8601 week number and Weekday counts from Monday=0.
func NewTimeRow(ms int64) TimeRow {
	t := MillisToTime(ms)
	_, week := t.ISOWeek()
	return TimeRow{
		StartTime: t,
		Hour:      t.Hour(),
		Day:       t.Day(),
		Week:      week,
		Month:     int(t.Month()),
		Year:      t.Year(),
		Weekday:   (int(t.Weekday()) + 6) % 7,
	}
}

// Values returns the row in time column order.
func (r TimeRow) Values() []any {
	return []any{r.StartTime, r.Hour, r.Day, r.Week, r.Month, r.Year, r.Weekday}
}

// SongPlay is a row of the songplays fact table. songplay_id is assigned by
// the database and is not part of the row.
type SongPlay struct {
	StartTime time.Time
	UserID    UserID
	Level     string
	SongID    *string
	ArtistID  *string
	SessionID int64
	Location  *string
	UserAgent *string
}

// Values returns the row in songplays insert column order.
func (p SongPlay) Values() []any {
	return []any{
		p.StartTime,
		p.UserID.Any(),
		p.Level,
		stringOrNil(p.SongID),
		stringOrNil(p.ArtistID),
		p.SessionID,
		stringOrNil(p.Location),
		stringOrNil(p.UserAgent),
	}
}

// SongKey identifies a played song by exact title, artist name and duration.
type SongKey struct {
	Title    string
	Artist   string
	Duration float64
}

// SongMatch is the (song_id, artist_id) pair found for a SongKey.
type SongMatch struct {
	SongID   string
	ArtistID string
}

func stringOrNil(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func floatOrNil(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
