// Package model holds the input records read from song and log files and the
// row shapes written to the five destination tables.
package model

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// SongRecord is one line of a song-metadata file.
type SongRecord struct {
	SongID          string   `json:"song_id"`
	Title           string   `json:"title"`
	ArtistID        string   `json:"artist_id"`
	ArtistName      string   `json:"artist_name"`
	ArtistLocation  *string  `json:"artist_location"`
	ArtistLatitude  *float64 `json:"artist_latitude"`
	ArtistLongitude *float64 `json:"artist_longitude"`
	Year            int      `json:"year"`
	Duration        *float64 `json:"duration"`
	NumSongs        int      `json:"num_songs"`
}

// Song returns the songs row for the record.
func (r SongRecord) Song() Song {
	return Song{
		SongID:   r.SongID,
		Title:    r.Title,
		ArtistID: r.ArtistID,
		Year:     r.Year,
		Duration: r.Duration,
	}
}

// Artist returns the artists row for the record.
func (r SongRecord) Artist() Artist {
	name := r.ArtistName
	return Artist{
		ArtistID:  r.ArtistID,
		Name:      &name,
		Location:  r.ArtistLocation,
		Latitude:  r.ArtistLatitude,
		Longitude: r.ArtistLongitude,
	}
}

// LogEvent is one user-activity event of a log file.
type LogEvent struct {
	Artist        *string  `json:"artist"`
	Auth          string   `json:"auth"`
	FirstName     *string  `json:"firstName"`
	Gender        *string  `json:"gender"`
	ItemInSession int      `json:"itemInSession"`
	LastName      *string  `json:"lastName"`
	Length        *float64 `json:"length"`
	Level         string   `json:"level"`
	Location      *string  `json:"location"`
	Method        string   `json:"method"`
	Page          string   `json:"page"`
	Registration  *float64 `json:"registration"`
	SessionID     int64    `json:"sessionId"`
	Song          *string  `json:"song"`
	Status        int      `json:"status"`
	TS            int64    `json:"ts"`
	UserAgent     *string  `json:"userAgent"`
	UserID        UserID   `json:"userId"`
}

// Time returns the time-dimension row for the event timestamp.
func (e LogEvent) Time() TimeRow { return NewTimeRow(e.TS) }

// User returns the users row carried by the event.
func (e LogEvent) User() User {
	return User{
		UserID:    e.UserID,
		FirstName: e.FirstName,
		LastName:  e.LastName,
		Gender:    e.Gender,
		Level:     e.Level,
	}
}

// SongKey returns the (title, artist, duration) triple used to find the played
// song. ok is false when any part is missing; such events never match.
func (e LogEvent) SongKey() (key SongKey, ok bool) {
	if e.Song == nil || e.Artist == nil || e.Length == nil {
		return SongKey{}, false
	}
	return SongKey{Title: *e.Song, Artist: *e.Artist, Duration: *e.Length}, true
}

// SongPlay returns the songplays row for the event and the resolved match.
// A nil match leaves song_id and artist_id NULL.
func (e LogEvent) SongPlay(m *SongMatch) SongPlay {
	sp := SongPlay{
		StartTime: MillisToTime(e.TS),
		UserID:    e.UserID,
		Level:     e.Level,
		SessionID: e.SessionID,
		Location:  e.Location,
		UserAgent: e.UserAgent,
	}
	if m != nil {
		songID, artistID := m.SongID, m.ArtistID
		sp.SongID = &songID
		sp.ArtistID = &artistID
	}
	return sp
}

// UserID is the userId field of a log event. Log files carry it as a string
// ("39"), occasionally as a number, and as "" for logged-out sessions.
type UserID struct {
	Value int64
	Valid bool
}

// UnmarshalJSON accepts a JSON string, number or null.
func (u *UserID) UnmarshalJSON(b []byte) error {
	*u = UserID{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("userId: %w", err)
		}
		if s == "" {
			return nil
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Some exports write ids as floats ("39.0").
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != float64(int64(f)) {
			return fmt.Errorf("userId: invalid value %q", s)
		}
		n = int64(f)
	}
	u.Value, u.Valid = n, true
	return nil
}

// Any returns the id as a bind value, nil when absent.
func (u UserID) Any() any {
	if !u.Valid {
		return nil
	}
	return u.Value
}
