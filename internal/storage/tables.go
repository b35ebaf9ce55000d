package storage

func nullable() *bool { v := true; return &v }

// Songs is the songs dimension.
var Songs = TableSpec{
	Name: "songs",
	Columns: []ColumnSpec{
		{Name: "song_id", Type: TypeText},
		{Name: "title", Type: TypeText},
		{Name: "artist_id", Type: TypeText},
		{Name: "year", Type: TypeSmallint},
		{Name: "duration", Type: TypeNumeric, Nullable: nullable()},
	},
	Key: []string{"song_id"},
}

// Artists is the artists dimension.
var Artists = TableSpec{
	Name: "artists",
	Columns: []ColumnSpec{
		{Name: "artist_id", Type: TypeText},
		{Name: "name", Type: TypeText, Nullable: nullable()},
		{Name: "location", Type: TypeText, Nullable: nullable()},
		{Name: "latitude", Type: TypeNumeric, Nullable: nullable()},
		{Name: "longitude", Type: TypeNumeric, Nullable: nullable()},
	},
	Key: []string{"artist_id"},
}

// Users is the users dimension.
var Users = TableSpec{
	Name: "users",
	Columns: []ColumnSpec{
		{Name: "user_id", Type: TypeInteger},
		{Name: "first_name", Type: TypeText, Nullable: nullable()},
		{Name: "last_name", Type: TypeText, Nullable: nullable()},
		{Name: "gender", Type: TypeText, Nullable: nullable()},
		{Name: "level", Type: TypeText, Nullable: nullable()},
	},
	Key: []string{"user_id"},
}

// Time is the time dimension keyed by the event timestamp.
var Time = TableSpec{
	Name: "time",
	Columns: []ColumnSpec{
		{Name: "start_time", Type: TypeTimestamp},
		{Name: "hour", Type: TypeSmallint, Nullable: nullable()},
		{Name: "day", Type: TypeSmallint, Nullable: nullable()},
		{Name: "week", Type: TypeSmallint, Nullable: nullable()},
		{Name: "month", Type: TypeSmallint, Nullable: nullable()},
		{Name: "year", Type: TypeSmallint, Nullable: nullable()},
		{Name: "weekday", Type: TypeSmallint, Nullable: nullable()},
	},
	Key: []string{"start_time"},
}

// SongPlays is the fact table. It has no natural key and is never deduplicated.
var SongPlays = TableSpec{
	Name:       "songplays",
	PrimaryKey: &PrimaryKeySpec{Name: "songplay_id", Type: TypeSerial},
	Columns: []ColumnSpec{
		{Name: "start_time", Type: TypeTimestamp, References: "time(start_time)"},
		{Name: "user_id", Type: TypeInteger, References: "users(user_id)"},
		{Name: "level", Type: TypeText},
		{Name: "song_id", Type: TypeText, Nullable: nullable(), References: "songs(song_id)"},
		{Name: "artist_id", Type: TypeText, Nullable: nullable(), References: "artists(artist_id)"},
		{Name: "session_id", Type: TypeInteger},
		{Name: "location", Type: TypeText, Nullable: nullable()},
		{Name: "user_agent", Type: TypeText},
	},
}

// AllTables returns the five tables in create order. Drop in reverse.
func AllTables() []TableSpec {
	return []TableSpec{Songs, Artists, Users, Time, SongPlays}
}

// Reversed returns tables in reverse order.
func Reversed(tables []TableSpec) []TableSpec {
	out := make([]TableSpec, len(tables))
	for i, t := range tables {
		out[len(tables)-1-i] = t
	}
	return out
}
