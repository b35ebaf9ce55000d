package etl

import (
	"context"
	"errors"
	"fmt"

	"songetl/internal/model"
	"songetl/internal/parser/jsonl"
	"songetl/internal/storage"
)

var (
	errNoRecords = errors.New("no records")
	errNoSongKey = errors.New("record without song_id or artist_id")
)

// ProcessSongFile inserts the song and the artist of the file's first record.
// Later records are decoded, counted and ignored.
func (l *Loader) ProcessSongFile(ctx context.Context, tx storage.Tx, path string) (Stats, error) {
	f, err := l.Fs.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var (
		first     *model.SongRecord
		firstLine int
	)
	n, err := jsonl.Decode(ctx, f, func(line int, rec *model.SongRecord) error {
		if first == nil {
			r := *rec
			first, firstLine = &r, line
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, jsonl.ErrMalformed) {
			return Stats{}, inputErr(path, err)
		}
		return Stats{}, fmt.Errorf("read %s: %w", path, err)
	}
	if first == nil {
		return Stats{}, inputErr(path, errNoRecords)
	}
	// {} and null decode to a zero record.
	if first.SongID == "" || first.ArtistID == "" {
		return Stats{}, inputErr(path, fmt.Errorf("line %d: %w", firstLine, errNoSongKey))
	}

	var st Stats
	if n > 1 {
		st.IgnoredRecords = n - 1
		l.Log.Warn().Str("file", path).Int("records_ignored", n-1).Msg("song file has more than one record; only the first is loaded")
	}

	if st.Songs, err = tx.InsertIgnore(ctx, storage.Songs, first.Song().Values()); err != nil {
		return Stats{}, queryErr("song file "+path+": insert songs", err)
	}
	if st.Artists, err = tx.InsertIgnore(ctx, storage.Artists, first.Artist().Values()); err != nil {
		return Stats{}, queryErr("song file "+path+": insert artists", err)
	}
	return st, nil
}
