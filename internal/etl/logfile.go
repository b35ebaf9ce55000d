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
	errNoUserID    = errors.New("song play event without userId")
	errNoTimestamp = errors.New("song play event without ts")
	errNoSession   = errors.New("song play event without sessionId")
)

// ProcessLogFile loads the song play events of one log file: their time rows
// and users through the staged upsert, then one songplays row per event with
// the song resolved by exact title, artist name and duration.
func (l *Loader) ProcessLogFile(ctx context.Context, tx storage.Tx, path string) (Stats, error) {
	events, err := l.readPlays(ctx, path)
	if err != nil {
		return Stats{}, err
	}

	var st Stats
	if len(events) == 0 {
		return st, nil
	}

	timeRows := make([][]any, len(events))
	userRows := make([][]any, len(events))
	for i, ev := range events {
		timeRows[i] = ev.Time().Values()
		userRows[i] = ev.User().Values()
	}

	if st.Time, err = tx.UpsertRows(ctx, storage.Time, timeRows); err != nil {
		return Stats{}, queryErr("log file "+path+": upsert time", err)
	}
	if st.Users, err = tx.UpsertRows(ctx, storage.Users, userRows); err != nil {
		return Stats{}, queryErr("log file "+path+": upsert users", err)
	}

	resolve, err := l.songResolver(ctx, tx)
	if err != nil {
		return Stats{}, queryErr("log file "+path+": song index", err)
	}

	plays := make([][]any, len(events))
	for i, ev := range events {
		m, err := resolve(ctx, ev)
		if err != nil {
			return Stats{}, queryErr("log file "+path+": find song", err)
		}
		if m == nil {
			st.Unmatched++
		}
		plays[i] = ev.SongPlay(m).Values()
	}

	if st.SongPlays, err = tx.InsertRows(ctx, storage.SongPlays, plays); err != nil {
		return Stats{}, queryErr("log file "+path+": insert songplays", err)
	}
	return st, nil
}

// readPlays decodes path and keeps the song play events in file order.
func (l *Loader) readPlays(ctx context.Context, path string) ([]model.LogEvent, error) {
	f, err := l.Fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var plays []model.LogEvent
	_, err = jsonl.Decode(ctx, f, func(line int, ev *model.LogEvent) error {
		if ev.Page != l.Options.SongPlayPage {
			return nil
		}
		if err := checkPlay(ev); err != nil {
			return fmt.Errorf("%w: line %d: %w", jsonl.ErrMalformed, line, err)
		}
		plays = append(plays, *ev)
		return nil
	})
	if err != nil {
		if errors.Is(err, jsonl.ErrMalformed) {
			return nil, inputErr(path, err)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return plays, nil
}

// checkPlay rejects song play events that cannot produce a users, time and
// songplays row. A zero ts or sessionId counts as missing.
func checkPlay(ev *model.LogEvent) error {
	switch {
	case !ev.UserID.Valid:
		return errNoUserID
	case ev.TS <= 0:
		return errNoTimestamp
	case ev.SessionID <= 0:
		return errNoSession
	}
	return nil
}

type resolveFunc func(ctx context.Context, ev model.LogEvent) (*model.SongMatch, error)

// songResolver returns the lookup for the configured strategy. The index
// strategy reads the song/artist join once per file.
func (l *Loader) songResolver(ctx context.Context, tx storage.Tx) (resolveFunc, error) {
	if l.Options.SongLookup == LookupIndex {
		idx, err := tx.SongIndex(ctx)
		if err != nil {
			return nil, err
		}
		return func(_ context.Context, ev model.LogEvent) (*model.SongMatch, error) {
			key, ok := ev.SongKey()
			if !ok {
				return nil, nil
			}
			if m, found := idx[key]; found {
				return &m, nil
			}
			return nil, nil
		}, nil
	}

	return func(ctx context.Context, ev model.LogEvent) (*model.SongMatch, error) {
		key, ok := ev.SongKey()
		if !ok {
			return nil, nil
		}
		m, found, err := tx.FindSong(ctx, key)
		if err != nil || !found {
			return nil, err
		}
		return &m, nil
	}, nil
}
