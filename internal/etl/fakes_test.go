package etl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"songetl/internal/metrics"
	"songetl/internal/model"
	"songetl/internal/storage"
)

// fakeStore hands out fakeTx values and records their fate.
type fakeStore struct {
	txs      []*fakeTx
	beginErr error
	closed   bool

	// configure is applied to every new tx.
	configure func(*fakeTx)
}

func (s *fakeStore) Begin(context.Context) (storage.Tx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	tx := &fakeTx{}
	if s.configure != nil {
		s.configure(tx)
	}
	s.txs = append(s.txs, tx)
	return tx, nil
}

func (s *fakeStore) CreateTables(context.Context, []storage.TableSpec) error { return nil }
func (s *fakeStore) DropTables(context.Context, []storage.TableSpec) error   { return nil }
func (s *fakeStore) Close()                                                  { s.closed = true }

type fakeTx struct {
	calls      []string
	upserts    map[string][][]any
	inserted   [][]any
	committed  bool
	rolledBack bool

	songs   map[model.SongKey]model.SongMatch
	failOn  string
	failErr error
}

func (t *fakeTx) fail(op string) error {
	t.calls = append(t.calls, op)
	if t.failOn == op {
		if t.failErr != nil {
			return t.failErr
		}
		return errors.New(op + " failed")
	}
	return nil
}

func (t *fakeTx) UpsertRows(_ context.Context, spec storage.TableSpec, rows [][]any) (int64, error) {
	if err := t.fail("upsert:" + spec.Name); err != nil {
		return 0, err
	}
	if t.upserts == nil {
		t.upserts = map[string][][]any{}
	}
	t.upserts[spec.Name] = append(t.upserts[spec.Name], rows...)
	return int64(len(rows)), nil
}

func (t *fakeTx) InsertIgnore(_ context.Context, spec storage.TableSpec, row []any) (int64, error) {
	if err := t.fail("insert_ignore:" + spec.Name); err != nil {
		return 0, err
	}
	return 1, nil
}

func (t *fakeTx) InsertRows(_ context.Context, spec storage.TableSpec, rows [][]any) (int64, error) {
	if err := t.fail("insert:" + spec.Name); err != nil {
		return 0, err
	}
	t.inserted = append(t.inserted, rows...)
	return int64(len(rows)), nil
}

func (t *fakeTx) FindSong(_ context.Context, key model.SongKey) (model.SongMatch, bool, error) {
	if err := t.fail("find_song"); err != nil {
		return model.SongMatch{}, false, err
	}
	m, ok := t.songs[key]
	return m, ok, nil
}

func (t *fakeTx) SongIndex(context.Context) (map[model.SongKey]model.SongMatch, error) {
	if err := t.fail("song_index"); err != nil {
		return nil, err
	}
	return t.songs, nil
}

func (t *fakeTx) Commit(context.Context) error {
	if err := t.fail("commit"); err != nil {
		return err
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	t.calls = append(t.calls, "rollback")
	t.rolledBack = true
	return nil
}

// recorder is a metrics.Backend that keeps counter totals.
type recorder struct {
	mu       sync.Mutex
	counters map[string]float64
}

func (r *recorder) IncCounter(name string, delta float64, labels metrics.Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := name
	for _, l := range []string{"step", "status", "kind"} {
		if v, ok := labels[l]; ok {
			key += "|" + l + "=" + v
		}
	}
	r.counters[key] += delta
}

func (r *recorder) ObserveHistogram(string, float64, metrics.Labels) {}
func (r *recorder) Flush() error                                     { return nil }

func installRecorder(t *testing.T) *recorder {
	t.Helper()
	r := &recorder{counters: map[string]float64{}}
	metrics.SetBackend(r)
	t.Cleanup(func() { metrics.SetBackend(nil) })
	return r
}

// Data file fixtures.

func songJSON(id, title, artistID, artist string, year int, duration float64) string {
	return fmt.Sprintf(`{"num_songs":1,"artist_id":%q,"artist_latitude":null,"artist_longitude":null,"artist_location":"","artist_name":%q,"song_id":%q,"title":%q,"duration":%v,"year":%d}`,
		artistID, artist, id, title, duration, year)
}

type event struct {
	page    string
	userID  string
	level   string
	ts      int64
	song    string
	artist  string
	length  float64
	session int64
}

func (e event) json() string {
	song := "null"
	if e.song != "" {
		song = fmt.Sprintf("%q", e.song)
	}
	artist := "null"
	if e.artist != "" {
		artist = fmt.Sprintf("%q", e.artist)
	}
	length := "null"
	if e.length != 0 {
		length = fmt.Sprint(e.length)
	}
	return fmt.Sprintf(`{"artist":%s,"auth":"Logged In","firstName":"Ann","gender":"F","itemInSession":0,"lastName":"Lee","length":%s,"level":%q,"location":"Town, ST","method":"PUT","page":%q,"registration":1540919166796.0,"sessionId":%d,"song":%s,"status":200,"ts":%d,"userAgent":"Mozilla/5.0","userId":%q}`,
		artist, length, e.level, e.page, e.session, song, e.ts, e.userID)
}

func lines(rows ...string) string { return strings.Join(rows, "\n") + "\n" }

func writeFiles(t *testing.T, fs afero.Fs, files map[string]string) {
	t.Helper()
	for path, body := range files {
		require.NoError(t, afero.WriteFile(fs, path, []byte(body), 0o644))
	}
}
