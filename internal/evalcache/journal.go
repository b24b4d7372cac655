package evalcache

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
)

// Journal is an append-only file of CRC-framed JSON lines:
//
//	crc32hex<TAB>json<LF>
//
// Every entry is synced before PutIfAbsent returns. On open, unreadable
// lines in the middle are skipped and unreadable trailing lines are cut off.
type Journal struct {
	mu      sync.Mutex
	f       journalFile
	end     int64 // offset just past the last committed line
	entries map[string]Entry
	log     zerolog.Logger
}

// journalFile is the part of *os.File a Journal uses.
type journalFile interface {
	io.ReadWriteSeeker
	Truncate(size int64) error
	Sync() error
	Close() error
}

// RecoveryStats describes what OpenJournal found on disk.
type RecoveryStats struct {
	Loaded    int
	Skipped   int
	Truncated int64 // bytes cut from the tail
}

func OpenJournal(path string, log zerolog.Logger) (*Journal, RecoveryStats, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, RecoveryStats{}, fmt.Errorf("open journal: %w", err)
	}
	j := &Journal{f: f, entries: make(map[string]Entry), log: log}
	stats, err := j.recover()
	if err != nil {
		_ = f.Close()
		return nil, stats, err
	}
	if stats.Skipped > 0 || stats.Truncated > 0 {
		log.Warn().
			Str("path", path).
			Int("skipped", stats.Skipped).
			Int64("truncated_bytes", stats.Truncated).
			Msg("journal recovered")
	}
	return j, stats, nil
}

func (j *Journal) recover() (RecoveryStats, error) {
	var stats RecoveryStats
	if _, err := j.f.Seek(0, io.SeekStart); err != nil {
		return stats, fmt.Errorf("seek journal: %w", err)
	}
	r := bufio.NewReader(j.f)
	var offset, good int64
	pendingBad := 0
	for {
		line, err := r.ReadBytes('\n')
		offset += int64(len(line))
		if len(line) > 0 {
			complete := line[len(line)-1] == '\n'
			e, ok := decodeLine(bytes.TrimSuffix(line, []byte("\n")))
			if ok && complete {
				if _, dup := j.entries[e.Key]; !dup {
					j.entries[e.Key] = e
				}
				stats.Loaded++
				stats.Skipped += pendingBad
				pendingBad = 0
				good = offset
			} else {
				pendingBad++
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("read journal: %w", err)
		}
	}
	if offset > good {
		stats.Truncated = offset - good
		if err := j.f.Truncate(good); err != nil {
			return stats, fmt.Errorf("truncate journal: %w", err)
		}
	}
	if _, err := j.f.Seek(good, io.SeekStart); err != nil {
		return stats, fmt.Errorf("seek journal: %w", err)
	}
	j.end = good
	return stats, nil
}

func decodeLine(line []byte) (Entry, bool) {
	tab := bytes.IndexByte(line, '\t')
	if tab < 0 {
		return Entry{}, false
	}
	sum, err := strconv.ParseUint(string(line[:tab]), 16, 32)
	if err != nil {
		return Entry{}, false
	}
	body := line[tab+1:]
	if crc32.ChecksumIEEE(body) != uint32(sum) {
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(body, &e); err != nil || e.Key == "" {
		return Entry{}, false
	}
	return e, true
}

func encodeLine(e Entry) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	line := make([]byte, 0, len(body)+10)
	line = fmt.Appendf(line, "%08x\t", crc32.ChecksumIEEE(body))
	line = append(line, body...)
	return append(line, '\n'), nil
}

func (j *Journal) Get(ctx context.Context, key string) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if e, ok := j.entries[key]; ok {
		return e, nil
	}
	return Entry{}, ErrNotFound
}

func (j *Journal) PutIfAbsent(ctx context.Context, e Entry) (Entry, error) {
	if e.Key == "" {
		return Entry{}, errors.New("journal: empty key")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if got, ok := j.entries[e.Key]; ok {
		return got, nil
	}
	if j.f == nil {
		return Entry{}, os.ErrClosed
	}
	line, err := encodeLine(e)
	if err != nil {
		return Entry{}, fmt.Errorf("encode entry: %w", err)
	}
	if _, err := j.f.Write(line); err != nil {
		return Entry{}, j.rewind(fmt.Errorf("append journal: %w", err))
	}
	if err := j.f.Sync(); err != nil {
		return Entry{}, j.rewind(fmt.Errorf("sync journal: %w", err))
	}
	j.end += int64(len(line))
	j.entries[e.Key] = e
	return e, nil
}

// rewind cuts a partly written line so the next entry starts on a fresh
// line. The caller holds mu.
func (j *Journal) rewind(cause error) error {
	if err := j.f.Truncate(j.end); err != nil {
		return errors.Join(cause, fmt.Errorf("truncate journal: %w", err))
	}
	if _, err := j.f.Seek(j.end, io.SeekStart); err != nil {
		return errors.Join(cause, fmt.Errorf("seek journal: %w", err))
	}
	return cause
}

func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}
