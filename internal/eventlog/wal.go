// Package eventlog implements the write-ahead log and snapshot subsystem:
// an append-only, totally-ordered, crash-safe event record, plus atomic
// snapshot + truncate. It is the only package that touches the
// WAL/snapshot files directly — everything else goes through bus.Bus,
// which owns the single Log handle as its sole writer.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sidelinehq/crewd/internal/config"
	"github.com/sidelinehq/crewd/internal/models"
)

// Log is the append-only WAL. Writes batch within CommitWindow before a
// single fsync, amortizing flush cost under load (group commit).
type Log struct {
	mu           sync.Mutex
	file         *os.File
	bw           *bufio.Writer
	nextSeq      int64
	commitWindow time.Duration
	waiters      []chan error
	timer        *time.Timer
	path         string
	closed       bool
}

// Open opens (creating if absent) the WAL file at layout.WAL. Callers
// must call SetNextSeq after replaying existing contents, before the
// first Append.
func Open(layout config.Layout) (*Log, error) {
	f, err := os.OpenFile(layout.WAL, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	return &Log{
		file:         f,
		bw:           bufio.NewWriter(f),
		commitWindow: 10 * time.Millisecond,
		path:         layout.WAL,
		nextSeq:      1,
	}, nil
}

// SetNextSeq primes the sequence counter after replay (it must be one
// past the highest sequence number observed in the snapshot + WAL).
func (l *Log) SetNextSeq(next int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextSeq = next
}

// SetCommitWindow overrides the group-commit batching window; tests use
// this to make flush synchronous (0) for determinism.
func (l *Log) SetCommitWindow(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commitWindow = d
}

// Append assigns the next sequence number, serializes event as a single
// self-delimited (newline-terminated) JSON record, and returns only
// after the batch containing it has been flushed and fsynced — callers
// never observe an acknowledged event that isn't durable.
//
// An I/O error here is fatal: the caller (bus.Bus) aborts the daemon
// rather than silently losing an event.
func (l *Log) Append(eventType, project string, payload interface{}) (models.Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return models.Event{}, fmt.Errorf("marshal payload: %w", err)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return models.Event{}, fmt.Errorf("wal closed")
	}

	ev := models.Event{
		Seq:       l.nextSeq,
		Type:      eventType,
		Timestamp: time.Now(),
		Project:   project,
		Payload:   raw,
	}
	l.nextSeq++

	line, err := json.Marshal(ev)
	if err != nil {
		l.mu.Unlock()
		return models.Event{}, fmt.Errorf("marshal event: %w", err)
	}
	if _, err := l.bw.Write(line); err != nil {
		l.mu.Unlock()
		return models.Event{}, fmt.Errorf("wal write: %w", err)
	}
	if err := l.bw.WriteByte('\n'); err != nil {
		l.mu.Unlock()
		return models.Event{}, fmt.Errorf("wal write: %w", err)
	}

	wait := make(chan error, 1)
	l.waiters = append(l.waiters, wait)
	if l.timer == nil {
		if l.commitWindow <= 0 {
			l.flushLocked()
		} else {
			l.timer = time.AfterFunc(l.commitWindow, l.flush)
		}
	}
	l.mu.Unlock()

	err = <-wait
	if err != nil {
		return models.Event{}, err
	}
	return ev, nil
}

func (l *Log) flush() {
	l.mu.Lock()
	l.flushLocked()
	l.mu.Unlock()
}

// flushLocked must be called with l.mu held. It flushes the buffered
// writer, fsyncs the file, and releases every waiter queued since the
// last flush.
func (l *Log) flushLocked() {
	var err error
	if ferr := l.bw.Flush(); ferr != nil {
		err = fmt.Errorf("wal flush: %w", ferr)
	} else if serr := l.file.Sync(); serr != nil {
		err = fmt.Errorf("wal fsync: %w", serr)
	}
	for _, w := range l.waiters {
		w <- err
	}
	l.waiters = nil
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// NextSeq returns the sequence number that would be assigned to the next
// appended event.
func (l *Log) NextSeq() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextSeq
}

// Since re-reads the WAL from disk and returns every event with
// Seq > seq, satisfying internal/ipc's EventSource for the "events" tail
// request. It flushes any buffered-but-unfsynced batch first so a tail
// request never misses a write its own caller just made.
func (l *Log) Since(seq int64) ([]models.Event, error) {
	l.mu.Lock()
	l.flushLocked()
	l.mu.Unlock()

	all, err := Replay(l.path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: since %d: %w", seq, err)
	}
	out := make([]models.Event, 0, len(all))
	for _, ev := range all {
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Close flushes any pending batch and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	l.flushLocked()
	l.closed = true
	f := l.file
	l.mu.Unlock()
	return f.Close()
}

// TruncateUpTo rewrites the WAL file keeping only records with
// Seq > upToSeq. Must be called after the corresponding snapshot has
// been durably written and fsynced.
func (l *Log) TruncateUpTo(upToSeq int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.flushLocked()

	events, _, err := readAllTolerant(l.path)
	if err != nil {
		return fmt.Errorf("read wal for truncate: %w", err)
	}

	kept := events[:0]
	for _, ev := range events {
		if ev.Seq > upToSeq {
			kept = append(kept, ev)
		}
	}

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close wal before truncate: %w", err)
	}

	tmp := l.path + ".tmp"
	if err := writeEventsAtomically(tmp, l.path, kept); err != nil {
		return err
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopen wal: %w", err)
	}
	l.file = f
	l.bw = bufio.NewWriter(f)
	return nil
}

func writeEventsAtomically(tmpPath, finalPath string, events []models.Event) error {
	tf, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create wal tmp: %w", err)
	}
	bw := bufio.NewWriter(tf)
	for _, ev := range events {
		line, err := json.Marshal(ev)
		if err != nil {
			tf.Close()
			return fmt.Errorf("marshal event during truncate: %w", err)
		}
		if _, err := bw.Write(line); err != nil {
			tf.Close()
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			tf.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		tf.Close()
		return fmt.Errorf("flush wal tmp: %w", err)
	}
	if err := tf.Sync(); err != nil {
		tf.Close()
		return fmt.Errorf("fsync wal tmp: %w", err)
	}
	if err := tf.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("rename wal tmp: %w", err)
	}
	return fsyncDir(finalPath)
}
