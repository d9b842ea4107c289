package eventlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sidelinehq/crewd/internal/models"
)

// Replay yields every event in path in sequence order, skipping any
// record whose serialized form fails to parse. On a parse failure the
// tail from the first bad record is moved aside to a rotated .bak file
// (keep last three) and a clean file containing only the valid prefix
// replaces the original.
func Replay(path string) ([]models.Event, error) {
	events, _, err := readAllTolerant(path)
	return events, err
}

// readAllTolerant parses path line-by-line. On the first bad line it
// rotates the corrupt tail aside and rewrites path with only the valid
// prefix, then returns the valid events collected so far. It returns the
// number of bytes kept for callers that want to avoid re-reading.
func readAllTolerant(path string) ([]models.Event, int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("read %s: %w", path, err)
	}

	var events []models.Event
	goodBytes := 0
	lines := bytes.Split(raw, []byte("\n"))
	for _, line := range lines {
		if len(bytes.TrimSpace(line)) == 0 {
			goodBytes += len(line) + 1
			continue
		}
		var ev models.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			slog.Warn("eventlog: corrupt record, rotating tail",
				"path", path, "error", err.Error())
			badSuffix := raw[goodBytes:]
			if rerr := rotateCorruptTail(path, raw[:goodBytes], badSuffix); rerr != nil {
				return events, goodBytes, fmt.Errorf("rotate corrupt tail: %w", rerr)
			}
			return events, goodBytes, nil
		}
		events = append(events, ev)
		goodBytes += len(line) + 1
	}
	return events, goodBytes, nil
}

// rotateCorruptTail keeps the last three .bak generations:
// path.bak -> path.bak.1 -> path.bak.2 (oldest dropped), writes badSuffix
// to a fresh path.bak, then replaces path with goodPrefix.
func rotateCorruptTail(path string, goodPrefix, badSuffix []byte) error {
	bak2 := path + ".bak.2"
	bak1 := path + ".bak.1"
	bak0 := path + ".bak"

	_ = os.Remove(bak2)
	if _, err := os.Stat(bak1); err == nil {
		_ = os.Rename(bak1, bak2)
	}
	if _, err := os.Stat(bak0); err == nil {
		_ = os.Rename(bak0, bak1)
	}
	if err := os.WriteFile(bak0, badSuffix, 0o644); err != nil {
		return fmt.Errorf("write corrupt tail backup: %w", err)
	}

	tmp := path + ".rotate.tmp"
	if err := os.WriteFile(tmp, goodPrefix, 0o644); err != nil {
		return fmt.Errorf("write clean prefix: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("install clean prefix: %w", err)
	}
	return fsyncDir(path)
}

// fsyncDir fsyncs the parent directory of path — required after any
// rename so the directory entry survives a crash.
func fsyncDir(path string) error {
	dir, err := os.Open(filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("open dir for fsync: %w", err)
	}
	defer dir.Close()
	if err := dir.Sync(); err != nil {
		return fmt.Errorf("fsync dir: %w", err)
	}
	return nil
}
