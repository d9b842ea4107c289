package eventlog

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/sidelinehq/crewd/internal/config"
)

// SnapshotEnvelope is the tiny header persisted alongside the
// zstd-compressed state image so replay knows where the WAL resumes.
type SnapshotEnvelope struct {
	UpToSeq   int64     `json:"up_to_seq"`
	TakenAt   time.Time `json:"taken_at"`
}

// WriteSnapshot durably persists stateJSON (already serialized by
// state.Projection) as the new snapshot: serialize -> write temp ->
// fsync file -> rename -> fsync directory -> (caller) truncate log.
// Compression and the write run on the caller's goroutine. The only
// caller is internal/daemon's Shutdown, which calls it synchronously;
// there is no background snapshot worker.
func WriteSnapshot(layout config.Layout, upToSeq int64, stateJSON []byte) error {
	tmp := layout.Snapshot + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create snapshot tmp: %w", err)
	}

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		f.Close()
		return fmt.Errorf("new zstd writer: %w", err)
	}

	header := []byte(fmt.Sprintf(`{"up_to_seq":%d,"taken_at":%q}`, upToSeq, time.Now().Format(time.RFC3339Nano)))
	if _, err := enc.Write(append(header, '\n')); err != nil {
		enc.Close()
		f.Close()
		return fmt.Errorf("write snapshot header: %w", err)
	}
	if _, err := enc.Write(stateJSON); err != nil {
		enc.Close()
		f.Close()
		return fmt.Errorf("write snapshot body: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close zstd writer: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync snapshot tmp: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close snapshot tmp: %w", err)
	}

	if err := os.Rename(tmp, layout.Snapshot); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	// Skipping this fsync is disallowed: without it the rename can revert
	// after a crash while the WAL has already been truncated.
	if err := fsyncDir(layout.Snapshot); err != nil {
		return err
	}
	return nil
}

// LoadSnapshot reads and decompresses the snapshot file, returning its
// envelope and the raw state JSON body. A missing file is not an error
// (empty state + full WAL replay); a corrupt file is moved aside and
// reported via the returned ok=false so the caller falls back to replay
// from empty state.
func LoadSnapshot(layout config.Layout) (env SnapshotEnvelope, body []byte, ok bool, err error) {
	raw, err := os.ReadFile(layout.Snapshot)
	if err != nil {
		if os.IsNotExist(err) {
			return env, nil, false, nil
		}
		return env, nil, false, fmt.Errorf("read snapshot: %w", err)
	}

	dec, derr := zstd.NewReader(bytes.NewReader(raw))
	if derr != nil {
		return quarantineSnapshot(layout, derr)
	}
	defer dec.Close()

	decoded, rerr := io.ReadAll(dec)
	if rerr != nil {
		return quarantineSnapshot(layout, rerr)
	}

	nl := bytes.IndexByte(decoded, '\n')
	if nl < 0 {
		return quarantineSnapshot(layout, fmt.Errorf("missing snapshot header delimiter"))
	}
	headerLine, body := decoded[:nl], decoded[nl+1:]

	var seq int64
	var takenAt string
	if _, serr := fmt.Sscanf(string(headerLine), `{"up_to_seq":%d,"taken_at":%q}`, &seq, &takenAt); serr != nil {
		return quarantineSnapshot(layout, fmt.Errorf("parse snapshot header: %w", serr))
	}
	t, _ := time.Parse(time.RFC3339Nano, takenAt)
	return SnapshotEnvelope{UpToSeq: seq, TakenAt: t}, body, true, nil
}

func quarantineSnapshot(layout config.Layout, cause error) (SnapshotEnvelope, []byte, bool, error) {
	slog.Warn("eventlog: corrupt snapshot, isolating and replaying from empty state",
		"path", layout.Snapshot, "error", cause.Error())
	bad := layout.Snapshot + ".corrupt"
	_ = os.Rename(layout.Snapshot, bad)
	return SnapshotEnvelope{}, nil, false, nil
}
