package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sidelinehq/crewd/internal/config"
	"github.com/sidelinehq/crewd/internal/ipc"
	"github.com/sidelinehq/crewd/internal/models"
)

// tailJobEvents prints every logged event whose payload carries the given
// job id, oldest first, then keeps polling for new ones if follow is set.
// The daemon's "events" request has no job filter of its own (the event
// log itself has none — see internal/eventlog), so filtering happens here.
func tailJobEvents(cfg config.Config, jobID string, lines int, follow bool) error {
	var sinceSeq int64
	all, err := fetchJobEvents(cfg, jobID, 0)
	if err != nil {
		return err
	}
	if lines > 0 && len(all) > lines {
		all = all[len(all)-lines:]
	}
	for _, ev := range all {
		printEventLine(ev)
	}
	if len(all) > 0 {
		sinceSeq = all[len(all)-1].Seq
	}
	if !follow {
		return nil
	}
	for {
		time.Sleep(cfg.WaitPoll)
		fresh, err := fetchJobEvents(cfg, jobID, sinceSeq)
		if err != nil {
			return err
		}
		for _, ev := range fresh {
			printEventLine(ev)
			sinceSeq = ev.Seq
		}
	}
}

func fetchJobEvents(cfg config.Config, jobID string, sinceSeq int64) ([]models.Event, error) {
	resp, err := call(cfg, ipc.Request{
		Type:    "events",
		Payload: mustMarshal(struct {
			SinceSeq int64 `json:"since_seq,omitempty"`
		}{SinceSeq: sinceSeq}),
	})
	if err != nil {
		return nil, err
	}
	if err := mustOK(resp); err != nil {
		return nil, err
	}
	var parsed struct {
		Events []models.Event `json:"events"`
	}
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		return nil, genericErr(err)
	}

	out := make([]models.Event, 0, len(parsed.Events))
	for _, ev := range parsed.Events {
		if eventBelongsToJob(ev, jobID) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// eventBelongsToJob reports whether ev's payload carries job_id == jobID.
// Every job-scoped payload shares that field name (internal/models/
// payloads.go), so a single loosely-typed probe covers all of them
// without a per-event-type switch.
func eventBelongsToJob(ev models.Event, jobID string) bool {
	var probe struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(ev.Payload, &probe); err != nil {
		return false
	}
	return probe.JobID == jobID
}

func printEventLine(ev models.Event) {
	fmt.Printf("%d %s %s %s\n", ev.Seq, ev.Timestamp.Format(time.RFC3339), ev.Type, string(ev.Payload))
}
