package runtime

import (
	"encoding/json"
	"log/slog"

	"github.com/sidelinehq/crewd/internal/models"
)

// decode mirrors internal/state's payload decode helper: a failed decode
// is logged and treated as a no-op reaction rather than a panic, since a
// malformed payload should never be able to wedge the engine.
func decode[T any](ev models.Event) (T, bool) {
	var v T
	if len(ev.Payload) == 0 {
		return v, false
	}
	if err := json.Unmarshal(ev.Payload, &v); err != nil {
		slog.Warn("runtime: payload decode failed", "type", ev.Type, "error", err.Error())
		return v, false
	}
	return v, true
}
