package cli

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sidelinehq/crewd/internal/models"
)

func TestEventBelongsToJob(t *testing.T) {
	ev := models.Event{Type: models.EventJobCancel, Payload: []byte(`{"job_id":"job_abc"}`)}
	require.True(t, eventBelongsToJob(ev, "job_abc"))
	require.False(t, eventBelongsToJob(ev, "job_xyz"))
}

func TestEventBelongsToJob_NoJobIDField(t *testing.T) {
	ev := models.Event{Type: models.EventWorkerStop, Payload: []byte(`{"name":"ingest"}`)}
	require.False(t, eventBelongsToJob(ev, "job_abc"))
}

func TestEventBelongsToJob_MalformedPayload(t *testing.T) {
	ev := models.Event{Payload: []byte(`not-json`)}
	require.False(t, eventBelongsToJob(ev, "job_abc"))
}
