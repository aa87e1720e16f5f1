package decisionlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schema-proxy/types"
)

func sampleRecord(description string) DecisionRecord {
	return DecisionRecord{
		StatusCode: 400,
		Error: ErrorDetail{
			Message:     "Bad Request",
			Description: description,
			Cause:       "source, src",
		},
		Method: "POST",
	}
}

func TestRecordUpsertsByPath(t *testing.T) {
	store, err := Open("")
	require.NoError(t, err)

	key := types.EndpointKey{Method: "POST", Path: "/receive"}
	require.NoError(t, store.Record(key, sampleRecord("first")))
	require.NoError(t, store.Record(key, sampleRecord("second")))

	snapshot := store.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "second", snapshot["/receive"].Error.Description)
}

func TestSnapshotIsACopy(t *testing.T) {
	store, err := Open("")
	require.NoError(t, err)

	key := types.EndpointKey{Method: "POST", Path: "/receive"}
	require.NoError(t, store.Record(key, sampleRecord("original")))

	snapshot := store.Snapshot()
	snapshot["/receive"] = sampleRecord("mutated")
	snapshot["/other"] = sampleRecord("injected")

	fresh := store.Snapshot()
	require.Len(t, fresh, 1)
	assert.Equal(t, "original", fresh["/receive"].Error.Description)
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log", "decision_log.json")

	store, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, store.Record(types.EndpointKey{Method: "POST", Path: "/receive"}, sampleRecord("persisted")))
	require.NoError(t, store.Record(types.EndpointKey{Method: "PUT", Path: "/users/<user_id>"}, sampleRecord("other")))

	// A fresh store sees what the first one wrote
	reopened, err := Open(path)
	require.NoError(t, err)

	snapshot := reopened.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "persisted", snapshot["/receive"].Error.Description)
	assert.Equal(t, "other", snapshot["/users/<user_id>"].Error.Description)
}

func TestPersistedShapeMatchesViewerContract(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decision_log.json")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Record(types.EndpointKey{Method: "POST", Path: "/receive"}, sampleRecord("shape")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))

	record := raw["/receive"]
	require.NotNil(t, record)
	assert.Equal(t, float64(400), record["status_code"])
	assert.Equal(t, "POST", record["method"])

	detail, ok := record["error"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Bad Request", detail["message"])
	assert.Equal(t, "shape", detail["description"])
	assert.Equal(t, "source, src", detail["cause"])
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Empty(t, store.Snapshot())
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decision_log.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := Open(path)
	assert.Error(t, err)
}
