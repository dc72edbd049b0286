package alarm

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robotcell/internal/events"
	"robotcell/internal/state"
	"robotcell/pkg/types"
)

func TestJournalRecordsHubEvents(t *testing.T) {
	j, err := OpenJournal(types.AlarmJournalConfig{InMemory: true})
	require.NoError(t, err)
	defer j.Close()

	bus := events.NewBus()
	bus.Subscribe(j.Handle, events.TypeAlarmRaised, events.TypeAlarmResolved, events.TypeAlarmsCleared)
	hub := NewHub(state.New(), bus)

	hub.Raise(KeyRobotDisconnected, Details{ID: "1", Severity: Blocking})
	hub.Raise(KeyRobotDisconnected, Details{ID: "1", Severity: Blocking})
	hub.Resolve(KeyRobotDisconnected)
	hub.Raise(KeyPLCDisconnected, Details{ID: "0"})
	hub.ClearAll()

	var entries []Entry
	require.Eventually(t, func() bool {
		entries, err = j.Recent(0)
		return err == nil && len(entries) == 4
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, string(events.TypeAlarmsCleared), entries[0].Event)
	assert.Equal(t, 1, entries[0].Count)
	assert.Equal(t, string(events.TypeAlarmRaised), entries[3].Event)
	assert.Equal(t, "1", entries[3].Record.ID)

	latest, err := j.Recent(2)
	require.NoError(t, err)
	assert.Len(t, latest, 2)
}

func TestJournalRequiresPath(t *testing.T) {
	_, err := OpenJournal(types.AlarmJournalConfig{})
	assert.Error(t, err)
}

func TestJournalCloseWritesQueuedEntries(t *testing.T) {
	path := t.TempDir()
	j, err := OpenJournal(types.AlarmJournalConfig{JournalPath: path})
	require.NoError(t, err)

	const n = 1000
	for i := 0; i < n; i++ {
		rec := types.AlarmRecord{Key: fmt.Sprintf("motion.%d", i), ID: fmt.Sprint(i), State: types.AlarmOn}
		j.Handle(events.NewAlarmRaised("alarm", rec))
	}
	require.NoError(t, j.Close())
	assert.NoError(t, j.Close())
	dropped := int(j.Dropped())

	// late events after close are ignored
	j.Handle(events.NewAlarmsCleared("alarm", 1))

	j, err = OpenJournal(types.AlarmJournalConfig{JournalPath: path})
	require.NoError(t, err)
	defer j.Close()

	entries, err := j.Recent(0)
	require.NoError(t, err)
	assert.Equal(t, n, len(entries)+dropped)
	require.NotEmpty(t, entries)
	assert.Equal(t, "0", entries[len(entries)-1].Record.ID)
}
