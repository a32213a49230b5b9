package lifecycle

import (
	"testing"
	"time"

	"github.com/presbrey/ircd/internal/matrix"
	"github.com/presbrey/ircd/internal/security"
	"github.com/stretchr/testify/assert"
)

func TestPruneTasksOnlyIncludeConfiguredStores(t *testing.T) {
	m := New(Config{})
	assert.Empty(t, m.pruneTasks())

	m2 := New(Config{BanCache: security.NewBanCache()})
	tasks := m2.pruneTasks()
	assert.Len(t, tasks, 1)
	assert.Equal(t, "ban-cache", tasks[0].Name)
}

func TestRunPruneStopsOnShutdown(t *testing.T) {
	banCache := security.NewBanCache()
	m := New(Config{BanCache: banCache, PruneInterval: 10 * time.Millisecond})
	m.Start()

	done := make(chan struct{})
	go func() {
		m.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete")
	}
}

func TestWhowasPruneTaskWired(t *testing.T) {
	store := matrix.NewWhowasStore(10, time.Hour)
	m := New(Config{Whowas: store})
	tasks := m.pruneTasks()
	require := assert.New(t)
	require.Len(tasks, 1)
	require.Equal("whowas", tasks[0].Name)
}
