package export

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TadashiJei/OrbitYield/internal/aggregate"
	"github.com/TadashiJei/OrbitYield/internal/model"
)

type recorder struct {
	mu       sync.Mutex
	payloads []payload
	auth     []string
	status   int
}

func (r *recorder) handler(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != 0 {
		w.WriteHeader(r.status)
		return
	}
	var p payload
	if err := json.NewDecoder(req.Body).Decode(&p); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	r.payloads = append(r.payloads, p)
	r.auth = append(r.auth, req.Header.Get("Authorization"))
	w.WriteHeader(http.StatusNoContent)
}

func snapshot(chainID string) Snapshot {
	return Snapshot{
		ChainID:       chainID,
		Summary:       aggregate.Summary{ChainID: chainID, Count: 1},
		Opportunities: []model.YieldOpportunity{{ID: "compound:" + chainID + ":0xabc", ChainID: chainID}},
		DiscoveredAt:  time.Now().UTC(),
	}
}

func TestPublisherDisabled(t *testing.T) {
	p := NewPublisher(Config{})
	assert.False(t, p.Enabled())
	require.NoError(t, p.Publish(context.Background(), snapshot("1")))
	assert.Equal(t, 0, p.Status()["pending"])
}

func TestPublisherFlushesFullBatch(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	p := NewPublisher(Config{URL: srv.URL, APIKey: "secret", BatchSize: 2, Interval: time.Hour})

	require.NoError(t, p.Publish(context.Background(), snapshot("1")))
	rec.mu.Lock()
	assert.Empty(t, rec.payloads)
	rec.mu.Unlock()

	require.NoError(t, p.Publish(context.Background(), snapshot("137")))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.payloads, 1)
	assert.Equal(t, 2, rec.payloads[0].Count)
	assert.Equal(t, "1", rec.payloads[0].Snapshots[0].ChainID)
	assert.Equal(t, "137", rec.payloads[0].Snapshots[1].ChainID)
	assert.Equal(t, "Bearer secret", rec.auth[0])
	assert.Equal(t, 0, p.Status()["pending"])
	assert.Contains(t, p.Status(), "last_export")
}

func TestPublisherKeepsBatchOnFailure(t *testing.T) {
	rec := &recorder{status: http.StatusBadRequest}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	p := NewPublisher(Config{URL: srv.URL, BatchSize: 1})

	err := p.Publish(context.Background(), snapshot("1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, 1, p.Status()["pending"])
	assert.Equal(t, 1, p.Status()["consecutive_fail"])

	rec.mu.Lock()
	rec.status = 0
	rec.mu.Unlock()

	require.NoError(t, p.Flush(context.Background()))
	assert.Equal(t, 0, p.Status()["pending"])

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.payloads, 1)
	assert.Equal(t, 1, rec.payloads[0].Count)
}

func TestPublisherRunFlushesOnShutdown(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	p := NewPublisher(Config{URL: srv.URL, BatchSize: 10, Interval: time.Hour})
	require.NoError(t, p.Publish(context.Background(), snapshot("1")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.payloads, 1)
}
