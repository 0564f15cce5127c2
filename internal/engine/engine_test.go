package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fortio.org/assert"

	"fortio.org/curlloader/internal/batch"
	"fortio.org/curlloader/internal/client"
	"fortio.org/curlloader/internal/transfer"
)

func TestLoopRunsClientsToCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := &batch.Config{
		Name:            "t0",
		ClientNumMax:    2,
		ClientNumStart:  2,
		CyclesNum:       1,
		FirstCyclingURL: 0,
		LastCyclingURL:  0,
		URLs: []client.URL{
			{Address: srv.URL},
		},
	}
	b, err := batch.New(cfg, nil)
	assert.NoError(t, err)

	m := transfer.NewMulti(4, nil, time.Second)
	loop := NewLoop(b, m, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = loop.Run(ctx)
	assert.NoError(t, err)

	for _, c := range b.Clients {
		assert.True(t, c.State == client.StateFinishedOK)
	}
	total := b.Stats.Total[0].Requests + b.Stats.Total[1].Requests
	assert.Equal(t, uint64(2), total)
}
