package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerJoinReachesMaster(t *testing.T) {
	joined := make(chan string, 4)

	master, err := New(Config{Name: "master"}, func(_, meta string) { joined <- meta }, nil)
	require.NoError(t, err)
	defer func() { _ = master.Leave(time.Second) }()

	worker, err := New(Config{Name: "worker-1", Join: []string{master.Addr()}, Meta: "127.0.0.1:7001"}, nil, nil)
	require.NoError(t, err)
	defer func() { _ = worker.Leave(time.Second) }()

	select {
	case meta := <-joined:
		require.Equal(t, "127.0.0.1:7001", meta)
	case <-time.After(10 * time.Second):
		t.Fatal("master never saw the worker join")
	}

	require.Eventually(t, func() bool { return master.NumMembers() == 2 }, 10*time.Second, 50*time.Millisecond)
}

func TestMetaTooLarge(t *testing.T) {
	big := make([]byte, 1024)
	for i := range big {
		big[i] = 'x'
	}
	_, err := New(Config{Meta: string(big)}, nil, nil)
	require.Error(t, err)
	require.True(t, Error.Has(err))
}
