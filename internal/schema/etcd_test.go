package schema

import (
	"context"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"
)

// setupTestEtcd starts an embedded etcd server for testing
func setupTestEtcd(t *testing.T) (*clientv3.Client, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "etcd-test-*")
	require.NoError(t, err)

	cfg := embed.NewConfig()
	cfg.Dir = tmpDir

	// Random available ports
	clientURL, _ := url.Parse("http://127.0.0.1:0")
	peerURL, _ := url.Parse("http://127.0.0.1:0")
	cfg.ListenClientUrls = []url.URL{*clientURL}
	cfg.ListenPeerUrls = []url.URL{*peerURL}
	cfg.LogLevel = "error"
	cfg.Logger = "zap"

	e, err := embed.StartEtcd(cfg)
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		t.Skipf("Cannot start embedded etcd: %v", err)
	}

	select {
	case <-e.Server.ReadyNotify():
	case <-time.After(10 * time.Second):
		e.Close()
		_ = os.RemoveAll(tmpDir)
		t.Fatal("Embedded etcd took too long to start")
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{e.Clients[0].Addr().String()},
		DialTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	cleanup := func() {
		_ = client.Close()
		e.Close()
		_ = os.RemoveAll(tmpDir)
	}
	return client, cleanup
}

func TestEtcdStore_PutAndLoad(t *testing.T) {
	client, cleanup := setupTestEtcd(t)
	defer cleanup()

	store := NewEtcdStoreWithClient(client)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, store.PutSpec(ctx, gaugeSpec()))

	other := gaugeSpec()
	other.ID = 2
	other.Name = "gauge2"
	require.NoError(t, store.PutSpec(ctx, other))

	reg, err := store.LoadRegistry(ctx)
	require.NoError(t, err)

	gauge, ok := reg.ByID(1)
	require.True(t, ok)
	assert.Equal(t, "gauge", gauge.Name)
	require.NotNil(t, gauge.Downsample)
	assert.Len(t, gauge.Aggregators, 3)

	_, ok = reg.ByName("gauge2")
	assert.True(t, ok)
}

func TestEtcdStore_LoadEmpty(t *testing.T) {
	client, cleanup := setupTestEtcd(t)
	defer cleanup()

	store := NewEtcdStoreWithClient(client)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := store.LoadRegistry(ctx)
	assert.Error(t, err)
}

func TestEtcdStore_PutInvalid(t *testing.T) {
	client, cleanup := setupTestEtcd(t)
	defer cleanup()

	store := NewEtcdStoreWithClient(client)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := store.PutSpec(ctx, Spec{})
	assert.Error(t, err)
}

func TestEtcdStore_BadSpecFailsLoad(t *testing.T) {
	client, cleanup := setupTestEtcd(t)
	defer cleanup()

	store := NewEtcdStoreWithClient(client)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bad := gaugeSpec()
	bad.Columns[0].Type = "varchar"
	require.NoError(t, store.PutSpec(ctx, bad))

	_, err := store.LoadRegistry(ctx)
	assert.Error(t, err)
}
