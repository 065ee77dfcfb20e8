package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const schemaPrefix = "/rollup/schemas"

// EtcdStore loads and stores schema specs under a shared etcd prefix.
// Used when the downsampler runs as part of a coordinated cluster and
// schemas are managed centrally rather than from a local file.
type EtcdStore struct {
	client *clientv3.Client
}

// NewEtcdStore connects to etcd
func NewEtcdStore(endpoints []string, dialTimeout time.Duration) (*EtcdStore, error) {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return &EtcdStore{client: client}, nil
}

// NewEtcdStoreWithClient wraps an existing etcd client (used in tests)
func NewEtcdStoreWithClient(client *clientv3.Client) *EtcdStore {
	return &EtcdStore{client: client}
}

// PutSpec stores one schema spec under the schema prefix
func (s *EtcdStore) PutSpec(ctx context.Context, spec Spec) error {
	if spec.Name == "" {
		return fmt.Errorf("schema name is required")
	}
	data, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("failed to marshal schema %s: %w", spec.Name, err)
	}

	key := path.Join(schemaPrefix, spec.Name)
	if _, err := s.client.Put(ctx, key, string(data)); err != nil {
		return fmt.Errorf("failed to store schema %s in etcd: %w", spec.Name, err)
	}
	return nil
}

// LoadRegistry reads all schema specs under the schema prefix and
// compiles them into a registry
func (s *EtcdStore) LoadRegistry(ctx context.Context) (*Registry, error) {
	resp, err := s.client.Get(ctx, schemaPrefix+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas from etcd: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("no schemas found under %s", schemaPrefix)
	}

	specs := make([]Spec, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var spec Spec
		if err := json.Unmarshal(kv.Value, &spec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal schema at %s: %w", kv.Key, err)
		}
		specs = append(specs, spec)
	}

	return CompileSpecs(specs)
}

// Close closes the underlying etcd client
func (s *EtcdStore) Close() error {
	return s.client.Close()
}
