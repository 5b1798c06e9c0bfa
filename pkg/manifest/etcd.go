// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdStoreConfig describes how to connect to etcd for manifest
// persistence.
type EtcdStoreConfig struct {
	Endpoints   []string
	Username    string
	Password    string
	DialTimeout time.Duration
}

// EtcdStore publishes and loads a partition's segment catalog from
// etcd. The writer side (not part of this subsystem) is expected to
// call Publish as it rolls new segments; this subsystem's job is only
// to Load a consistent snapshot and keep it current via Watch.
type EtcdStore struct {
	client *clientv3.Client
}

// NewEtcdStore dials etcd per cfg.
func NewEtcdStore(cfg EtcdStoreConfig) (*EtcdStore, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("manifest: etcd endpoints required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("manifest: connect etcd: %w", err)
	}
	return &EtcdStore{client: cli}, nil
}

// Close releases the underlying etcd client.
func (s *EtcdStore) Close() error {
	return s.client.Close()
}

func segmentKeyPrefix(partition string) string {
	return fmt.Sprintf("/kafscale/manifests/%s/segments/", partition)
}

func segmentKey(partition string, basePhysicalOffset int64) string {
	return fmt.Sprintf("%s%020d", segmentKeyPrefix(partition), basePhysicalOffset)
}

// Publish writes one segment's metadata as a JSON record keyed by its
// base physical offset, so a watcher sees new segments append in
// physical-offset order.
func (s *EtcdStore) Publish(ctx context.Context, partition string, seg SegmentMeta) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	payload, err := json.Marshal(seg)
	if err != nil {
		return fmt.Errorf("manifest: encode segment: %w", err)
	}
	_, err = s.client.Put(ctx, segmentKey(partition, seg.BasePhysicalOffset), string(payload))
	return err
}

// Load fetches every segment record under a partition's prefix and
// builds a Manifest from them, validating contiguity.
func (s *EtcdStore) Load(ctx context.Context, partition string) (*Manifest, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := s.client.Get(ctx, segmentKeyPrefix(partition), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("manifest: load %s: %w", partition, err)
	}
	segs := make([]SegmentMeta, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var seg SegmentMeta
		if err := json.Unmarshal(kv.Value, &seg); err != nil {
			return nil, fmt.Errorf("manifest: decode %s: %w", string(kv.Key), err)
		}
		segs = append(segs, seg)
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].BasePhysicalOffset < segs[j].BasePhysicalOffset })
	m := New(partition)
	if err := m.Replace(segs); err != nil {
		return nil, err
	}
	return m, nil
}

// Watch streams updates to a partition's catalog into dst, reloading
// the full snapshot on every event under the prefix (segment catalogs
// are small enough, and appended rarely enough, that a full reload per
// event is simpler than diffing puts/deletes). Blocks until ctx is
// canceled; errors from individual reloads are sent on errs rather than
// stopping the watch, since one failed reload should not tear down a
// long-lived watch that later events may recover from.
func (s *EtcdStore) Watch(ctx context.Context, partition string, dst *Manifest, errs chan<- error) {
	watchChan := s.client.Watch(ctx, segmentKeyPrefix(partition), clientv3.WithPrefix())
	for resp := range watchChan {
		if resp.Err() != nil {
			continue
		}
		loaded, err := s.Load(ctx, partition)
		if err != nil {
			select {
			case errs <- err:
			default:
			}
			continue
		}
		if err := dst.Replace(loaded.Snapshot()); err != nil {
			select {
			case errs <- err:
			default:
			}
		}
	}
}
