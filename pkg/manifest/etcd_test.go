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
	"fmt"
	"net"
	"net/url"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"go.etcd.io/etcd/server/v3/embed"
)

func TestEtcdStorePublishAndLoadBuildsContiguousCatalog(t *testing.T) {
	e, endpoints := startEmbeddedEtcd(t)
	defer e.Close()

	store, err := NewEtcdStore(EtcdStoreConfig{Endpoints: endpoints})
	if err != nil {
		t.Fatalf("NewEtcdStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	segs := []SegmentMeta{
		{BasePhysicalOffset: 0, MaxPhysicalOffset: 99, BaseLogicalOffset: 0, BaseDelta: 0, Term: 1, SizeBytes: 4096, ObjectKey: "p0/seg-0"},
		{BasePhysicalOffset: 100, MaxPhysicalOffset: 199, BaseLogicalOffset: 98, BaseDelta: 2, Term: 1, SizeBytes: 4096, ObjectKey: "p0/seg-100"},
		{BasePhysicalOffset: 200, MaxPhysicalOffset: 299, BaseLogicalOffset: 195, BaseDelta: 5, Term: 1, SizeBytes: 4096, ObjectKey: "p0/seg-200"},
	}
	for _, seg := range segs {
		if err := store.Publish(ctx, "orders-0", seg); err != nil {
			t.Fatalf("Publish %d: %v", seg.BasePhysicalOffset, err)
		}
	}

	m, err := store.Load(ctx, "orders-0")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Len() != 3 {
		t.Fatalf("expected 3 segments, got %d", m.Len())
	}
	got, ok := m.SegmentContaining(150)
	if !ok || got.ObjectKey != "p0/seg-100" {
		t.Fatalf("SegmentContaining(150) = %+v, %v", got, ok)
	}
}

func TestEtcdStoreLoadRejectsGapInCatalog(t *testing.T) {
	e, endpoints := startEmbeddedEtcd(t)
	defer e.Close()

	store, err := NewEtcdStore(EtcdStoreConfig{Endpoints: endpoints})
	if err != nil {
		t.Fatalf("NewEtcdStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Publish(ctx, "orders-1", SegmentMeta{BasePhysicalOffset: 0, MaxPhysicalOffset: 99, ObjectKey: "a"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := store.Publish(ctx, "orders-1", SegmentMeta{BasePhysicalOffset: 150, MaxPhysicalOffset: 249, ObjectKey: "b"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if _, err := store.Load(ctx, "orders-1"); err == nil {
		t.Fatalf("expected Load to reject a gap between segments")
	}
}

func startEmbeddedEtcd(t *testing.T) (*embed.Etcd, []string) {
	t.Helper()
	if err := ensureEtcdPortsFree(); err != nil {
		t.Skipf("skipping etcd manifest tests: %v", err)
	}
	cfg := embed.NewConfig()
	cfg.Dir = t.TempDir()
	cfg.LogLevel = "error"
	cfg.Logger = "zap"
	setEtcdPorts(t, cfg, "33379", "33380")

	e, err := embed.StartEtcd(cfg)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping etcd manifest tests: %v", err)
		}
		t.Fatalf("start embedded etcd: %v", err)
	}
	select {
	case <-e.Server.ReadyNotify():
	case <-time.After(10 * time.Second):
		e.Server.Stop()
		t.Fatalf("etcd server took too long to start")
	}

	clientURL := e.Clients[0].Addr().String()
	return e, []string{fmt.Sprintf("http://%s", clientURL)}
}

func ensureEtcdPortsFree() error {
	if err := killProcessesOnPort("33379"); err != nil {
		return err
	}
	if err := killProcessesOnPort("33380"); err != nil {
		return err
	}
	if err := portAvailable("127.0.0.1:33379"); err != nil {
		return err
	}
	if err := portAvailable("127.0.0.1:33380"); err != nil {
		return err
	}
	return nil
}

func setEtcdPorts(t *testing.T, cfg *embed.Config, clientPort, peerPort string) {
	t.Helper()
	clientURL, err := url.Parse("http://127.0.0.1:" + clientPort)
	if err != nil {
		t.Fatalf("parse client url: %v", err)
	}
	peerURL, err := url.Parse("http://127.0.0.1:" + peerPort)
	if err != nil {
		t.Fatalf("parse peer url: %v", err)
	}
	cfg.ListenClientUrls = []url.URL{*clientURL}
	cfg.AdvertiseClientUrls = []url.URL{*clientURL}
	cfg.ListenPeerUrls = []url.URL{*peerURL}
	cfg.AdvertisePeerUrls = []url.URL{*peerURL}
	cfg.Name = "default"
	cfg.InitialCluster = cfg.InitialClusterFromName(cfg.Name)
}

func killProcessesOnPort(port string) error {
	out, err := exec.Command("lsof", "-nP", "-iTCP:"+port, "-sTCP:LISTEN", "-t").Output()
	if err != nil {
		return nil
	}
	pids := strings.Fields(string(out))
	for _, pidStr := range pids {
		pid, convErr := strconv.Atoi(strings.TrimSpace(pidStr))
		if convErr != nil {
			continue
		}
		_ = syscall.Kill(pid, syscall.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		if alive := syscall.Kill(pid, 0); alive == nil {
			_ = syscall.Kill(pid, syscall.SIGKILL)
		}
	}
	return nil
}

func portAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %s already in use", addr)
	}
	_ = ln.Close()
	return nil
}
