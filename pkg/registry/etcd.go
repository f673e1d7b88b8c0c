// Package registry reserves peer identities in etcd so two live peers on
// the same cluster never pick the same name. It holds one leased key per
// peer and never lists or watches other peers.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/mipsync/pkg/identity"
)

const keyPrefix = "/mipsync/identities/"

// Backend is the slice of the etcd client a Registry uses. *clientv3.Client
// satisfies it.
type Backend interface {
	Grant(ctx context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error)
	KeepAlive(ctx context.Context, id clientv3.LeaseID) (<-chan *clientv3.LeaseKeepAliveResponse, error)
	Revoke(ctx context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error)
	Txn(ctx context.Context) clientv3.Txn
}

func NewClient(endpoints []string, dialTimeout time.Duration) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
}

// Key is where id is reserved.
func Key(id string) string {
	return keyPrefix + id
}

// Registry holds at most one reservation at a time.
type Registry struct {
	be  Backend
	ttl int64
	log *zap.SugaredLogger

	mu      sync.Mutex
	key     string
	lease   clientv3.LeaseID
	stopKA  context.CancelFunc
	kaDone  chan struct{}
	release bool
}

func New(be Backend, ttlSeconds int64, log *zap.SugaredLogger) *Registry {
	if ttlSeconds <= 0 {
		ttlSeconds = 10
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Registry{be: be, ttl: ttlSeconds, log: log}
}

// Reserve creates Key(id) under a fresh lease if nobody holds it, and keeps
// the lease alive until Release. It returns identity.ErrTaken when the key
// already exists. Reserve matches identity.Reserver.
func (r *Registry) Reserve(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.key != "" {
		return fmt.Errorf("registry: already holding %s", r.key)
	}

	lease, err := r.be.Grant(ctx, r.ttl)
	if err != nil {
		return fmt.Errorf("registry: grant lease: %w", err)
	}

	key := Key(id)
	resp, err := r.be.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, owner(), clientv3.WithLease(lease.ID))).
		Commit()
	if err != nil {
		r.revoke(ctx, lease.ID)
		return fmt.Errorf("registry: reserve %s: %w", id, err)
	}
	if !resp.Succeeded {
		r.revoke(ctx, lease.ID)
		return identity.ErrTaken
	}

	kaCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ch, err := r.be.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		r.revoke(ctx, lease.ID)
		return fmt.Errorf("registry: keepalive: %w", err)
	}

	r.key, r.lease, r.stopKA = key, lease.ID, cancel
	r.kaDone = make(chan struct{})
	r.release = false
	go r.drain(ch, r.kaDone)

	r.log.Infow("Identity reserved", "key", key, "lease", int64(lease.ID), "ttl", r.ttl)
	return nil
}

func (r *Registry) drain(ch <-chan *clientv3.LeaseKeepAliveResponse, done chan struct{}) {
	defer close(done)
	for range ch {
	}
	r.mu.Lock()
	released := r.release
	key := r.key
	r.mu.Unlock()
	if !released {
		r.log.Warnw("Identity lease lost", "key", key)
	}
}

// Held returns the reserved key, or "" when nothing is held.
func (r *Registry) Held() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.key
}

// Release stops the keepalive and revokes the lease, deleting the key.
// Releasing with nothing held is a no-op.
func (r *Registry) Release(ctx context.Context) error {
	r.mu.Lock()
	if r.key == "" {
		r.mu.Unlock()
		return nil
	}
	key, lease, stop, done := r.key, r.lease, r.stopKA, r.kaDone
	r.release = true
	r.mu.Unlock()

	stop()
	<-done

	_, err := r.be.Revoke(ctx, lease)
	if errors.Is(err, rpctypes.ErrLeaseNotFound) {
		err = nil
	}

	r.mu.Lock()
	r.key, r.lease, r.stopKA, r.kaDone = "", 0, nil, nil
	r.mu.Unlock()

	if err != nil {
		return fmt.Errorf("registry: release %s: %w", key, err)
	}
	r.log.Infow("Identity released", "key", key)
	return nil
}

func (r *Registry) revoke(ctx context.Context, id clientv3.LeaseID) {
	if _, err := r.be.Revoke(context.WithoutCancel(ctx), id); err != nil {
		r.log.Debugw("Revoke unused lease failed", "lease", int64(id), "err", err)
	}
}

func owner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s/%d", host, os.Getpid())
}
