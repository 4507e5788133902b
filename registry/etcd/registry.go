// Package etcd discovers service instances stored in etcd.
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"strings"
	"svccall/registry"
	"sync"
)

var _ registry.Registry = (*Registry)(nil)

var typesMap = map[mvccpb.Event_EventType]registry.EventType{
	mvccpb.PUT:    registry.EventTypeAdd,
	mvccpb.DELETE: registry.EventTypeDelete,
}

const defaultPrefix = "/svccall"

type Registry struct {
	client      *clientv3.Client
	sess        *concurrency.Session
	prefix      string
	mutex       sync.RWMutex
	watchCancel []func()
}

// NewRegistry registers instances under a session lease of ttl seconds, 60 when ttl is zero.
// The client stays owned by the caller.
func NewRegistry(c *clientv3.Client, ttl int) (*Registry, error) {
	opts := []concurrency.SessionOption{}
	if ttl > 0 {
		opts = append(opts, concurrency.WithTTL(ttl))
	}
	sess, err := concurrency.NewSession(c, opts...)
	if err != nil {
		return nil, err
	}
	return &Registry{
		sess:   sess,
		client: c,
		prefix: defaultPrefix,
	}, nil
}

func (r *Registry) Register(ctx context.Context, ins registry.ServiceInstance) error {
	val, err := json.Marshal(ins)
	if err != nil {
		return err
	}
	_, err = r.client.Put(ctx, r.instanceKey(ins.ServiceName, ins.ID()),
		string(val), clientv3.WithLease(r.sess.Lease()))
	return err
}

func (r *Registry) UnRegister(ctx context.Context, ins registry.ServiceInstance) error {
	_, err := r.client.Delete(ctx, r.instanceKey(ins.ServiceName, ins.ID()))
	return err
}

func (r *Registry) ListServices(ctx context.Context, serviceName string) ([]registry.ServiceInstance, error) {
	resp, err := r.client.Get(ctx, r.serviceKey(serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	res := make([]registry.ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var si registry.ServiceInstance
		if err = json.Unmarshal(kv.Value, &si); err != nil {
			return nil, fmt.Errorf("etcd: 解析实例 %s 失败: %w", kv.Key, err)
		}
		res = append(res, si)
	}
	return res, nil
}

func (r *Registry) Subscribe(serviceName string) (<-chan registry.Event, error) {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = clientv3.WithRequireLeader(ctx)
	r.mutex.Lock()
	r.watchCancel = append(r.watchCancel, cancel)
	r.mutex.Unlock()
	watchCh := r.client.Watch(ctx, r.serviceKey(serviceName), clientv3.WithPrefix())
	res := make(chan registry.Event)
	go func() {
		defer close(res)
		for {
			select {
			case resp, ok := <-watchCh:
				if !ok || resp.Canceled {
					return
				}
				if resp.Err() != nil {
					continue
				}
				for _, event := range resp.Events {
					e, ok := r.decodeEvent(serviceName, event)
					if !ok {
						// 数据不对，忽略
						continue
					}
					select {
					case res <- e:
					case <-ctx.Done():
						return
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return res, nil
}

// decodeEvent rebuilds the instance of a watch event. Deletes carry no
// value, so only the instance id from the key is known for them.
func (r *Registry) decodeEvent(serviceName string, event *clientv3.Event) (registry.Event, bool) {
	typ, ok := typesMap[event.Type]
	if !ok || event.Kv == nil {
		return registry.Event{}, false
	}
	if typ == registry.EventTypeDelete {
		id := strings.TrimPrefix(string(event.Kv.Key), r.serviceKey(serviceName))
		return registry.Event{
			Type:     typ,
			Instance: registry.ServiceInstance{ServiceName: serviceName, InstanceID: id},
		}, true
	}
	var ins registry.ServiceInstance
	if err := json.Unmarshal(event.Kv.Value, &ins); err != nil {
		return registry.Event{}, false
	}
	return registry.Event{Type: typ, Instance: ins}, true
}

func (r *Registry) Close() error {
	r.mutex.Lock()
	for _, cancel := range r.watchCancel {
		cancel()
	}
	r.watchCancel = nil
	r.mutex.Unlock()
	// client 是外面传进来的，不能关掉
	return r.sess.Close()
}

func (r *Registry) instanceKey(serviceName, id string) string {
	return r.serviceKey(serviceName) + id
}

func (r *Registry) serviceKey(serviceName string) string {
	return fmt.Sprintf("%s/%s/", r.prefix, serviceName)
}
