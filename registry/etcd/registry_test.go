package etcd

import (
	"github.com/stretchr/testify/assert"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"svccall/registry"
	"testing"
)

func TestRegistry_decodeEvent(t *testing.T) {
	r := &Registry{prefix: defaultPrefix}
	testCases := []struct {
		name      string
		event     *clientv3.Event
		wantEvent registry.Event
		wantOk    bool
	}{
		{
			name: "put",
			event: &clientv3.Event{
				Type: mvccpb.PUT,
				Kv: &mvccpb.KeyValue{
					Key:   []byte("/svccall/springmvc/a"),
					Value: []byte(`{"serviceName":"springmvc","instanceId":"a","endpoints":["rest://127.0.0.1:8080"]}`),
				},
			},
			wantEvent: registry.Event{
				Type: registry.EventTypeAdd,
				Instance: registry.ServiceInstance{
					ServiceName: "springmvc",
					InstanceID:  "a",
					Endpoints:   []string{"rest://127.0.0.1:8080"},
				},
			},
			wantOk: true,
		},
		{
			name: "delete",
			event: &clientv3.Event{
				Type: mvccpb.DELETE,
				Kv:   &mvccpb.KeyValue{Key: []byte("/svccall/springmvc/a")},
			},
			wantEvent: registry.Event{
				Type:     registry.EventTypeDelete,
				Instance: registry.ServiceInstance{ServiceName: "springmvc", InstanceID: "a"},
			},
			wantOk: true,
		},
		{
			name: "bad value",
			event: &clientv3.Event{
				Type: mvccpb.PUT,
				Kv:   &mvccpb.KeyValue{Key: []byte("/svccall/springmvc/a"), Value: []byte("{")},
			},
		},
		{
			name:  "no kv",
			event: &clientv3.Event{Type: mvccpb.PUT},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e, ok := r.decodeEvent("springmvc", tc.event)
			assert.Equal(t, tc.wantOk, ok)
			assert.Equal(t, tc.wantEvent, e)
		})
	}
}

func TestRegistry_keys(t *testing.T) {
	r := &Registry{prefix: defaultPrefix}
	assert.Equal(t, "/svccall/springmvc/", r.serviceKey("springmvc"))
	assert.Equal(t, "/svccall/springmvc/a", r.instanceKey("springmvc", "a"))
}
