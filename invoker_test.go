package svccall

import (
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"google.golang.org/protobuf/types/known/wrapperspb"
	"net"
	"net/http"
	"net/url"
	"os"
	"svccall/internal/errs"
	"svccall/message"
	"svccall/ratelimit"
	"svccall/registry"
	"svccall/transport"
	"svccall/transport/mocks"
	"sync"
	"syscall"
	"testing"
	"time"
)

var (
	sayHi        = message.ServiceEndpoint{ServiceName: "springmvc", Operation: "controller.sayhi"}
	errConnReset = &net.OpError{Op: "read", Net: "tcp",
		Err: &os.SyscallError{Syscall: "read", Err: syscall.ECONNRESET}}
)

func springmvcInstances(addrs ...string) *registry.Static {
	instances := make([]registry.ServiceInstance, 0, len(addrs))
	for _, addr := range addrs {
		instances = append(instances, registry.ServiceInstance{
			ServiceName: "springmvc",
			Endpoints: []string{
				registry.Endpoint(message.TransportRest, addr),
				registry.Endpoint(message.TransportHighway, addr),
			},
		})
	}
	return registry.NewStatic(instances...)
}

func newMockTransport(ctrl *gomock.Controller, kind message.TransportKind) *mocks.MockTransport {
	mt := mocks.NewMockTransport(ctrl)
	mt.EXPECT().Kind().Return(kind).AnyTimes()
	return mt
}

func TestInvoker_Invoke(t *testing.T) {
	testCases := []struct {
		name   string
		ep     message.ServiceEndpoint
		mock   func(mt *mocks.MockTransport)
		wantOK bool
		// wantKind is checked on failures only
		wantKind     errs.Kind
		wantAttempts int
		wantBody     string
		wantBucket   string
	}{
		{
			name: "success",
			ep:   sayHi,
			mock: func(mt *mocks.MockTransport) {
				mt.EXPECT().Send(gomock.Any(), gomock.Any()).
					Return(message.Succeed(200, []byte("hi world [world]"), nil))
			},
			wantOK:       true,
			wantAttempts: 1,
			wantBody:     "hi world [world]",
			wantBucket:   message.StatusSuccess,
		},
		{
			name: "transient then success",
			ep:   sayHi,
			mock: func(mt *mocks.MockTransport) {
				gomock.InOrder(
					mt.EXPECT().Send(gomock.Any(), gomock.Any()).Return(transport.Failure(errConnReset)).Times(2),
					mt.EXPECT().Send(gomock.Any(), gomock.Any()).Return(message.Succeed(200, []byte("hi"), nil)),
				)
			},
			wantOK:       true,
			wantAttempts: 3,
			wantBody:     "hi",
			wantBucket:   message.StatusSuccess,
		},
		{
			name: "transient exhausts retries",
			ep:   sayHi,
			mock: func(mt *mocks.MockTransport) {
				mt.EXPECT().Send(gomock.Any(), gomock.Any()).Return(transport.Failure(errConnReset)).Times(4)
			},
			wantKind:     errs.KindTransportTransient,
			wantAttempts: 4,
			wantBucket:   message.StatusFailure,
		},
		{
			name: "application failure not retried",
			ep:   sayHi,
			mock: func(mt *mocks.MockTransport) {
				mt.EXPECT().Send(gomock.Any(), gomock.Any()).
					Return(message.Fail(errs.Application(500, []byte("intentional exception"))))
			},
			wantKind:     errs.KindApplicationFailure,
			wantAttempts: 1,
			wantBucket:   message.StatusFailure,
		},
		{
			name: "fatal not retried",
			ep:   sayHi,
			mock: func(mt *mocks.MockTransport) {
				mt.EXPECT().Send(gomock.Any(), gomock.Any()).
					Return(transport.Failure(&net.DNSError{Err: "no such host", Name: "springmvc"}))
			},
			wantKind:     errs.KindTransportFatal,
			wantAttempts: 1,
			wantBucket:   message.StatusFailure,
		},
		{
			name: "nil result",
			ep:   sayHi,
			mock: func(mt *mocks.MockTransport) {
				mt.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil)
			},
			wantKind:     errs.KindTransportFatal,
			wantAttempts: 1,
			wantBucket:   message.StatusFailure,
		},
		{
			name:       "no transport",
			ep:         message.ServiceEndpoint{ServiceName: "springmvc", Operation: "controller.sayhi", Transport: message.TransportGRPC},
			mock:       func(mt *mocks.MockTransport) {},
			wantKind:   errs.KindNoTransportAvailable,
			wantBucket: message.StatusFailure,
		},
		{
			name:       "no instance",
			ep:         message.ServiceEndpoint{ServiceName: "unknown", Operation: "controller.sayhi"},
			mock:       func(mt *mocks.MockTransport) {},
			wantKind:   errs.KindNoTransportAvailable,
			wantBucket: message.StatusFailure,
		},
		{
			name:       "invalid operation",
			ep:         message.ServiceEndpoint{ServiceName: "springmvc", Operation: "sayhi"},
			mock:       func(mt *mocks.MockTransport) {},
			wantKind:   errs.KindInvalidRequest,
			wantBucket: message.StatusFailure,
		},
		{
			name:       "nested operation",
			ep:         message.ServiceEndpoint{ServiceName: "springmvc", Operation: "controller.say.hi"},
			mock:       func(mt *mocks.MockTransport) {},
			wantKind:   errs.KindInvalidRequest,
			wantBucket: message.StatusFailure,
		},
		{
			name:       "slash in operation",
			ep:         message.ServiceEndpoint{ServiceName: "springmvc", Operation: "controller.say/hi"},
			mock:       func(mt *mocks.MockTransport) {},
			wantKind:   errs.KindInvalidRequest,
			wantBucket: message.StatusFailure,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			mt := newMockTransport(ctrl, message.TransportRest)
			tc.mock(mt)
			inv := NewInvoker(transport.NewSet(mt), springmvcInstances("127.0.0.1:8080"))

			res := inv.Invoke(context.Background(), tc.ep, map[string]string{"name": "world"})
			require.NotNil(t, res)
			assert.Equal(t, tc.wantOK, res.Success())
			assert.Equal(t, tc.wantAttempts, res.Attempts)
			if tc.wantOK {
				assert.Equal(t, tc.wantBody, string(res.Body))
			} else {
				assert.Equal(t, tc.wantKind, res.Err.Kind)
			}

			e, ok := inv.Metrics().Entry(tc.ep.Key())
			require.True(t, ok)
			assert.Equal(t, uint64(1), e.TotalCalls)
			assert.Equal(t, uint64(1), e.PerStatusCalls[tc.wantBucket])
		})
	}
}

func TestInvoker_RetryRotatesInstances(t *testing.T) {
	ctrl := gomock.NewController(t)
	mt := newMockTransport(ctrl, message.TransportRest)
	var (
		mu    sync.Mutex
		addrs []string
	)
	mt.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, req *message.CallRequest) *message.CallResult {
			mu.Lock()
			addrs = append(addrs, req.Address)
			mu.Unlock()
			return transport.Failure(errConnReset)
		}).Times(3)
	inv := NewInvoker(transport.NewSet(mt), springmvcInstances("10.0.0.1:80", "10.0.0.2:80"),
		InvokerWithRetry(2, time.Millisecond))

	res := inv.Invoke(context.Background(), sayHi, nil)
	assert.Equal(t, errs.KindTransportTransient, res.Err.Kind)
	assert.Equal(t, []string{"10.0.0.1:80", "10.0.0.2:80", "10.0.0.1:80"}, addrs)
}

func TestInvoker_WithAddress(t *testing.T) {
	ctrl := gomock.NewController(t)
	mt := newMockTransport(ctrl, message.TransportRest)
	mt.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, req *message.CallRequest) *message.CallResult {
			assert.Equal(t, "127.0.0.1:9000", req.Address)
			assert.Equal(t, []string{"a", "b"}, req.Args)
			assert.Equal(t, "v", req.Headers["x-key"])
			assert.Equal(t, http.MethodPut, req.Method)
			assert.Equal(t, time.Second, req.Timeout)
			return message.Succeed(200, nil, nil)
		})
	inv := NewInvoker(transport.NewSet(mt), nil)
	res := inv.Invoke(context.Background(), sayHi, nil,
		WithAddress("127.0.0.1:9000"), WithArgs("a", "b"), WithHeader("X-Key", "v"),
		WithMethod("put"), WithTimeout(time.Second))
	assert.True(t, res.Success())
}

func TestInvoker_Payload(t *testing.T) {
	testCases := []struct {
		name            string
		payload         any
		opts            []CallOption
		wantMethod      string
		wantQuery       url.Values
		wantBody        string
		wantContentType string
	}{
		{name: "nil", wantMethod: http.MethodGet},
		{
			name:       "values",
			payload:    url.Values{"name": {"hi 中国"}},
			wantMethod: http.MethodGet,
			wantQuery:  url.Values{"name": {"hi 中国"}},
		},
		{
			name:       "map",
			payload:    map[string]string{"name": "world"},
			opts:       []CallOption{WithQuery("times", "2")},
			wantMethod: http.MethodGet,
			wantQuery:  url.Values{"name": {"world"}, "times": {"2"}},
		},
		{
			name:            "struct",
			payload:         struct{ Name string }{Name: "world"},
			wantMethod:      http.MethodPost,
			wantBody:        `{"Name":"world"}`,
			wantContentType: "application/json",
		},
		{
			name:            "bytes",
			payload:         []byte{1, 2},
			wantMethod:      http.MethodPost,
			wantBody:        "\x01\x02",
			wantContentType: contentTypeStream,
		},
		{
			name:            "string",
			payload:         "world",
			wantMethod:      http.MethodPost,
			wantBody:        "world",
			wantContentType: contentTypeText,
		},
		{
			name:            "proto",
			payload:         wrapperspb.String("world"),
			wantMethod:      http.MethodPost,
			wantBody:        "\n\x05world",
			wantContentType: "application/x-protobuf",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			mt := newMockTransport(ctrl, message.TransportRest)
			mt.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
				func(ctx context.Context, req *message.CallRequest) *message.CallResult {
					assert.Equal(t, tc.wantMethod, req.Method)
					assert.Equal(t, tc.wantQuery, req.Query)
					assert.Equal(t, tc.wantBody, string(req.Payload))
					assert.Equal(t, tc.wantContentType, req.ContentType)
					return message.Succeed(200, nil, nil)
				})
			inv := NewInvoker(transport.NewSet(mt), springmvcInstances("127.0.0.1:8080"))
			assert.True(t, inv.Invoke(context.Background(), sayHi, tc.payload, tc.opts...).Success())
		})
	}
}

func TestInvoker_BadPayload(t *testing.T) {
	inv := NewInvoker(nil, nil)
	res := inv.Invoke(context.Background(), sayHi, make(chan int))
	assert.Equal(t, errs.KindInvalidRequest, res.Err.Kind)
	e, ok := inv.Metrics().Entry(sayHi.Key())
	require.True(t, ok)
	assert.Equal(t, uint64(1), e.PerStatusCalls[message.StatusFailure])
}

type hangTransport struct {
	release chan struct{}
}

func (h *hangTransport) Kind() message.TransportKind {
	return message.TransportRest
}

// Send ignores ctx on purpose.
func (h *hangTransport) Send(_ context.Context, _ *message.CallRequest) *message.CallResult {
	<-h.release
	return message.Succeed(200, nil, nil)
}

type panicTransport struct{}

func (panicTransport) Kind() message.TransportKind {
	return message.TransportRest
}

func (panicTransport) Send(_ context.Context, _ *message.CallRequest) *message.CallResult {
	panic("boom")
}

func TestInvoker_HangingTransport(t *testing.T) {
	h := &hangTransport{release: make(chan struct{})}
	defer close(h.release)
	inv := NewInvoker(transport.NewSet(h), springmvcInstances("127.0.0.1:8080"),
		InvokerWithTimeout(100*time.Millisecond))

	start := time.Now()
	res := inv.Invoke(context.Background(), sayHi, nil)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, errs.KindTransportTransient, res.Err.Kind)
	assert.Equal(t, 1, res.Attempts)

	e, _ := inv.Metrics().Entry(sayHi.Key())
	assert.Equal(t, uint64(1), e.TotalCalls)
}

func TestInvoker_PanickingTransport(t *testing.T) {
	inv := NewInvoker(transport.NewSet(panicTransport{}), springmvcInstances("127.0.0.1:8080"))
	res := inv.Invoke(context.Background(), sayHi, nil)
	assert.Equal(t, errs.KindTransportFatal, res.Err.Kind)
	assert.Contains(t, res.Err.Message, "boom")
	e, _ := inv.Metrics().Entry(sayHi.Key())
	assert.Equal(t, uint64(1), e.PerStatusCalls[message.StatusFailure])
}

type transportFunc func(ctx context.Context, req *message.CallRequest) *message.CallResult

func (f transportFunc) Kind() message.TransportKind {
	return message.TransportRest
}

func (f transportFunc) Send(ctx context.Context, req *message.CallRequest) *message.CallResult {
	return f(ctx, req)
}

func TestInvoker_CanceledContext(t *testing.T) {
	tr := transportFunc(func(ctx context.Context, req *message.CallRequest) *message.CallResult {
		<-ctx.Done()
		return transport.Failure(ctx.Err())
	})
	inv := NewInvoker(transport.NewSet(tr), springmvcInstances("127.0.0.1:8080"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := inv.Invoke(ctx, sayHi, nil)
	assert.Equal(t, errs.KindTransportFatal, res.Err.Kind)
	assert.Equal(t, 1, res.Attempts)
}

func TestInvoker_TotalTimeout(t *testing.T) {
	tr := transportFunc(func(ctx context.Context, req *message.CallRequest) *message.CallResult {
		time.Sleep(60 * time.Millisecond)
		return transport.Failure(errConnReset)
	})
	inv := NewInvoker(transport.NewSet(tr), springmvcInstances("127.0.0.1:8080", "127.0.0.1:8081"),
		InvokerWithRetry(10, 0))

	// the timeout bounds every attempt together, not each one
	start := time.Now()
	res := inv.Invoke(context.Background(), sayHi, nil, WithTimeout(100*time.Millisecond))
	assert.Less(t, time.Since(start), 200*time.Millisecond)
	require.NotNil(t, res.Err)
	assert.Equal(t, errs.KindTransportTransient, res.Err.Kind)
	assert.LessOrEqual(t, res.Attempts, 2)

	e, ok := inv.Metrics().Entry(sayHi.Key())
	require.True(t, ok)
	assert.Equal(t, uint64(1), e.TotalCalls)
	assert.Equal(t, uint64(1), e.PerStatusCalls[message.StatusFailure])
}

func TestInvoker_EmptyServiceNotCounted(t *testing.T) {
	ctrl := gomock.NewController(t)
	mt := newMockTransport(ctrl, message.TransportRest)
	inv := NewInvoker(transport.NewSet(mt), springmvcInstances("127.0.0.1:8080"))

	res := inv.Do(context.Background(), &message.CallRequest{
		Endpoint: message.ServiceEndpoint{Operation: "controller.sayhi"},
	})
	require.NotNil(t, res.Err)
	assert.Equal(t, errs.KindInvalidRequest, res.Err.Kind)
	assert.Empty(t, inv.Metrics().Snapshot().Operations)
}

type errLimiter struct{}

func (errLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestInvoker_FlowControl(t *testing.T) {
	ctrl := gomock.NewController(t)
	mt := newMockTransport(ctrl, message.TransportRest)
	mt.EXPECT().Send(gomock.Any(), gomock.Any()).Return(message.Succeed(200, nil, nil)).Times(2)
	inv := NewInvoker(transport.NewSet(mt), springmvcInstances("127.0.0.1:8080"),
		InvokerWithLimiter(&ratelimit.OperationLimiter{
			Limiter:      ratelimit.NewFixWindowLimiter(time.Minute, 1),
			OperationKey: sayHi.Key(),
		}))

	assert.True(t, inv.Invoke(context.Background(), sayHi, nil).Success())
	res := inv.Invoke(context.Background(), sayHi, nil)
	require.False(t, res.Success())
	assert.Equal(t, errs.KindApplicationFailure, res.Err.Kind)
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.ErrorIs(t, res.Err, errs.ErrFlowControl)

	// other operations are not limited
	other := message.ServiceEndpoint{ServiceName: "springmvc", Operation: "controller.sayhello"}
	assert.True(t, inv.Invoke(context.Background(), other, "world").Success())

	e, _ := inv.Metrics().Entry(sayHi.Key())
	assert.Equal(t, map[string]uint64{message.StatusSuccess: 1, message.StatusFailure: 1}, e.PerStatusCalls)
}

func TestInvoker_FlowControlUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	mt := newMockTransport(ctrl, message.TransportRest)
	mt.EXPECT().Send(gomock.Any(), gomock.Any()).Return(message.Succeed(200, nil, nil))
	inv := NewInvoker(transport.NewSet(mt), springmvcInstances("127.0.0.1:8080"),
		InvokerWithLimiter(errLimiter{}))
	assert.True(t, inv.Invoke(context.Background(), sayHi, nil).Success())
}

func TestInvoker_SetTransport(t *testing.T) {
	ctrl := gomock.NewController(t)
	rest := newMockTransport(ctrl, message.TransportRest)
	highway := newMockTransport(ctrl, message.TransportHighway)
	rest.EXPECT().Send(gomock.Any(), gomock.Any()).Return(message.Succeed(200, []byte("rest"), nil)).Times(2)
	highway.EXPECT().Send(gomock.Any(), gomock.Any()).Return(message.Succeed(200, []byte("highway"), nil)).Times(2)
	inv := NewInvoker(transport.NewSet(rest, highway), springmvcInstances("127.0.0.1:8080"))

	assert.Equal(t, "rest", string(inv.Invoke(context.Background(), sayHi, nil).Body))
	inv.SetTransport("springmvc", message.TransportHighway)
	assert.Equal(t, "highway", string(inv.Invoke(context.Background(), sayHi, nil).Body))
	inv.SetTransport("springmvc", "")
	assert.Equal(t, "rest", string(inv.Invoke(context.Background(), sayHi, nil).Body))

	inv = NewInvoker(transport.NewSet(rest, highway), springmvcInstances("127.0.0.1:8080"),
		InvokerWithReferences(map[string]message.TransportKind{"springmvc": message.TransportHighway}))
	assert.Equal(t, "highway", string(inv.Invoke(context.Background(), sayHi, nil).Body))
}

type errDiscovery struct{}

func (errDiscovery) ListServices(context.Context, string) ([]registry.ServiceInstance, error) {
	return nil, &net.OpError{Op: "dial", Net: "tcp", Err: &os.SyscallError{Syscall: "connect", Err: syscall.ECONNREFUSED}}
}

func TestInvoker_DiscoveryError(t *testing.T) {
	ctrl := gomock.NewController(t)
	mt := newMockTransport(ctrl, message.TransportRest)
	inv := NewInvoker(transport.NewSet(mt), errDiscovery{})
	res := inv.Invoke(context.Background(), sayHi, nil)
	assert.Equal(t, errs.KindTransportTransient, res.Err.Kind)
	assert.Equal(t, 0, res.Attempts)
}
