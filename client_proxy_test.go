package svccall

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"svccall/internal/errs"
	"svccall/message"
	"testing"
)

func Test_setFuncField(t *testing.T) {
	mockErr := errs.Newf(errs.KindTransportFatal, "mock error")
	testCases := []struct {
		name        string
		service     *mockService
		proxy       *mockProxy
		wantResp    any
		wantErr     error
		wantAnyErr  bool
		wantInitErr error
	}{
		{
			name: "proxy return error",
			service: func() *mockService {
				srv := &ControllerClient{}
				return &mockService{
					s: srv,
					do: func() (any, error) {
						return srv.SayHi(context.Background(), "world")
					},
				}
			}(),
			proxy:   &mockProxy{t: t, res: message.Fail(mockErr)},
			wantErr: mockErr,
		},
		{
			name: "query var",
			service: func() *mockService {
				srv := &ControllerClient{}
				return &mockService{
					s: srv,
					do: func() (any, error) {
						return srv.SayHi(context.Background(), "hi 中国")
					},
				}
			}(),
			proxy: &mockProxy{
				t: t,
				check: func(t *testing.T, req *message.CallRequest) {
					assert.Equal(t, "springmvc.controller.sayhi", req.Endpoint.Key())
					assert.Equal(t, http.MethodGet, req.Method)
					assert.Equal(t, "hi 中国", req.Query.Get("name"))
					assert.Empty(t, req.Payload)
				},
				res: message.Succeed(200, []byte("hi hi 中国 [hi 中国]"), nil),
			},
			wantResp: "hi hi 中国 [hi 中国]",
		},
		{
			name: "path var and body",
			service: func() *mockService {
				srv := &ControllerClient{}
				return &mockService{
					s: srv,
					do: func() (any, error) {
						return srv.SaySomething(context.Background(), "prefix", 3, &AnyRequest{Msg: "world"})
					},
				}
			}(),
			proxy: &mockProxy{
				t: t,
				check: func(t *testing.T, req *message.CallRequest) {
					assert.Equal(t, "springmvc.controller.saysomething", req.Endpoint.Key())
					assert.Equal(t, http.MethodPost, req.Method)
					assert.Equal(t, []string{"prefix"}, req.Args)
					assert.Equal(t, "3", req.Query.Get("times"))
					assert.Equal(t, `{"msg":"world"}`, string(req.Payload))
					assert.Equal(t, "application/json", req.ContentType)
				},
				res: message.Succeed(200, []byte("prefix world"), nil),
			},
			wantResp: "prefix world",
		},
		{
			name: "args without template",
			service: func() *mockService {
				srv := &ControllerClient{}
				return &mockService{
					s: srv,
					do: func() (any, error) {
						return srv.SayHello(context.Background(), "中国")
					},
				}
			}(),
			proxy: &mockProxy{
				t: t,
				check: func(t *testing.T, req *message.CallRequest) {
					assert.Equal(t, "springmvc.controller.sayhello", req.Endpoint.Key())
					assert.Equal(t, []string{"中国"}, req.Args)
				},
				res: message.Succeed(200, []byte(`"hello 中国"`), nil),
			},
			wantResp: "hello 中国",
		},
		{
			name: "schema service",
			service: func() *mockService {
				srv := &UserServiceClient{}
				return &mockService{
					s: srv,
					do: func() (any, error) {
						return srv.GetById(context.Background(), &AnyRequest{Msg: "123456"})
					},
				}
			}(),
			proxy: &mockProxy{
				t: t,
				check: func(t *testing.T, req *message.CallRequest) {
					assert.Equal(t, "user-service.user.getbyid", req.Endpoint.Key())
					assert.Equal(t, http.MethodPost, req.Method)
					assert.Equal(t, `{"msg":"123456"}`, string(req.Payload))
				},
				res: message.Succeed(200, []byte(`{"msg":"这是123456的响应"}`),
					map[string]string{"content-type": "application/json"}),
			},
			wantResp: &AnyResponse{Msg: "这是123456的响应"},
		},
		{
			name: "malformed response",
			service: func() *mockService {
				srv := &UserServiceClient{}
				return &mockService{
					s: srv,
					do: func() (any, error) {
						return srv.GetById(context.Background(), &AnyRequest{Msg: "123456"})
					},
				}
			}(),
			proxy:      &mockProxy{t: t, res: message.Succeed(200, []byte(`{"msg":`), nil)},
			wantResp:   (*AnyResponse)(nil),
			wantAnyErr: true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := setFuncField(tc.service.s, tc.proxy)
			assert.Equal(t, tc.wantInitErr, err)
			if err != nil {
				return
			}
			resp, err := tc.service.do()
			if tc.wantAnyErr {
				assert.Error(t, err)
				assert.Equal(t, tc.wantResp, resp)
				return
			}
			assert.Equal(t, tc.wantErr, err)
			if err != nil {
				return
			}
			assert.Equal(t, tc.wantResp, resp)
		})
	}
}

func Test_setFuncFieldInvalid(t *testing.T) {
	testCases := []struct {
		name    string
		service Service
	}{
		{name: "not a pointer", service: valueService{}},
		{name: "no tag no schema", service: &untaggedService{}},
		{name: "no context", service: &noContextService{}},
		{name: "two bodies", service: &twoBodiesService{}},
		{name: "bad uri", service: &badURIService{}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, setFuncField(tc.service, &mockProxy{t: t}))
		})
	}
}

func TestClient_InitService(t *testing.T) {
	inv := NewInvoker(nil, nil)
	c := NewClient(inv)
	srv := &ControllerClient{}
	require.NoError(t, c.InitService(srv))
	_, err := srv.SayHi(context.Background(), "world")
	assert.Equal(t, errs.KindNoTransportAvailable, errs.KindOf(err))
	e, ok := c.Metrics().Operations["springmvc.controller.sayhi"]
	require.True(t, ok)
	assert.Equal(t, uint64(1), e.PerStatusCalls[message.StatusFailure])
}

func TestClient_InitServiceMissingVar(t *testing.T) {
	c := NewClient(NewInvoker(nil, nil))
	srv := &missingVarClient{}
	require.NoError(t, c.InitService(srv))
	_, err := srv.SayHi(context.Background(), "world")
	assert.Equal(t, errs.KindInvalidRequest, errs.KindOf(err))
	assert.ErrorIs(t, err, errs.ErrMissingURIVar)
	e, ok := c.Metrics().Operations["springmvc.controller.sayhi"]
	require.True(t, ok)
	assert.Equal(t, uint64(1), e.PerStatusCalls[message.StatusFailure])
	assert.Equal(t, uint64(1), e.TotalCalls)
}

type missingVarClient struct {
	SayHi func(ctx context.Context, name string) (string, error) `svccall:"GET controller/sayhi?name={name}&x={x}"`
}

func (s *missingVarClient) ServiceName() string {
	return "springmvc"
}

// mockProxy
// 这里我们不用 mock 工具来生成，手写比较简单
type mockProxy struct {
	t     *testing.T
	check func(t *testing.T, req *message.CallRequest)
	res   *message.CallResult
}

func (p *mockProxy) Do(ctx context.Context, req *message.CallRequest) *message.CallResult {
	if p.check != nil {
		p.check(p.t, req)
	}
	return p.res
}

func (p *mockProxy) Reject(req *message.CallRequest, err error) *message.CallResult {
	return message.Fail(errs.New(errs.KindInvalidRequest, err))
}

type mockService struct {
	s  Service
	do func() (any, error)
}

type ControllerClient struct {
	SayHi        func(ctx context.Context, name string) (string, error)                               `svccall:"GET controller/sayhi?name={name}"`
	SayHello     func(ctx context.Context, name string) (string, error)                               `svccall:"POST controller/sayhello"`
	SaySomething func(ctx context.Context, prefix string, times int, req *AnyRequest) (string, error) `svccall:"POST controller/saysomething/{prefix}?times={times}"`
}

func (s *ControllerClient) ServiceName() string {
	return "springmvc"
}

type UserServiceClient struct {
	GetById func(cxt context.Context, req *AnyRequest) (*AnyResponse, error)
}

func (s *UserServiceClient) ServiceName() string {
	return "user-service"
}

func (s *UserServiceClient) SchemaID() string {
	return "user"
}

type AnyRequest struct {
	Msg string `json:"msg"`
}

type AnyResponse struct {
	Msg string `json:"msg"`
}

type valueService struct{}

func (valueService) ServiceName() string { return "value" }

type untaggedService struct {
	Get func(ctx context.Context) (string, error)
}

func (*untaggedService) ServiceName() string { return "untagged" }

type noContextService struct {
	Get func(name string) (string, error) `svccall:"GET a/b"`
}

func (*noContextService) ServiceName() string { return "no-context" }

type twoBodiesService struct {
	Post func(ctx context.Context, a, b *AnyRequest) (string, error) `svccall:"POST a/b"`
}

func (*twoBodiesService) ServiceName() string { return "two-bodies" }

type badURIService struct {
	Get func(ctx context.Context) (string, error) `svccall:"GET onlyone"`
}

func (*badURIService) ServiceName() string { return "bad-uri" }
