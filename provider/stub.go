package provider

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"svccall/message"
	"svccall/rpc/serialize"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// RegisterService exposes every method of svc shaped
// func(ctx context.Context, in *In) (*Out, error) as the POST operation
// <schema>.<lowercased method name>. Bodies are decoded by content type.
func (m *Mux) RegisterService(schema string, svc any) error {
	val := reflect.ValueOf(svc)
	typ := val.Type()
	cnt := 0
	for i := 0; i < val.NumMethod(); i++ {
		methodTyp := typ.Method(i)
		method := val.Method(i)
		if !stubbable(method.Type()) {
			continue
		}
		op := schema + "." + strings.ToLower(methodTyp.Name)
		m.Register(http.MethodPost, op, &reflectionStub{method: method})
		cnt++
	}
	if cnt == 0 {
		return fmt.Errorf("provider: %T has no method func(context.Context, *In) (*Out, error)", svc)
	}
	return nil
}

func stubbable(t reflect.Type) bool {
	return t.NumIn() == 2 && t.In(0) == contextType && t.In(1).Kind() == reflect.Pointer &&
		t.NumOut() == 2 && t.Out(1) == errorType
}

// reflectionStub 通过反射调用服务的方法
type reflectionStub struct {
	method reflect.Value
}

func (s *reflectionStub) Handle(ctx context.Context, inv *message.Invocation) *message.Reply {
	in := reflect.New(s.method.Type().In(1).Elem())
	serializer := serialize.ByContentType(inv.ContentType)
	if len(inv.Body) > 0 {
		if err := serializer.Decode(inv.Body, in.Interface()); err != nil {
			return Text(http.StatusBadRequest, err.Error())
		}
	}
	res := s.method.Call([]reflect.Value{reflect.ValueOf(ctx), in})
	if err, _ := res[1].Interface().(error); err != nil {
		return Error(err)
	}
	data, err := serializer.Encode(res[0].Interface())
	if err != nil {
		return Error(err)
	}
	return &message.Reply{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers:    map[string]string{"Content-Type": serializer.ContentType()},
	}
}
