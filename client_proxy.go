package svccall

import (
	"context"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"svccall/internal/errs"
	"svccall/message"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// InitService fills the func fields of svc, a pointer to struct, with
// calls through this Client. A field has the shape
//
//	func(ctx context.Context, args...) (Out, error)
//
// and may carry a tag such as `svccall:"GET controller/sayhi?name={name}"`.
// Scalar args fill the {vars} of the tag in order, or become path args when
// the tag has none; the one non-scalar arg, if any, is the body. Untagged
// fields are POST <schema>/<lowercased field name>, the schema coming from
// SchemaService.
func (c *Client) InitService(svc Service) error {
	return setFuncField(svc, c.invoker)
}

// setFuncField takes a Proxy so that tests can swap the invoker out.
func setFuncField(svc Service, p Proxy) error {
	val := reflect.ValueOf(svc)
	if val.Kind() != reflect.Pointer || val.Elem().Kind() != reflect.Struct {
		return errs.ErrServiceTyp
	}
	valElem := val.Elem()
	typElem := valElem.Type()
	schema := ""
	if s, ok := svc.(SchemaService); ok {
		schema = s.SchemaID()
	}
	for i := 0; i < typElem.NumField(); i++ {
		fieldTyp := typElem.Field(i)
		fieldVal := valElem.Field(i)
		if !fieldVal.CanSet() || fieldTyp.Type.Kind() != reflect.Func {
			continue
		}
		if err := checkSignature(fieldTyp.Type); err != nil {
			return fmt.Errorf("%w: field %s: %s", errs.ErrServiceTyp, fieldTyp.Name, err.Error())
		}
		method, path, err := parseTag(fieldTyp, schema)
		if err != nil {
			return err
		}
		uri := "svc://" + svc.ServiceName() + "/" + strings.TrimPrefix(path, "/")
		if _, err = ParseURI(uri); err != nil {
			return fmt.Errorf("field %s: %w", fieldTyp.Name, err)
		}
		fieldVal.Set(reflect.MakeFunc(fieldTyp.Type, bindOperation(p, method, uri, fieldTyp.Type)))
	}
	return nil
}

func bindOperation(p Proxy, method, uri string, fnTyp reflect.Type) func(args []reflect.Value) []reflect.Value {
	outTyp := fnTyp.Out(0)
	templated := strings.Contains(uri, "{")
	return func(args []reflect.Value) []reflect.Value {
		ctx := context.Background()
		if !args[0].IsNil() {
			ctx = args[0].Interface().(context.Context)
		}
		var (
			vars []any
			body any
		)
		for _, a := range args[1:] {
			if isScalar(a.Kind()) {
				vars = append(vars, a.Interface())
				continue
			}
			if !isNil(a) {
				body = a.Interface()
			}
		}
		target := uri
		if !templated && len(vars) > 0 {
			target = appendArgs(uri, vars)
			vars = nil
		}
		req, err := newRequest(method, target, nil, body, vars)
		var res *message.CallResult
		if err != nil {
			res = p.Reject(req, err)
		} else {
			res = p.Do(ctx, req)
		}
		if res.Err != nil {
			return results(reflect.Zero(outTyp), res.Err)
		}
		// 指针类型直接解到新对象里，proto.Message 也能识别
		if outTyp.Kind() == reflect.Pointer {
			out := reflect.New(outTyp.Elem())
			if err = decodeBody(res, out.Interface()); err != nil {
				return results(reflect.Zero(outTyp), err)
			}
			return results(out, nil)
		}
		out := reflect.New(outTyp)
		if err = decodeBody(res, out.Interface()); err != nil {
			return results(reflect.Zero(outTyp), err)
		}
		return results(out.Elem(), nil)
	}
}

// results 在闭包中不能返回不带类型的 nil，所以 error 用 reflect.Zero(errorType)
func results(out reflect.Value, err error) []reflect.Value {
	errVal := reflect.Zero(errorType)
	if err != nil {
		errVal = reflect.ValueOf(&err).Elem()
	}
	return []reflect.Value{out, errVal}
}

func checkSignature(typ reflect.Type) error {
	if typ.NumIn() < 1 || typ.In(0) != contextType {
		return fmt.Errorf("first parameter must be context.Context")
	}
	if typ.NumOut() != 2 || typ.Out(1) != errorType {
		return fmt.Errorf("must return (value, error)")
	}
	bodies := 0
	for i := 1; i < typ.NumIn(); i++ {
		if !isScalar(typ.In(i).Kind()) {
			bodies++
		}
	}
	if bodies > 1 {
		return fmt.Errorf("at most one non-scalar parameter")
	}
	return nil
}

func parseTag(field reflect.StructField, schema string) (method, path string, err error) {
	tag, ok := field.Tag.Lookup("svccall")
	if !ok {
		if schema == "" {
			return "", "", fmt.Errorf("%w: field %s has no tag and the service no schema",
				errs.ErrInvalidOperation, field.Name)
		}
		return "POST", schema + "/" + strings.ToLower(field.Name), nil
	}
	method, path, ok = strings.Cut(strings.TrimSpace(tag), " ")
	if !ok {
		// 只写了路径
		return "POST", method, nil
	}
	return strings.ToUpper(method), strings.TrimSpace(path), nil
}

func appendArgs(uri string, vars []any) string {
	path, query, hasQuery := strings.Cut(uri, "?")
	var sb strings.Builder
	sb.WriteString(path)
	for _, v := range vars {
		sb.WriteByte('/')
		sb.WriteString(url.PathEscape(fmt.Sprint(v)))
	}
	if hasQuery {
		sb.WriteByte('?')
		sb.WriteString(query)
	}
	return sb.String()
}

func isScalar(k reflect.Kind) bool {
	switch k {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}
