// Package springmvc is the demo service: its provider side, the code-first
// consumer proxies and the consumer scenario run against it.
package springmvc

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/gotomicro/ekit/bean/option"
	"net/http"
	"svccall/message"
	"svccall/provider"
)

const ServiceName = "springmvc"

type Person struct {
	Name string `json:"name"`
}

// NewMux serves the controller and codeFirst schemas.
func NewMux(opts ...option.Option[provider.Mux]) (*provider.Mux, error) {
	m := provider.NewMux(ServiceName, opts...)
	m.RegisterFunc(http.MethodGet, "controller.sayhi", sayHi)
	m.RegisterFunc(http.MethodPost, "controller.sayhello", sayHello)
	m.RegisterFunc(http.MethodGet, "controller.sayhei", sayHei)
	m.RegisterFunc(http.MethodPost, "controller.saysomething", saySomething)
	if err := m.RegisterService("codeFirst", CodeFirst{}); err != nil {
		return nil, err
	}
	m.RegisterFunc(http.MethodGet, "codeFirst.metricsfortest", func(ctx context.Context, inv *message.Invocation) *message.Reply {
		return provider.JSON(m.Metrics().Snapshot())
	})
	return m, nil
}

func sayHi(_ context.Context, inv *message.Invocation) *message.Reply {
	name := inv.Query.Get("name")
	if name == "throwexception" {
		return provider.Text(http.StatusInternalServerError, "intentional exception")
	}
	return provider.Text(http.StatusOK, fmt.Sprintf("hi %s [%s]", name, name))
}

func sayHello(_ context.Context, inv *message.Invocation) *message.Reply {
	if len(inv.Args) == 0 {
		return provider.Text(http.StatusBadRequest, "name required")
	}
	return provider.Text(http.StatusOK, "hello "+inv.Args[0])
}

func sayHei(_ context.Context, inv *message.Invocation) *message.Reply {
	return provider.Text(http.StatusOK, "hei "+inv.Headers["name"])
}

func saySomething(_ context.Context, inv *message.Invocation) *message.Reply {
	var p Person
	if err := json.Unmarshal(inv.Body, &p); err != nil {
		return provider.Text(http.StatusBadRequest, err.Error())
	}
	return provider.Text(http.StatusOK, inv.Query.Get("prefix")+" "+p.Name)
}

// CodeFirst is served through reflection.
type CodeFirst struct{}

func (CodeFirst) SayHello(_ context.Context, p *Person) (*Person, error) {
	if p.Name == "" {
		return nil, &provider.StatusError{Status: http.StatusBadRequest, Message: "name required"}
	}
	return &Person{Name: "hello " + p.Name}, nil
}

type AddRequest struct {
	A int `json:"a"`
	B int `json:"b"`
}

type AddResponse struct {
	Sum int `json:"sum"`
}

func (CodeFirst) Add(_ context.Context, in *AddRequest) (*AddResponse, error) {
	return &AddResponse{Sum: in.A + in.B}, nil
}
