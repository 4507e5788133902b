package springmvc

import "context"

// Controller calls the controller schema through Client.InitService.
type Controller struct {
	SayHi        func(ctx context.Context, name string) (string, error)                 `svccall:"GET controller/sayhi?name={name}"`
	SayHello     func(ctx context.Context, name string) (string, error)                 `svccall:"POST controller/sayhello/{name}"`
	SaySomething func(ctx context.Context, prefix string, user *Person) (string, error) `svccall:"POST controller/saysomething?prefix={prefix}"`
}

func (c *Controller) ServiceName() string {
	return ServiceName
}

// CodeFirstClient relies on the schema id: each field is POST codeFirst/<field>.
type CodeFirstClient struct {
	SayHello func(ctx context.Context, p *Person) (*Person, error)
	Add      func(ctx context.Context, in *AddRequest) (*AddResponse, error)
}

func (c *CodeFirstClient) ServiceName() string {
	return ServiceName
}

func (c *CodeFirstClient) SchemaID() string {
	return "codeFirst"
}
