package springmvc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"svccall"
	"svccall/internal/errs"
	"svccall/message"
	"svccall/metrics"
	"time"
)

// Check is one expectation of a scenario run.
type Check struct {
	Name   string
	Want   any
	Got    any
	Passed bool
}

type Report struct {
	Checks []Check
}

func (r *Report) check(name string, want, got any) {
	r.Checks = append(r.Checks, Check{Name: name, Want: want, Got: got, Passed: reflect.DeepEqual(want, got)})
}

// checkCall records err in place of the value when the call failed.
func (r *Report) checkCall(name string, want, got any, err error) {
	if err != nil {
		r.Checks = append(r.Checks, Check{Name: name, Want: want, Got: err.Error()})
		return
	}
	r.check(name, want, got)
}

func (r *Report) Failed() []Check {
	var res []Check
	for _, c := range r.Checks {
		if !c.Passed {
			res = append(res, c)
		}
	}
	return res
}

func (r *Report) Passed() bool {
	return len(r.Failed()) == 0
}

// Write prints every failed check and a summary line.
func (r *Report) Write(w io.Writer) {
	for _, c := range r.Failed() {
		_, _ = fmt.Fprintf(w, "FAIL %s: want %v, got %v\n", c.Name, c.Want, c.Got)
	}
	_, _ = fmt.Fprintf(w, "%d checks, %d failed\n", len(r.Checks), len(r.Failed()))
}

// Scenario drives every controller case over each transport and then
// verifies what the consumer and the provider counted.
type Scenario struct {
	Client     *svccall.Client
	Transports []message.TransportKind
	// Timeout bounds the intentional exception call.
	Timeout time.Duration
}

const (
	keySayHi        = ServiceName + ".controller.sayhi"
	keySayHello     = ServiceName + ".controller.sayhello"
	keySaySomething = ServiceName + ".controller.saysomething"
)

func (s *Scenario) Run(ctx context.Context) (*Report, error) {
	var (
		controller Controller
		codeFirst  CodeFirstClient
	)
	if err := s.Client.InitService(&controller); err != nil {
		return nil, err
	}
	if err := s.Client.InitService(&codeFirst); err != nil {
		return nil, err
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = svccall.DefaultTimeout
	}

	r := &Report{}
	before := s.Client.Metrics()
	providerBefore, err := s.providerMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("springmvc: read provider metrics: %w", err)
	}

	for _, kind := range s.Transports {
		s.Client.SetTransport(ServiceName, kind)
		s.runControllerCases(ctx, r, string(kind), &controller, &codeFirst)
	}

	start := time.Now()
	var out string
	err = s.Client.GetForObject(ctx, "cse://springmvc/controller/sayhi?name=throwexception", &out)
	r.check("throwexception kind", errs.KindApplicationFailure, errs.KindOf(err))
	var ce *errs.CallError
	if errors.As(err, &ce) {
		r.check("throwexception status", http.StatusInternalServerError, ce.StatusCode)
	}
	r.check("throwexception within timeout", true, time.Since(start) < timeout)

	n := uint64(len(s.Transports))
	after := s.Client.Metrics()
	delta := func(key, status string) uint64 {
		return after.Operations[key].PerStatusCalls[status] - before.Operations[key].PerStatusCalls[status]
	}
	r.check("consumer sayhi success", 5*n, delta(keySayHi, message.StatusSuccess))
	r.check("consumer sayhi failure", uint64(1), delta(keySayHi, message.StatusFailure))
	r.check("consumer sayhello success", 2*n, delta(keySayHello, message.StatusSuccess))
	r.check("consumer saysomething success", 2*n, delta(keySaySomething, message.StatusSuccess))
	for _, key := range after.Keys() {
		e := after.Operations[key]
		var sum uint64
		for _, v := range e.PerStatusCalls {
			sum += v
		}
		r.check("consumer total "+key, e.TotalCalls, sum)
	}

	providerAfter, err := s.providerMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("springmvc: read provider metrics: %w", err)
	}
	r.check("provider heap used", true, providerAfter.System.HeapUsed != 0)
	r.check("provider saysomething total", 2*n,
		providerAfter.Operations[keySaySomething].TotalCalls-providerBefore.Operations[keySaySomething].TotalCalls)
	return r, nil
}

func (s *Scenario) runControllerCases(ctx context.Context, r *Report, kind string,
	controller *Controller, codeFirst *CodeFirstClient) {
	var out string
	err := s.Client.GetForObject(ctx, "cse://springmvc/controller/sayhi?name=world", &out)
	r.checkCall(kind+" sayhi", "hi world [world]", out, err)

	out = ""
	err = s.Client.GetForObject(ctx, "cse://springmvc/controller/sayhi?name={name}", &out, "world1")
	r.checkCall(kind+" sayhi positional var", "hi world1 [world1]", out, err)

	out = ""
	err = s.Client.GetForObject(ctx, "cse://springmvc/controller/sayhi?name={name}", &out, "hi 中国")
	r.checkCall(kind+" sayhi non-ascii", "hi hi 中国 [hi 中国]", out, err)

	out = ""
	err = s.Client.GetForObject(ctx, "cse://springmvc/controller/sayhi?name={name}", &out,
		map[string]string{"name": "world2"})
	r.checkCall(kind+" sayhi map var", "hi world2 [world2]", out, err)

	out, err = controller.SayHi(ctx, "world")
	r.checkCall(kind+" proxy sayhi", "hi world [world]", out, err)

	out = ""
	err = s.Client.PostForObject(ctx, "cse://springmvc/controller/sayhello/{name}", nil, &out, "world")
	r.checkCall(kind+" sayhello", "hello world", out, err)

	out, err = controller.SayHello(ctx, "中国")
	r.checkCall(kind+" proxy sayhello", "hello 中国", out, err)

	out = ""
	resp, err := s.Client.Exchange(ctx, http.MethodGet, "cse://springmvc/controller/sayhei",
		map[string]string{"name": "world"}, nil, &out)
	r.checkCall(kind+" sayhei", "hei world", out, err)
	if resp != nil {
		r.check(kind+" sayhei status", http.StatusOK, resp.StatusCode)
	}

	out = ""
	err = s.Client.PostForObject(ctx, "cse://springmvc/controller/saysomething?prefix={prefix}",
		&Person{Name: "world"}, &out, "prefix-prefix")
	r.checkCall(kind+" saysomething", "prefix-prefix world", out, err)

	out, err = controller.SaySomething(ctx, "prefix", &Person{Name: "中国"})
	r.checkCall(kind+" proxy saysomething", "prefix 中国", out, err)

	p, err := codeFirst.SayHello(ctx, &Person{Name: "world"})
	if err == nil {
		r.check(kind+" codeFirst sayhello", "hello world", p.Name)
	} else {
		r.checkCall(kind+" codeFirst sayhello", "hello world", nil, err)
	}

	sum, err := codeFirst.Add(ctx, &AddRequest{A: 1, B: 2})
	if err == nil {
		r.check(kind+" codeFirst add", 3, sum.Sum)
	} else {
		r.checkCall(kind+" codeFirst add", 3, nil, err)
	}
}

func (s *Scenario) providerMetrics(ctx context.Context) (metrics.Snapshot, error) {
	var snap metrics.Snapshot
	err := s.Client.GetForObject(ctx, "cse://springmvc/codeFirst/metricsfortest", &snap)
	return snap, err
}
