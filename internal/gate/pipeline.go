package gate

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Gate is one named stage of the admission pipeline. Evaluate either
// enriches ev or returns a terminal error.
type Gate interface {
	Name() string
	Evaluate(ctx context.Context, ev *Evaluation) error
}

// Observer receives per-gate outcomes; code is "" on pass.
type Observer interface {
	ObserveGate(gate, code string, d time.Duration)
}

// Pipeline runs gates in order and stops at the first rejection.
type Pipeline struct {
	gates    []Gate
	observer Observer
	tracer   trace.Tracer
}

func NewPipeline(gates ...Gate) *Pipeline {
	return &Pipeline{
		gates:  gates,
		tracer: otel.Tracer("consulate/gate"),
	}
}

// WithObserver sets the outcome observer and returns p.
func (p *Pipeline) WithObserver(o Observer) *Pipeline {
	p.observer = o
	return p
}

// Gates lists the stage names in order.
func (p *Pipeline) Gates() []string {
	out := make([]string, 0, len(p.gates))
	for _, g := range p.gates {
		out = append(out, g.Name())
	}
	return out
}

// Run evaluates req. A nil error means every gate passed and the returned
// context is ready for the handler.
func (p *Pipeline) Run(ctx context.Context, req *Request) (*RequestContext, error) {
	ev := &Evaluation{Request: req}

	for _, g := range p.gates {
		if err := p.evaluate(ctx, g, ev); err != nil {
			return nil, AsError(err)
		}
	}
	return ev.freeze(), nil
}

func (p *Pipeline) evaluate(ctx context.Context, g Gate, ev *Evaluation) error {
	ctx, span := p.tracer.Start(ctx, "gate."+g.Name(),
		trace.WithAttributes(
			attribute.String("http.route", ev.Request.Route.Template),
			attribute.String("http.method", ev.Request.Method),
		),
	)
	defer span.End()

	start := time.Now()
	err := g.Evaluate(ctx, ev)
	code := ""
	if err != nil {
		code = KindOf(err).Code()
		span.SetStatus(codes.Error, code)
		span.SetAttributes(attribute.String("gate.code", code))
	}
	if p.observer != nil {
		p.observer.ObserveGate(g.Name(), code, time.Since(start))
	}
	return err
}
