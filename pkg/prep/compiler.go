package prep

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/openfroyo/stateprep/pkg/state"
)

// SpanStarter starts trace spans. Both an OpenTelemetry trace.Tracer and
// telemetry.Tracer satisfy it.
type SpanStarter interface {
	Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span)
}

// Compiler turns documents into ordered records.
type Compiler struct {
	logger   zerolog.Logger
	tracer   SpanStarter
	prereqs  PrereqTable
	kinds    map[Family][]string
	handlers map[Family]Handler
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithLogger sets the logger skipped steps are reported to.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Compiler) {
		c.logger = logger.With().Str("component", "prep").Logger()
	}
}

// WithTracer sets the tracer used for document and component spans.
func WithTracer(tracer SpanStarter) Option {
	return func(c *Compiler) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithPrereqTable replaces the prerequisite table.
func WithPrereqTable(table PrereqTable) Option {
	return func(c *Compiler) {
		c.prereqs = table
	}
}

// WithAllowedKinds replaces the subtype allow-list of a family.
func WithAllowedKinds(family Family, kinds ...string) Option {
	return func(c *Compiler) {
		c.kinds[family] = append([]string(nil), kinds...)
	}
}

// WithHandler replaces the handler of a family.
func WithHandler(family Family, handler Handler) Option {
	return func(c *Compiler) {
		c.handlers[family] = handler
	}
}

// New creates a compiler with the built-in handlers and prerequisite table.
func New(opts ...Option) *Compiler {
	c := &Compiler{
		logger:   zerolog.Nop(),
		tracer:   noop.NewTracerProvider().Tracer("prep"),
		prereqs:  DefaultPrereqTable(),
		kinds:    make(map[Family][]string, len(allowedKinds)),
		handlers: make(map[Family]Handler),
	}
	for family, kinds := range allowedKinds {
		c.kinds[family] = kinds
	}

	for _, opt := range opts {
		opt(c)
	}

	// Handlers that carry configuration are bound after options have run.
	defaults := map[Family]Handler{
		FamilyPackage:    &packageHandler{prereqs: c.prereqs},
		FamilyRepository: &repositoryHandler{logger: c.logger},
		FamilyFile:       pathHandler{},
		FamilySCM:        scmHandler{},
		FamilyService:    serviceHandler{},
		FamilySys:        &sysHandler{logger: c.logger},
	}
	for family, h := range defaults {
		if _, ok := c.handlers[family]; !ok {
			c.handlers[family] = h
		}
	}

	return c
}

// SkippedStep is a step that failed validation and contributed no records.
type SkippedStep struct {
	Component string
	StateID   state.StepID
	Module    string
	Err       *state.StepError
}

// ComponentResult is the output of one component.
type ComponentResult struct {
	ComponentID string
	Records     []state.Record
	Skipped     []SkippedStep
}

// Result is the output of a document compilation.
type Result struct {
	Records  []state.Record
	Skipped  []SkippedStep
	Warnings []string
	Graph    *Graph

	Components int
	Steps      int
}

// Compile lowers every component of doc in document order.
//
// Step errors never fail the compilation; they are logged and listed in
// Result.Skipped. The returned error is non-nil only for defects that make
// the output unusable: a tag collision or a requisite cycle.
func (c *Compiler) Compile(ctx context.Context, doc *state.Document) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "prep.compile", trace.WithAttributes(
		attribute.Int("document.components", len(doc.Components)),
		attribute.Int("document.steps", doc.StepCount()),
	))
	defer span.End()

	result := &Result{
		Records:    make([]state.Record, 0),
		Components: len(doc.Components),
		Steps:      doc.StepCount(),
	}
	out := newEmitter()

	for _, comp := range doc.Components {
		cr, err := c.CompileComponent(ctx, comp)
		if err != nil {
			return nil, fail(span, err)
		}
		if err := out.add(cr.ComponentID, cr.Records...); err != nil {
			return nil, fail(span, err)
		}
		result.Skipped = append(result.Skipped, cr.Skipped...)
	}
	result.Records = out.records

	graph, err := BuildGraph(result.Records)
	if err != nil {
		return nil, fail(span, err)
	}
	result.Graph = graph
	for _, d := range graph.Dangling {
		result.Warnings = append(result.Warnings, d.String())
		c.logger.Warn().
			Str("tag", d.Tag).
			Str("relation", d.Requisite.Relation).
			Str("target", d.Requisite.Target).
			Msg("Requisite matches no record")
	}

	span.SetAttributes(
		attribute.Int("records", len(result.Records)),
		attribute.Int("skipped", len(result.Skipped)),
	)
	span.SetStatus(codes.Ok, "")

	return result, nil
}

// CompileComponent lowers the steps of one component in ascending StepID
// order. Steps with equal ids keep their declaration order.
func (c *Compiler) CompileComponent(ctx context.Context, comp state.Component) (ComponentResult, error) {
	_, span := c.tracer.Start(ctx, "prep.component", trace.WithAttributes(
		attribute.String("component.id", comp.ID),
		attribute.Int("component.steps", len(comp.Steps)),
	))
	defer span.End()

	steps := make([]state.Step, len(comp.Steps))
	copy(steps, comp.Steps)
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].StateID.Less(steps[j].StateID)
	})

	result := ComponentResult{ComponentID: comp.ID}
	out := newEmitter()

	for _, step := range steps {
		records, err := c.compileStep(comp.ID, step)
		if err != nil {
			se, ok := state.AsStepError(err)
			if !ok {
				se = state.NewStepError(state.CodeMalformedStep, "%v", err)
			}
			se = se.WithStep(step.Module, comp.ID, step.StateID)

			c.logger.Warn().
				Str("module", step.Module).
				Str("component_id", comp.ID).
				Str("stateid", string(step.StateID)).
				Str("code", string(se.Code)).
				Msg(se.Message)

			result.Skipped = append(result.Skipped, SkippedStep{
				Component: comp.ID,
				StateID:   step.StateID,
				Module:    step.Module,
				Err:       se,
			})
			continue
		}

		if err := out.add(comp.ID, records...); err != nil {
			return ComponentResult{}, fail(span, err)
		}
	}

	result.Records = out.records
	span.SetAttributes(attribute.Int("records", len(result.Records)))
	return result, nil
}

func (c *Compiler) compileStep(componentID string, step state.Step) ([]state.Record, error) {
	if step.StateID == "" {
		return nil, state.NewStepError(state.CodeMalformedStep, "step has no stateid")
	}

	module, ok := ParseModule(step.Module)
	if !ok {
		return nil, state.NewStepError(state.CodeUnknownModule, "unknown module %q", step.Module)
	}

	req := Request{Module: module, Step: step, ComponentID: componentID}
	if err := validate(req, c.kinds); err != nil {
		return nil, err
	}

	handler, ok := c.handlers[module.Family()]
	if !ok {
		return nil, state.NewStepError(state.CodeUnknownModule, "no handler for module %q", step.Module)
	}
	return handler.Handle(req)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// emitter accumulates records and enforces tag uniqueness.
type emitter struct {
	records []state.Record
	seen    map[string]int
}

func newEmitter() *emitter {
	return &emitter{records: make([]state.Record, 0), seen: make(map[string]int)}
}

// add appends records. A shared record identical to one already emitted is
// dropped; any other repeated tag is a collision.
func (e *emitter) add(componentID string, records ...state.Record) error {
	for _, r := range records {
		if i, exists := e.seen[r.Tag]; exists {
			prev := e.records[i]
			if r.Shared && prev.Shared && r.Equal(prev) {
				continue
			}
			return fmt.Errorf("%w: %q emitted twice (component %s)", state.ErrTagCollision, r.Tag, componentID)
		}
		e.seen[r.Tag] = len(e.records)
		e.records = append(e.records, r)
	}
	return nil
}

// IsFatal reports whether err fails a whole compilation.
func IsFatal(err error) bool {
	return errors.Is(err, state.ErrTagCollision) || errors.Is(err, state.ErrRequisiteCycle)
}
