// Package run applies the flow graph reductions
// to many methods concurrently.
package run

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/eaburns/ilgraph/blocks"
	"github.com/eaburns/ilgraph/il"
	"github.com/eaburns/ilgraph/internal/logger"
	"github.com/eaburns/ilgraph/internal/report"
	"github.com/eaburns/ilgraph/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Options selects the reductions to apply.
type Options struct {
	Dead        bool
	Nops        bool
	Repartition bool
	Locals      bool
	// Jobs is the number of methods processed concurrently.
	// If Jobs < 1, runtime.GOMAXPROCS(0) is used.
	Jobs int
}

// AllOptions returns Options enabling every reduction.
func AllOptions() Options {
	return Options{Dead: true, Nops: true, Repartition: true, Locals: true}
}

// A Job is a method to process and the listing that it came from.
type Job struct {
	Path   string
	Method *il.Method
}

// A Sink receives the result of each method.
type Sink interface {
	Record(ctx context.Context, r report.Result) error
}

// Run processes the methods of jobs and returns their results in order.
// The body of each method that succeeds is replaced with the reduced body;
// a method that fails is left unchanged and its failure is logged.
// If sink is non-nil, each result is recorded to it, in order,
// from the calling goroutine.
func Run(ctx context.Context, opts Options, jobs []Job, sink Sink) ([]report.Result, error) {
	n := opts.Jobs
	if n < 1 {
		n = runtime.GOMAXPROCS(0)
	}
	results := make([]report.Result, len(jobs))
	todo := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < n; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range todo {
				results[i] = process(ctx, opts, jobs[i])
			}
		}()
	}
	var err error
	for i := range jobs {
		if err = ctx.Err(); err != nil {
			break
		}
		todo <- i
	}
	close(todo)
	wg.Wait()
	if err != nil {
		return nil, err
	}
	if sink != nil {
		for _, r := range results {
			if err := sink.Record(ctx, r); err != nil {
				return results, err
			}
		}
	}
	return results, nil
}

func process(ctx context.Context, opts Options, job Job) report.Result {
	m := job.Method
	token := fmt.Sprintf("%08X", uint32(m.Token))
	_, span := telemetry.GetTracer().Start(ctx, "method",
		oteltrace.WithAttributes(
			attribute.String("path", job.Path),
			attribute.String("token", token),
			attribute.String("method", m.Name),
		))
	defer span.End()

	r := report.Result{Path: job.Path, Token: m.Token, Name: m.Name}
	body, err := reduce(opts, m, &r)
	if err != nil {
		r.Err = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "method failed")
		logger.Logger.Warn("method not reduced",
			"path", job.Path, "token", token, "method", m.Name, "err", err)
		return r
	}
	span.SetAttributes(
		attribute.Int("dead_blocks", r.DeadBlocks),
		attribute.Int("nop_blocks", r.NopBlocks),
		attribute.Int("locals", r.Locals),
	)
	m.Body = body
	return r
}

func reduce(opts Options, m *il.Method, r *report.Result) (*il.Body, error) {
	b, err := blocks.New(m)
	if err != nil {
		return nil, err
	}
	if opts.Dead {
		r.DeadBlocks = b.RemoveDeadBlocks()
	}
	if opts.Nops {
		r.NopBlocks = b.MergeNopBlocks()
	}
	if opts.Repartition {
		if err := b.RepartitionBlocks(); err != nil {
			return nil, err
		}
	}
	if opts.Locals {
		r.Locals = b.OptimizeLocals()
	}
	return b.GetCode()
}
