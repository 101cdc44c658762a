// Package pipeline runs fetch, persist, generate and persist again for one
// person. Each step's failure aborts the run; earlier writes stay committed.
//
// Two runs for the same name are not serialized here. They race on the
// upsert-then-update sequence and the last journey write wins.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/you/recurse-review/internal/core"
	"github.com/you/recurse-review/internal/runtrace"
	"github.com/you/recurse-review/internal/zulip"
)

type Source interface {
	Fetch(ctx context.Context, person string) (zulip.Result, error)
}

type Generator interface {
	Generate(ctx context.Context, messages []core.Message, person string) (string, error)
}

type Repository interface {
	UpsertPersonMessageData(ctx context.Context, name string, messageCount int, avatarURL string) (string, error)
	UpdatePersonJourney(ctx context.Context, personID, payload string) error
}

// Observer receives one outcome per run: "ok" or the failing error kind.
type Observer interface {
	ObservePipelineRun(outcome string, dur time.Duration)
}

type Options struct {
	// Stream labels traces; it does not change what is fetched.
	Stream   string
	Observer Observer
	Logger   *slog.Logger
}

type Orchestrator struct {
	src  Source
	gen  Generator
	repo Repository
	opts Options
}

// Result describes a successful run.
type Result struct {
	PersonID     string
	Name         string
	MessageCount int
	AvatarURL    string
	TraceID      string
}

func New(src Source, gen Generator, repo Repository, opts Options) *Orchestrator {
	if opts.Stream == "" {
		opts.Stream = zulip.DefaultStream
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{src: src, gen: gen, repo: repo, opts: opts}
}

// GenerateJourneyForPerson runs the whole sequence synchronously. name is
// trimmed; a blank name fails before any I/O.
func (o *Orchestrator) GenerateJourneyForPerson(ctx context.Context, name string) (res Result, err error) {
	start := time.Now()
	name = strings.TrimSpace(name)
	defer func() { o.observe(err, time.Since(start)) }()

	if name == "" {
		return Result{}, core.E(core.KindValidation, "generate journey", errors.New(`missing or invalid "name"`))
	}

	trace := runtrace.New(o.opts.Stream, name)
	defer trace.LogTrace(o.opts.Logger, "pipeline: run finished")
	log := o.opts.Logger.With("person", name, "run_id", trace.RunID)

	fetched, err := o.src.Fetch(ctx, name)
	if err != nil {
		trace.Inc(runtrace.StageFailed(runtrace.StageFetched))
		return Result{}, wrapStep("fetch", name, err)
	}
	trace.Add(runtrace.StageFetched, int64(len(fetched.Messages)))
	if len(fetched.Messages) == 0 {
		log.Warn("pipeline: no messages found; journey may be sparse")
	}

	id, err := o.repo.UpsertPersonMessageData(ctx, name, len(fetched.Messages), fetched.AvatarURL)
	if err != nil {
		trace.Inc(runtrace.StageFailed(runtrace.StageUpserted))
		return Result{}, wrapStep("upsert", name, err)
	}
	trace.Inc(runtrace.StageUpserted)
	log.Info("pipeline: message data stored", "person_id", id, "messages", len(fetched.Messages))

	payload, err := o.gen.Generate(ctx, fetched.Messages, name)
	if err != nil {
		trace.Inc(runtrace.StageFailed(runtrace.StageGenerated))
		return Result{}, wrapStep("generate", name, err)
	}
	trace.Inc(runtrace.StageGenerated)

	if err := o.repo.UpdatePersonJourney(ctx, id, payload); err != nil {
		trace.Inc(runtrace.StageFailed(runtrace.StagePersisted))
		return Result{}, wrapStep("persist", name, err)
	}
	trace.Inc(runtrace.StagePersisted)
	log.Info("pipeline: journey generated", "person_id", id)

	return Result{
		PersonID:     id,
		Name:         name,
		MessageCount: len(fetched.Messages),
		AvatarURL:    fetched.AvatarURL,
		TraceID:      trace.TraceID,
	}, nil
}

// wrapStep adds the step and person while keeping the inner Kind visible to
// core.KindOf.
func wrapStep(step, name string, err error) error {
	return core.EP(core.KindUnknown, step, name, err)
}

func (o *Orchestrator) observe(err error, dur time.Duration) {
	if o.opts.Observer == nil {
		return
	}
	o.opts.Observer.ObservePipelineRun(Outcome(err), dur)
}

// Outcome names err for metrics.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k := core.KindOf(err); k != core.KindUnknown {
		return string(k)
	}
	return "unknown"
}
