// Package compiler drives a compile request through hashing, the cache,
// bundling and source map extraction.
package compiler

import (
	"context"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"

	"github.com/Norgate-AV/jsbundle/internal/bundle"
	"github.com/Norgate-AV/jsbundle/internal/cache"
	"github.com/Norgate-AV/jsbundle/internal/codes"
	"github.com/Norgate-AV/jsbundle/internal/logging"
	"github.com/Norgate-AV/jsbundle/internal/sourcemap"
)

// State is a step of a compile
type State string

const (
	Received      State = "Received"
	KeyComputed   State = "KeyComputed"
	CacheHit      State = "CacheHit"
	CacheMiss     State = "CacheMiss"
	Bundling      State = "Bundling"
	MapExtracting State = "MapExtracting"
	Storing       State = "Storing"
	Completed     State = "Completed"
	Failed        State = "Failed"
)

// maxDependencyHops bounds how many superseded entries a lookup follows
const maxDependencyHops = 8

// Bundler turns a request into raw bundle output
type Bundler interface {
	Bundle(ctx context.Context, req *bundle.Request) (*bundle.Output, error)
}

// Result is a successful compile
type Result struct {
	Key      digest.Digest
	Artifact *sourcemap.Artifact

	// CacheHit is true when the artifact was served from the store
	CacheHit bool

	// Warnings are recoverable failures: a map that could not be extracted
	// or a cache that could not be read or written
	Warnings []*codes.Diagnostic

	// State is always Completed
	State State
}

// Compiler runs compile requests against a shared cache
type Compiler struct {
	bundler Bundler
	cache   *cache.Coalescer
	log     logrus.FieldLogger
	timeout time.Duration
}

// Option configures a Compiler
type Option func(*Compiler)

// WithBundler replaces the esbuild bundler
func WithBundler(b Bundler) Option {
	return func(c *Compiler) {
		c.bundler = b
	}
}

// WithStore sets the cache store; without one nothing is cached
func WithStore(s cache.Store) Option {
	return func(c *Compiler) {
		c.cache = cache.NewCoalescer(s)
	}
}

// WithLogger sets the logger state transitions are written to
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Compiler) {
		c.log = l
	}
}

// WithTimeout bounds every compile, 0 means no bound beyond the caller's context
func WithTimeout(d time.Duration) Option {
	return func(c *Compiler) {
		c.timeout = d
	}
}

// New creates a compiler
func New(opts ...Option) *Compiler {
	c := &Compiler{
		bundler: bundle.NewBundler(),
		cache:   cache.NewCoalescer(nil),
		log:     logging.Discard(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Compile returns the artifact for req, from the cache when an identical
// request was compiled before. Concurrent compiles of identical requests
// share one bundle run. Exactly one of the return values is nil.
func (c *Compiler) Compile(ctx context.Context, req *bundle.Request) (*Result, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	log := c.log.WithFields(logging.RequestFields(logging.NewRequestID(), req))
	step(log, Received)

	if err := req.Validate(); err != nil {
		return nil, fail(log, err)
	}

	key, err := bundle.Hash(req)
	if err != nil {
		return nil, fail(log, err)
	}

	log = log.WithField(logging.FieldKey, key.String())
	step(log, KeyComputed)

	outcome, err := c.lookupFresh(ctx, log, key, req)
	if err != nil {
		return nil, fail(log, err)
	}

	switch {
	case outcome.Hit:
		step(log, CacheHit)
	case outcome.Shared:
		log.Debug("Joined an in-flight compile")
	}

	for _, w := range outcome.Warnings {
		log.WithField(logging.FieldKind, w.Kind).Warn(w.Error())
	}

	step(log, Completed)

	return &Result{
		Key:      key,
		Artifact: outcome.Artifact,
		CacheHit: outcome.Hit,
		Warnings: outcome.Warnings,
		State:    Completed,
	}, nil
}

// lookupFresh returns the cached artifact for key when the disk files it was
// built from are unchanged. When they changed it follows the dependency key
// for their current content, and compiles under the first key that misses.
func (c *Compiler) lookupFresh(ctx context.Context, log logrus.FieldLogger, key digest.Digest, req *bundle.Request) (*cache.Outcome, error) {
	lookupKey := key

	for hops := 0; ; hops++ {
		artifact, err := c.cache.Store().Lookup(ctx, lookupKey)
		if err != nil || artifact == nil {
			// Do looks up again and reports the store error as a warning
			break
		}

		current, changed, err := bundle.CheckInputs(req.Options().Root, artifact.Inputs)
		if err != nil {
			return nil, err
		}

		if len(changed) == 0 {
			return &cache.Outcome{Artifact: artifact, Hit: true}, nil
		}

		log.WithField("changed", changed).Debug("Dependencies changed since cached build")

		if hops == maxDependencyHops {
			log.Warn("Too many superseded cache entries, compiling without the cache")

			artifact, warnings, err := c.build(ctx, log, req)
			if err != nil {
				return nil, err
			}

			return &cache.Outcome{Artifact: artifact, Warnings: warnings}, nil
		}

		lookupKey = bundle.DependencyKey(key, current)
	}

	return c.cache.Do(ctx, lookupKey, func(ctx context.Context) (*sourcemap.Artifact, []*codes.Diagnostic, error) {
		return c.build(ctx, log, req)
	})
}

// build runs on a cache miss; only the producer of a coalesced key gets here
func (c *Compiler) build(ctx context.Context, log logrus.FieldLogger, req *bundle.Request) (*sourcemap.Artifact, []*codes.Diagnostic, error) {
	step(log, CacheMiss)
	step(log, Bundling)

	out, err := c.bundler.Bundle(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	for _, w := range out.Warnings {
		log.Warn(w)
	}

	step(log, MapExtracting)

	opts := req.Options()
	artifact, err := sourcemap.NewExtractor(opts.Root, opts.BundleName).Extract(out.Code, out.Map)

	var warnings []*codes.Diagnostic
	if err != nil {
		d, ok := codes.As(err)
		if !ok {
			d = codes.Wrap(codes.SourceMapExtractionError, err, "source map unavailable")
		}

		if opts.SourceMapsRequired || !codes.IsRecoverable(d.Kind) {
			return nil, nil, d
		}
		warnings = append(warnings, d)
	}

	artifact.Inputs = out.Inputs

	step(log, Storing)

	return artifact, warnings, nil
}

func step(log logrus.FieldLogger, s State) {
	log.WithField(logging.FieldState, s).Debug("Compile state")
}

func fail(log logrus.FieldLogger, err error) error {
	log.WithFields(logrus.Fields{
		logging.FieldState: Failed,
		logging.FieldKind:  codes.KindOf(err),
	}).Error(err.Error())

	return err
}
