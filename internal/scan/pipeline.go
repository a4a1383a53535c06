package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/quickscan/internal/capture"
	"github.com/zombor/quickscan/internal/scanning"
)

// ErrDraftNotFound is returned for unknown, finalized or discarded drafts
var ErrDraftNotFound = errors.New("draft not found")

// DefaultEnhanceTimeout bounds a single enhancement attempt
const DefaultEnhanceTimeout = 30 * time.Second

// Library receives finalized scans
type Library interface {
	Add(result Result) error
}

// IDGenerator generates unique IDs for drafts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// entry is the pipeline's private record of a draft. attempt is the
// generation counter: only an outcome tagged with the current attempt is applied.
type entry struct {
	draft   Draft
	attempt uint64
	cancel  context.CancelFunc
	settled chan struct{}
}

// settle releases waiters and cancels the in-flight attempt, if any
func (e *entry) settle() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	if e.settled != nil {
		close(e.settled)
		e.settled = nil
	}
}

type outcome struct {
	enhancement *scanning.Enhancement
	err         error
}

// Pipeline drives drafts from capture to finalize or discard
type Pipeline struct {
	enhancer    scanning.Enhancer
	library     Library
	idGenerator IDGenerator
	timeSource  TimeSource
	timeout     time.Duration

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu     sync.Mutex
	drafts map[string]*entry
}

// NewPipeline creates a new Pipeline with default ID generator and time source
func NewPipeline(enhancer scanning.Enhancer, library Library, timeout time.Duration) *Pipeline {
	return NewPipelineWithDeps(enhancer, library, timeout, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewPipelineWithDeps creates a new Pipeline with custom dependencies for testing
func NewPipelineWithDeps(enhancer scanning.Enhancer, library Library, timeout time.Duration, idGen IDGenerator, timeSrc TimeSource) *Pipeline {
	if timeout <= 0 {
		timeout = DefaultEnhanceTimeout
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Pipeline{
		enhancer:    enhancer,
		library:     library,
		idGenerator: idGen,
		timeSource:  timeSrc,
		timeout:     timeout,
		ctx:         ctx,
		stop:        stop,
		drafts:      make(map[string]*entry),
	}
}

// Capture creates a draft for the image and immediately starts its
// enhancement attempt. The returned snapshot is in the enhancing state.
func (p *Pipeline) Capture(img capture.Image) (Draft, error) {
	if len(img.Data) == 0 {
		return Draft{}, &capture.Failure{Reason: capture.ReasonOther, Err: errors.New("empty image")}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	e := &entry{
		draft: Draft{
			ID:        p.idGenerator.Generate(),
			Original:  img,
			CreatedAt: p.timeSource.Now().UTC(),
			State:     StateCaptured,
		},
	}
	if _, exists := p.drafts[e.draft.ID]; exists {
		return Draft{}, fmt.Errorf("draft id collision: %s", e.draft.ID)
	}
	p.drafts[e.draft.ID] = e

	if err := p.startAttempt(e); err != nil {
		delete(p.drafts, e.draft.ID)
		return Draft{}, err
	}

	slog.Info("Captured draft", "draft_id", e.draft.ID, "content_type", img.ContentType, "size", img.Size())
	return e.draft.clone(), nil
}

// startAttempt must be called with p.mu held
func (p *Pipeline) startAttempt(e *entry) error {
	next, err := Transition(e.draft.State, EventEnhance)
	if err != nil {
		return err
	}

	// Supersede whatever was in flight
	e.settle()

	e.attempt++
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	e.cancel = cancel
	e.settled = make(chan struct{})
	e.draft.State = next
	e.draft.Attempt = e.attempt

	p.wg.Add(1)
	go p.runAttempt(ctx, e.draft.ID, e.attempt, e.draft.Original)
	return nil
}

func (p *Pipeline) runAttempt(ctx context.Context, id string, attempt uint64, img capture.Image) {
	defer p.wg.Done()

	results := make(chan outcome, 1)
	go func() {
		enhancement, err := p.enhancer.Enhance(ctx, img)
		results <- outcome{enhancement: enhancement, err: err}
	}()

	var o outcome
	select {
	case o = <-results:
	case <-ctx.Done():
		o = outcome{err: fmt.Errorf("%w: %w", scanning.ErrFailed, ctx.Err())}
	}

	p.resolve(id, attempt, o)
}

// resolve applies an attempt's outcome unless it has been superseded
func (p *Pipeline) resolve(id string, attempt uint64, o outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	logger := slog.With("draft_id", id, "attempt", attempt)

	e, ok := p.drafts[id]
	if !ok || e.attempt != attempt || e.draft.State != StateEnhancing {
		logger.Debug("Discarding stale enhancement outcome")
		return
	}

	if o.err == nil && o.enhancement == nil {
		o.err = fmt.Errorf("%w: empty enhancement", scanning.ErrFailed)
	}

	if o.err != nil {
		if errors.Is(o.err, scanning.ErrUnavailable) {
			logger.Info("Enhancement unavailable, using basic mode")
		} else {
			logger.Warn("Enhancement failed, using basic mode", "error", o.err)
		}
		p.degrade(e, EventEnhanceFailed)
		return
	}

	next, err := Transition(e.draft.State, EventEnhanceSucceeded)
	if err != nil {
		logger.Error("Unexpected transition", "error", err)
		return
	}
	e.draft.Enhancement = &Enhancement{
		Title:          o.enhancement.Title,
		OCRText:        o.enhancement.OCRContent,
		QualityScore:   o.enhancement.QualityScore,
		ProcessedImage: e.draft.Original.Data,
	}
	e.draft.Title = o.enhancement.Title
	e.draft.Degraded = false
	e.draft.State = next
	e.settle()
	logger.Info("Enhancement applied", "quality_score", o.enhancement.QualityScore)
}

// degrade must be called with p.mu held
func (p *Pipeline) degrade(e *entry, ev Event) {
	next, err := Transition(e.draft.State, ev)
	if err != nil {
		return
	}
	e.draft.Enhancement = nil
	e.draft.Degraded = true
	e.draft.Title = fallbackTitle(p.timeSource.Now())
	e.draft.State = next
	e.settle()
}

func (p *Pipeline) lookup(id string) (*entry, error) {
	e, ok := p.drafts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDraftNotFound, id)
	}
	return e, nil
}

// Draft returns a snapshot of the draft
func (p *Pipeline) Draft(id string) (Draft, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, err := p.lookup(id)
	if err != nil {
		return Draft{}, err
	}
	return e.draft.clone(), nil
}

// Wait blocks until the draft leaves the enhancing state, then returns a snapshot
func (p *Pipeline) Wait(ctx context.Context, id string) (Draft, error) {
	for {
		p.mu.Lock()
		e, err := p.lookup(id)
		if err != nil {
			p.mu.Unlock()
			return Draft{}, err
		}
		if e.draft.State != StateEnhancing {
			d := e.draft.clone()
			p.mu.Unlock()
			return d, nil
		}
		settled := e.settled
		p.mu.Unlock()

		select {
		case <-settled:
		case <-ctx.Done():
			return Draft{}, ctx.Err()
		}
	}
}

// Skip abandons the in-flight attempt and puts the draft in basic mode
func (p *Pipeline) Skip(id string) (Draft, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, err := p.lookup(id)
	if err != nil {
		return Draft{}, err
	}
	if _, err := Transition(e.draft.State, EventSkip); err != nil {
		return Draft{}, err
	}

	// Bump the generation so a late outcome of the skipped attempt is ignored
	e.attempt++
	e.draft.Attempt = e.attempt
	p.degrade(e, EventSkip)
	slog.Info("Enhancement skipped", "draft_id", id)
	return e.draft.clone(), nil
}

// Retry issues a fresh single attempt, superseding any attempt in flight
func (p *Pipeline) Retry(id string) (Draft, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, err := p.lookup(id)
	if err != nil {
		return Draft{}, err
	}
	if err := p.startAttempt(e); err != nil {
		return Draft{}, err
	}
	slog.Info("Enhancement retried", "draft_id", id, "attempt", e.attempt)
	return e.draft.clone(), nil
}

// Rename sets the user-edited title
func (p *Pipeline) Rename(id, title string) (Draft, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, err := p.lookup(id)
	if err != nil {
		return Draft{}, err
	}
	next, err := Transition(e.draft.State, EventRename)
	if err != nil {
		return Draft{}, err
	}
	e.draft.Title = title
	e.draft.State = next
	return e.draft.clone(), nil
}

// Preview builds the result the draft would finalize into, without finalizing it
func (p *Pipeline) Preview(id string) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, err := p.lookup(id)
	if err != nil {
		return Result{}, err
	}
	if !e.draft.State.Ready() {
		return Result{}, fmt.Errorf("%w: preview from %s", ErrInvalidTransition, e.draft.State)
	}
	return newResult(e.draft, p.timeSource.Now()), nil
}

// Finalize converts the draft into a Result and adds it to the library.
// If the library rejects it the draft stays ready so the user can retry.
func (p *Pipeline) Finalize(id string) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, err := p.lookup(id)
	if err != nil {
		return Result{}, err
	}
	if _, err := Transition(e.draft.State, EventFinalize); err != nil {
		return Result{}, err
	}

	result := newResult(e.draft, p.timeSource.Now())
	if err := p.library.Add(result); err != nil {
		return Result{}, fmt.Errorf("adding scan to library: %w", err)
	}

	e.draft.State = StateFinalized
	e.settle()
	delete(p.drafts, id)
	slog.Info("Draft finalized", "draft_id", id, "title", result.Title, "file_size", result.FileSize)
	return result, nil
}

// Discard destroys the draft. A late enhancement outcome is ignored.
func (p *Pipeline) Discard(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, err := p.lookup(id)
	if err != nil {
		return err
	}
	next, err := Transition(e.draft.State, EventDiscard)
	if err != nil {
		return err
	}
	e.draft.State = next
	e.settle()
	delete(p.drafts, id)
	slog.Info("Draft discarded", "draft_id", id)
	return nil
}

// Close cancels every in-flight attempt and waits for them to stop
func (p *Pipeline) Close() {
	p.stop()
	p.wg.Wait()
}
