package progress

import (
	"context"
	"sync"
	"time"

	"github.com/megastructure/coordinator/internal/clock"
)

// maxMessages bounds the JobProgress messages retained per run
const maxMessages = 64

// Delta represents an incremental counter change emitted by the scheduler or
// a worker. Fields are signed and can be positive or negative.
type Delta struct {
	Total      int
	Dispatched int
	Completed  int
	Failed     int
	InFlight   int
}

// Progress keeps aggregated task counters for one pipeline run. It is safe
// for concurrent use.
type Progress struct {
	RunID      string
	PipelineID string
	StartedAt  time.Time

	TotalTasks      int
	DispatchedTasks int
	CompletedTasks  int
	FailedTasks     int
	InFlightTasks   int
	Messages        []string

	sync.Mutex
	onChange func(Progress)
}

// Update applies the supplied delta. The onChange callback runs outside the
// lock with a copy of the counters.
func (p *Progress) Update(d Delta) {
	if p == nil {
		return
	}
	p.Lock()
	p.TotalTasks += d.Total
	p.DispatchedTasks += d.Dispatched
	p.CompletedTasks += d.Completed
	p.FailedTasks += d.Failed
	p.InFlightTasks += d.InFlight
	snapshot := p.copy()
	cb := p.onChange
	p.Unlock()
	if cb != nil {
		cb(snapshot)
	}
}

// Note records an informational worker message, keeping the latest ones
func (p *Progress) Note(message string) {
	if p == nil {
		return
	}
	p.Lock()
	p.Messages = append(p.Messages, message)
	if len(p.Messages) > maxMessages {
		p.Messages = p.Messages[len(p.Messages)-maxMessages:]
	}
	snapshot := p.copy()
	cb := p.onChange
	p.Unlock()
	if cb != nil {
		cb(snapshot)
	}
}

// Snapshot returns a copy of the tracker suitable for read-only inspection.
func (p *Progress) Snapshot() Progress {
	if p == nil {
		return Progress{}
	}
	p.Lock()
	defer p.Unlock()
	return p.copy()
}

func (p *Progress) copy() Progress {
	return Progress{
		RunID:           p.RunID,
		PipelineID:      p.PipelineID,
		StartedAt:       p.StartedAt,
		TotalTasks:      p.TotalTasks,
		DispatchedTasks: p.DispatchedTasks,
		CompletedTasks:  p.CompletedTasks,
		FailedTasks:     p.FailedTasks,
		InFlightTasks:   p.InFlightTasks,
		Messages:        append([]string(nil), p.Messages...),
	}
}

// OnChange registers a callback invoked after every update. Passing nil
// disables it.
func (p *Progress) OnChange(cb func(Progress)) {
	if p == nil {
		return
	}
	p.Lock()
	p.onChange = cb
	p.Unlock()
}

type trackerKeyT struct{}

var trackerKey trackerKeyT

// New creates a tracker for a pipeline run
func New(runID, pipelineID string) *Progress {
	return &Progress{RunID: runID, PipelineID: pipelineID, StartedAt: clock.Now()}
}

// WithTracker embeds tracker in a derived context
func WithTracker(ctx context.Context, tracker *Progress) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, trackerKey, tracker)
}

// WithNewTracker creates a tracker, embeds it in a derived context and
// returns both.
func WithNewTracker(ctx context.Context, runID, pipelineID string, onChange func(Progress)) (context.Context, *Progress) {
	tracker := New(runID, pipelineID)
	tracker.onChange = onChange
	return WithTracker(ctx, tracker), tracker
}

// FromContext extracts the tracker from ctx
func FromContext(ctx context.Context) (*Progress, bool) {
	if ctx == nil {
		return nil, false
	}
	tr, ok := ctx.Value(trackerKey).(*Progress)
	return tr, ok
}

// UpdateCtx applies d to the tracker carried by ctx, if any
func UpdateCtx(ctx context.Context, d Delta) {
	if tr, ok := FromContext(ctx); ok {
		tr.Update(d)
	}
}
