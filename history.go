package coordinator

import (
	"context"
	"sort"
	"time"

	"github.com/megastructure/coordinator/model/pipeline"
	"github.com/megastructure/coordinator/service/dao"
	"github.com/megastructure/coordinator/service/dao/store"
	"github.com/viant/afs"
)

// Record is one finished pipeline run
type Record struct {
	ID            string                 `json:"id"`
	PipelineID    string                 `json:"pipelineId"`
	ToolChain     pipeline.ToolChain     `json:"toolChain"`
	StartedAt     time.Time              `json:"startedAt"`
	Elapsed       time.Duration          `json:"elapsed"`
	Result        pipeline.Result        `json:"result"`
	Configuration pipeline.Configuration `json:"-"`
}

func recordKey(r *Record) string { return r.ID }

func newHistory(ctx context.Context, URL string, fs afs.Service) (dao.Service[string, Record], error) {
	if URL == "" {
		return store.NewMemoryStore[string, Record](recordKey), nil
	}
	files, err := store.NewFileStore[Record](ctx, URL, fs, recordKey)
	if err != nil {
		return nil, err
	}
	return files, nil
}

// History returns the recorded pipeline runs, most recent first
func (r *Root) History(ctx context.Context) ([]*Record, error) {
	records, err := r.history.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].StartedAt.After(records[j].StartedAt) })
	return records, nil
}
