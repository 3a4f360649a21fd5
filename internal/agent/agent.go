// Package agent is the Facade: the single entry point every transport
// (gRPC, HTTP, CLI) drives instead of touching internal/store,
// internal/search, internal/enrichment, or internal/workingmemory
// directly. It owns per-robot working memory, validates every request,
// and composes the long-term store with hybrid search and the
// enrichment pipeline into the six operations a robot actually needs:
// remember, recall, forget, restore, retrieve, and context assembly.
package agent

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"htm-memory/internal/apperrors"
	"htm-memory/internal/breaker"
	"htm-memory/internal/domain/node"
	"htm-memory/internal/domain/robot"
	"htm-memory/internal/enrichment"
	"htm-memory/internal/jobs"
	"htm-memory/internal/search"
	"htm-memory/internal/store"
	"htm-memory/internal/tagengine"
	"htm-memory/internal/timeframe"
	"htm-memory/internal/tokencount"
	"htm-memory/internal/workingmemory"
)

// RememberRequest saves new content under a robot's identity.
type RememberRequest struct {
	RobotID    int64                  `validate:"required"`
	Content    string                 `validate:"required,min=1,max=1000000"`
	Importance float64                `validate:"gte=0,lte=10"`
	Tags       []string               `validate:"max=1000,dive,tagname"`
	Metadata   map[string]interface{}
}

// RecallRequest runs a hybrid search scoped to a robot's view of memory.
type RecallRequest struct {
	RobotID   int64  `validate:"required"`
	Query     string `validate:"max=1000000"`
	Timeframe interface{}
	Tags      []string `validate:"max=1000,dive,tagname"`
	Strategy  string   `validate:"omitempty,oneof=recent frequent balanced"`
	Limit     int      `validate:"gte=0"`
}

// ForgetRequest soft- or hard-deletes a node.
type ForgetRequest struct {
	RobotID int64 `validate:"required"`
	NodeID  int64 `validate:"required"`
	Hard    bool
}

// RestoreRequest clears a soft-delete tombstone.
type RestoreRequest struct {
	RobotID int64 `validate:"required"`
	NodeID  int64 `validate:"required"`
}

// RetrieveRequest fetches a single node by id, bypassing search entirely.
type RetrieveRequest struct {
	RobotID int64 `validate:"required"`
	NodeID  int64 `validate:"required"`
}

// CreateContextRequest assembles a robot's working set into prompt text.
type CreateContextRequest struct {
	RobotID   int64  `validate:"required"`
	Strategy  string `validate:"required,oneof=recent frequent balanced"`
	MaxTokens int    `validate:"required,gt=0"`
}

// Facade is the Agent Facade. Build one with New and call its six
// operations; everything else in this module is a supporting seam.
type Facade struct {
	store     *store.Store
	tags      *store.TagStore
	robots    *store.RobotStore
	pipeline  *enrichment.Pipeline
	searcher  *search.Searcher
	embedding enrichment.EmbeddingProvider
	logger    *zap.Logger
	weekStart time.Weekday
	validate  *validator.Validate

	mu      sync.Mutex
	working map[robot.ID]*workingmemory.Memory
}

// New wires the Facade out of the long-term store, the three enrichment
// providers (any may be nil to disable that stage), and the background
// job runner the enrichment pipeline schedules its fan-out on.
func New(
	st *store.Store,
	tags *store.TagStore,
	robots *store.RobotStore,
	embedding enrichment.EmbeddingProvider,
	tagging enrichment.TagProvider,
	proposition enrichment.PropositionProvider,
	runner jobs.Runner,
	breakers *breaker.Registry,
	logger *zap.Logger,
) *Facade {
	if logger == nil {
		logger = zap.NewNop()
	}
	writer := newStoreWriter(st, tags, tokencount.Default)
	pipeline := enrichment.New(writer, embedding, tagging, proposition, runner, breakers, logger)
	searcher := search.New(vectorRetriever(st), fullTextRetriever(st), tagRetriever(st), fuzzyTagExtractor(tags), nil)

	validate := validator.New()
	validate.RegisterValidation("tagname", func(fl validator.FieldLevel) bool {
		return tagengine.Valid(fl.Field().String())
	})

	return &Facade{
		store:     st,
		tags:      tags,
		robots:    robots,
		pipeline:  pipeline,
		searcher:  searcher,
		embedding: embedding,
		logger:    logger,
		weekStart: time.Monday,
		validate:  validate,
		working:   make(map[robot.ID]*workingmemory.Memory),
	}
}

func (f *Facade) validateStruct(req interface{}) error {
	err := f.validate.Struct(req)
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		first := verrs[0]
		return apperrors.NewValidation(first.Field(), first.Tag())
	}
	return apperrors.NewValidation("", err.Error())
}

func (f *Facade) resolveRobot(ctx context.Context, robotID int64) (*robot.Robot, error) {
	return f.robots.FindByID(ctx, robot.ID(robotID))
}

func (f *Facade) workingMemoryFor(id robot.ID) *workingmemory.Memory {
	f.mu.Lock()
	defer f.mu.Unlock()
	mem, ok := f.working[id]
	if !ok {
		mem = workingmemory.New()
		f.working[id] = mem
	}
	return mem
}

func nodeKey(id node.ID) string { return strconv.FormatInt(int64(id), 10) }

// Remember saves content, runs it through the enrichment pipeline, and
// admits it into the calling robot's working set, evicting older entries
// under the hybrid LFU+LRU score if the robot's token budget is full.
func (f *Facade) Remember(ctx context.Context, req RememberRequest) (*node.Node, error) {
	if err := f.validateStruct(req); err != nil {
		return nil, err
	}
	rb, err := f.resolveRobot(ctx, req.RobotID)
	if err != nil {
		return nil, err
	}

	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadata["importance"] = req.Importance

	n, err := f.pipeline.Enrich(ctx, req.Content, tokencount.Default(req.Content), metadata)
	if err != nil {
		return nil, err
	}

	if len(req.Tags) > 0 {
		if err := f.pipeline.Writer.AttachTags(ctx, n.ID(), req.Tags); err != nil {
			f.logger.Warn("attaching requested tags failed", zap.Int64("node_id", int64(n.ID())), zap.Error(err))
		}
	}

	if err := f.robots.Remember(ctx, rb.ID(), n.ID(), true); err != nil {
		return nil, err
	}

	mem := f.workingMemoryFor(rb.ID())
	if !mem.HasSpace(n.TokenCount(), rb.MaxTokens()) {
		for _, evicted := range mem.EvictToMakeSpace(n.TokenCount()) {
			if id, err := strconv.ParseInt(evicted.Key, 10, 64); err == nil {
				if err := f.robots.ClearWorkingMemory(ctx, rb.ID(), node.ID(id)); err != nil {
					f.logger.Warn("clearing evicted working-memory flag failed", zap.Int64("node_id", id), zap.Error(err))
				}
			}
		}
	}
	mem.Add(nodeKey(n.ID()), n.Content(), n.TokenCount(), 1, false)

	return n, nil
}

// recallTimeframe converts a normalized timeframe.Value to the half-open
// interval search's retrievers filter on.
func recallTimeframe(v *timeframe.Value) *search.Timeframe {
	if v == nil {
		return nil
	}
	if v.Range != nil {
		return &search.Timeframe{Since: &v.Range.Start, Until: &v.Range.End}
	}
	return &search.Timeframe{Since: v.Point}
}

// Recall runs hybrid search scoped to req's query, tags, and timeframe,
// then refreshes working-memory recency for every node already resident
// in the robot's working set.
func (f *Facade) Recall(ctx context.Context, req RecallRequest) ([]search.Result, error) {
	if err := f.validateStruct(req); err != nil {
		return nil, err
	}
	rb, err := f.resolveRobot(ctx, req.RobotID)
	if err != nil {
		return nil, err
	}

	tfValue, query, err := timeframe.NormalizeAuto(req.Timeframe, req.Query, time.Now(), f.weekStart)
	if err != nil {
		return nil, err
	}

	var embedding []float32
	if f.embedding != nil && query != "" {
		embedding, err = f.embedding.Embed(ctx, query)
		if err != nil {
			f.logger.Warn("query embedding failed, falling back to text/tag retrieval", zap.Error(err))
			embedding = nil
		}
	}

	results, err := f.searcher.Hybrid(ctx, search.Request{
		QueryText:      query,
		QueryEmbedding: embedding,
		ExtractedTags:  req.Tags,
		Timeframe:      recallTimeframe(tfValue),
		Limit:          req.Limit,
	})
	if err != nil {
		return nil, err
	}

	mem := f.workingMemoryFor(rb.ID())
	for _, r := range results {
		if err := f.robots.Remember(ctx, rb.ID(), r.NodeID, mem.Contains(nodeKey(r.NodeID))); err != nil {
			f.logger.Warn("recording recall access failed", zap.Int64("node_id", int64(r.NodeID)), zap.Error(err))
		}
		mem.Touch(nodeKey(r.NodeID))
	}
	return results, nil
}

// Forget soft- or hard-deletes a node and drops it from the robot's
// working set. A hard delete is irreversible; a soft delete can be undone
// with Restore until it is eventually purged.
func (f *Facade) Forget(ctx context.Context, req ForgetRequest) error {
	if err := f.validateStruct(req); err != nil {
		return err
	}
	rb, err := f.resolveRobot(ctx, req.RobotID)
	if err != nil {
		return err
	}
	if err := f.store.Forget(ctx, node.ID(req.NodeID), req.Hard); err != nil {
		return err
	}
	if err := f.robots.ClearWorkingMemory(ctx, rb.ID(), node.ID(req.NodeID)); err != nil {
		f.logger.Warn("clearing working-memory flag on forget failed", zap.Int64("node_id", req.NodeID), zap.Error(err))
	}
	f.workingMemoryFor(rb.ID()).Remove(nodeKey(node.ID(req.NodeID)))
	return nil
}

// Restore clears a node's soft-delete tombstone.
func (f *Facade) Restore(ctx context.Context, req RestoreRequest) error {
	if err := f.validateStruct(req); err != nil {
		return err
	}
	if _, err := f.resolveRobot(ctx, req.RobotID); err != nil {
		return err
	}
	return f.store.Restore(ctx, node.ID(req.NodeID))
}

// Retrieve fetches a single node directly by id, without going through
// hybrid search, and refreshes its working-memory recency if resident.
func (f *Facade) Retrieve(ctx context.Context, req RetrieveRequest) (*node.Node, error) {
	if err := f.validateStruct(req); err != nil {
		return nil, err
	}
	rb, err := f.resolveRobot(ctx, req.RobotID)
	if err != nil {
		return nil, err
	}
	n, err := f.store.FindByID(ctx, node.ID(req.NodeID))
	if err != nil {
		return nil, err
	}
	if err := f.robots.Remember(ctx, rb.ID(), n.ID(), false); err != nil {
		f.logger.Warn("recording retrieve access failed", zap.Int64("node_id", int64(n.ID())), zap.Error(err))
	}
	f.workingMemoryFor(rb.ID()).Touch(nodeKey(n.ID()))
	return n, nil
}

// CreateContext assembles the robot's current working set into prompt
// text under the requested ordering strategy and token budget.
func (f *Facade) CreateContext(ctx context.Context, req CreateContextRequest) (string, error) {
	if err := f.validateStruct(req); err != nil {
		return "", err
	}
	rb, err := f.resolveRobot(ctx, req.RobotID)
	if err != nil {
		return "", err
	}
	mem := f.workingMemoryFor(rb.ID())
	return mem.AssembleContext(workingmemory.Strategy(req.Strategy), req.MaxTokens)
}
