// Package pipeline runs the four keyword stages in order under the workflow
// status tracker, so an interrupted workflow resumes at the step it stopped on.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dvernon0786/Infin8Content-sub000/internal/cluster"
	"github.com/dvernon0786/Infin8Content-sub000/internal/expander"
	"github.com/dvernon0786/Infin8Content-sub000/internal/extractor"
	"github.com/dvernon0786/Infin8Content-sub000/internal/filter"
	"github.com/dvernon0786/Infin8Content-sub000/internal/keyword"
	"github.com/dvernon0786/Infin8Content-sub000/internal/logging"
	"github.com/dvernon0786/Infin8Content-sub000/internal/retry"
	"github.com/dvernon0786/Infin8Content-sub000/internal/workflow"
)

// ErrStageNotConfigured is returned when the stage for a step was not wired,
// typically because provider credentials are missing.
var ErrStageNotConfigured = errors.New("stage not configured")

// Options carries the per-stage options.
type Options struct {
	Extraction extractor.Options
	Expansion  expander.Options
	Filter     filter.Options
	Clustering cluster.Options
}

// DefaultOptions returns each stage's defaults.
func DefaultOptions() Options {
	return Options{
		Extraction: extractor.DefaultOptions(),
		Expansion:  expander.DefaultOptions(),
		Filter:     filter.DefaultOptions(),
		Clustering: cluster.DefaultOptions(),
	}
}

// Input identifies the workflow to run.
type Input struct {
	WorkflowID     string
	OrganizationID string
	// Competitors are only needed by the seed extraction step.
	Competitors []keyword.Competitor
}

// Report collects the output of every step run by one call. Steps that did
// not run are nil.
type Report struct {
	WorkflowID string                 `json:"workflow_id"`
	Extraction *extractor.Summary     `json:"extraction,omitempty"`
	Expansion  *expander.Summary      `json:"expansion,omitempty"`
	Filter     *filter.Result         `json:"filter,omitempty"`
	Clustering *cluster.Result        `json:"clustering,omitempty"`
	Status     keyword.WorkflowStatus `json:"status"`
}

// Runner executes workflow steps.
type Runner struct {
	tracker   *workflow.Tracker
	extractor *extractor.Extractor
	expander  *expander.Expander
	filter    *filter.Filter
	clusterer *cluster.Clusterer
	opts      Options
	logger    *zap.Logger
}

// New constructs a Runner. ext and exp may be nil when no keyword-data
// provider is available; their steps then fail with ErrStageNotConfigured
// without touching the workflow.
func New(
	tracker *workflow.Tracker,
	ext *extractor.Extractor,
	exp *expander.Expander,
	flt *filter.Filter,
	clusterer *cluster.Clusterer,
	opts Options,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		tracker:   tracker,
		extractor: ext,
		expander:  exp,
		filter:    flt,
		clusterer: clusterer,
		opts:      opts,
		logger:    logger.Named("pipeline"),
	}
}

// Run starts the workflow if needed and runs every remaining step. A failed
// workflow resumes at its failed step; work committed by earlier steps is not
// repeated.
func (r *Runner) Run(ctx context.Context, in Input) (Report, error) {
	report := Report{WorkflowID: in.WorkflowID}
	status, err := r.tracker.Start(ctx, in.WorkflowID, in.OrganizationID)
	if err != nil {
		return report, err
	}
	for step := status.ResumeStep(); step != ""; step = status.ResumeStep() {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("run workflow: %w", err)
		}
		status, err = r.runStep(ctx, in, step, &report)
		if err != nil {
			return report, err
		}
	}
	report.Status = status
	return report, nil
}

// RunStep runs a single step. The workflow must be at step or failed at it.
func (r *Runner) RunStep(ctx context.Context, in Input, step keyword.WorkflowState) (Report, error) {
	report := Report{WorkflowID: in.WorkflowID}
	if !step.IsStep() {
		return report, fmt.Errorf("%q is not a workflow step", step)
	}
	if _, err := r.tracker.Start(ctx, in.WorkflowID, in.OrganizationID); err != nil {
		return report, err
	}
	_, err := r.runStep(ctx, in, step, &report)
	return report, err
}

func (r *Runner) runStep(ctx context.Context, in Input, step keyword.WorkflowState, report *Report) (keyword.WorkflowStatus, error) {
	if !r.configured(step) {
		return keyword.WorkflowStatus{}, fmt.Errorf("%w: %s", ErrStageNotConfigured, step)
	}
	logger := logging.WithWorkflow(r.logger, in.WorkflowID, in.OrganizationID).With(zap.String("step", string(step)))
	run, err := r.tracker.BeginStep(ctx, in.WorkflowID, in.OrganizationID, step)
	if err != nil {
		return keyword.WorkflowStatus{}, err
	}
	logger.Info("step started")

	if err := r.execute(ctx, in, run, report); err != nil {
		logger.Error("step failed", zap.Int("retries", run.Retries()), zap.Error(err))
		return keyword.WorkflowStatus{}, run.Fail(ctx, err)
	}
	status, err := run.Complete(ctx)
	if err != nil {
		return keyword.WorkflowStatus{}, fmt.Errorf("complete %s: %w", step, err)
	}
	report.Status = status
	logger.Info("step completed", zap.Int("retries", run.Retries()), zap.String("next", string(status.State)))
	return status, nil
}

func (r *Runner) configured(step keyword.WorkflowState) bool {
	switch step {
	case keyword.StateSeedExtraction:
		return r.extractor != nil
	case keyword.StateLongtailExpansion:
		return r.expander != nil
	case keyword.StateKeywordFiltering:
		return r.filter != nil
	case keyword.StateTopicClustering:
		return r.clusterer != nil
	default:
		return false
	}
}

func (r *Runner) execute(ctx context.Context, in Input, run *workflow.StepRun, report *Report) error {
	hook := []retry.Option{run.RetryHook()}
	switch run.Step() {
	case keyword.StateSeedExtraction:
		opts := r.opts.Extraction
		opts.RetryOptions = append(hook, opts.RetryOptions...)
		summary, err := r.extractor.ExtractSeedKeywords(ctx, in.Competitors, in.OrganizationID, in.WorkflowID, opts)
		report.Extraction = &summary
		return err
	case keyword.StateLongtailExpansion:
		opts := r.opts.Expansion
		opts.RetryOptions = append(hook, opts.RetryOptions...)
		summary, err := r.expander.ExpandSeedKeywordsToLongtails(ctx, in.WorkflowID, opts)
		report.Expansion = &summary
		return err
	case keyword.StateKeywordFiltering:
		res, err := r.filter.FilterKeywords(ctx, in.WorkflowID, in.OrganizationID, r.opts.Filter)
		report.Filter = &res
		return err
	case keyword.StateTopicClustering:
		res, err := r.clusterer.ClusterKeywords(ctx, in.WorkflowID, r.opts.Clustering)
		report.Clustering = &res
		return err
	default:
		return errors.New("unknown step " + string(run.Step()))
	}
}
