package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dvernon0786/Infin8Content-sub000/internal/id/uuid"
	"github.com/dvernon0786/Infin8Content-sub000/internal/keyword"
	"github.com/dvernon0786/Infin8Content-sub000/internal/pipeline"
)

type workflowFlags struct {
	workflowID  string
	orgID       string
	competitors string
}

// bind registers the flags. Commands that start workflows take competitors and
// generate a workflow ID when none is given.
func (f *workflowFlags) bind(cmd *cobra.Command, starts bool) {
	cmd.Flags().StringVar(&f.workflowID, "workflow-id", "", "workflow to operate on")
	cmd.Flags().StringVar(&f.orgID, "org-id", "", "organization owning the workflow")
	_ = cmd.MarkFlagRequired("org-id")
	if starts {
		cmd.Flags().StringVar(&f.competitors, "competitors", "", "YAML file listing competitors (id, url, domain)")
		return
	}
	_ = cmd.MarkFlagRequired("workflow-id")
}

func (f *workflowFlags) input() (pipeline.Input, error) {
	if f.workflowID == "" {
		id, err := uuid.New().NewID()
		if err != nil {
			return pipeline.Input{}, err
		}
		f.workflowID = id
	}
	in := pipeline.Input{WorkflowID: f.workflowID, OrganizationID: f.orgID}
	if f.competitors == "" {
		return in, nil
	}
	competitors, err := loadCompetitors(f.competitors)
	if err != nil {
		return in, err
	}
	in.Competitors = competitors
	return in, nil
}

// loadCompetitors accepts either a bare list or a {competitors: [...]} document.
func loadCompetitors(path string) ([]keyword.Competitor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read competitors: %w", err)
	}
	var list []keyword.Competitor
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var doc struct {
		Competitors []keyword.Competitor `yaml:"competitors"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse competitors %s: %w", path, err)
	}
	return doc.Competitors, nil
}

func stepCommands() []*cobra.Command {
	specs := []struct {
		use, short string
		step       keyword.WorkflowState
		starts     bool
	}{
		{"extract", "Extract seed keywords from competitor domains", keyword.StateSeedExtraction, true},
		{"expand", "Expand seed keywords into longtails", keyword.StateLongtailExpansion, false},
		{"filter", "Remove duplicate and low-volume keywords", keyword.StateKeywordFiltering, false},
		{"cluster", "Group active keywords into hub-and-spoke clusters", keyword.StateTopicClustering, false},
	}
	out := make([]*cobra.Command, 0, len(specs))
	for _, s := range specs {
		flags := &workflowFlags{}
		step := s.step
		cmd := &cobra.Command{
			Use:   s.use,
			Short: s.short,
			RunE: func(cmd *cobra.Command, _ []string) error {
				appInstance, err := resolveApp(cmd.Context())
				if err != nil {
					return err
				}
				in, err := flags.input()
				if err != nil {
					return err
				}
				report, err := appInstance.Runner().RunStep(cmd.Context(), in, step)
				if werr := writeJSON(cmd.OutOrStdout(), report); werr != nil && err == nil {
					err = werr
				}
				return err
			},
		}
		flags.bind(cmd, s.starts)
		out = append(out, cmd)
	}
	return out
}

func newRunCmd() *cobra.Command {
	flags := &workflowFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every remaining step of a workflow",
		Long: `Runs the workflow from its current step to completion. A failed workflow
resumes at the step that failed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			in, err := flags.input()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			report, err := appInstance.Runner().Run(ctx, in)
			if werr := writeJSON(cmd.OutOrStdout(), report); werr != nil && err == nil {
				err = werr
			}
			return err
		},
	}
	flags.bind(cmd, true)
	return cmd
}

func newStatusCmd() *cobra.Command {
	var workflowID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print a workflow's status record",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			status, err := appInstance.Tracker().Get(cmd.Context(), workflowID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), status)
		},
	}
	cmd.Flags().StringVar(&workflowID, "workflow-id", "", "workflow to inspect")
	_ = cmd.MarkFlagRequired("workflow-id")
	return cmd
}

func newExportCmd() *cobra.Command {
	flags := &workflowFlags{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the workflow's cluster plan to the configured export backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			uri, plan, err := appInstance.Exporter().Export(cmd.Context(), flags.orgID, flags.workflowID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"uri": uri, "plan": plan})
		},
	}
	flags.bind(cmd, false)
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
