// Package decomposer implements the Task Decomposer: simple tasks pass
// through as a single subtask, more complex tasks run a template-guided
// procedure per dominant domain with an inference-backed refinement pass,
// grounded on the teacher's decompose activity's shape (template lookup,
// LLM refinement with a timeout, fallback to the template verbatim) but
// talking to the local inference client instead of a remote service.
package decomposer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/taskmesh/orchestrator/internal/analyzer"
	"github.com/taskmesh/orchestrator/internal/inference"
	"github.com/taskmesh/orchestrator/internal/templates"
)

// Subtask mirrors the teacher's activities.Subtask field set, generalized
// to carry a persona assignment instead of tool/LLM-routing metadata.
type Subtask struct {
	ID                   string
	ParentTaskID         string
	Description          string
	Domain               string
	Dependencies         []string
	EstimatedTokens      int
	SuggestedPersonaRole string
	SuggestedPersonaID   string
}

// Refiner is the subset of the inference client the decomposer depends
// on to rewrite template descriptions with task-specific detail.
type Refiner interface {
	Chat(ctx context.Context, model string, messages []inference.Message, opts inference.Options) (string, error)
}

// Recommender fills in a suggested persona id for a subtask before the
// orchestrator asks the Persona Store for a match, per the Delegation
// Optimizer's recommend() contract.
type Recommender interface {
	Recommend(domain, roleHint string) (string, bool)
}

// Decomposer produces subtasks from an analyzed task.
type Decomposer struct {
	registry      *templates.Registry
	refiner       Refiner
	refineModel   string
	recommender   Recommender
	refineTimeout time.Duration
	logger        *zap.Logger
}

// Config configures a Decomposer.
type Config struct {
	Registry      *templates.Registry
	Refiner       Refiner
	RefineModel   string
	Recommender   Recommender
	RefineTimeout time.Duration
}

// New creates a Decomposer. RefineTimeout defaults to 10 seconds.
func New(cfg Config, logger *zap.Logger) *Decomposer {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.RefineTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Decomposer{
		registry:      cfg.Registry,
		refiner:       cfg.Refiner,
		refineModel:   cfg.RefineModel,
		recommender:   cfg.Recommender,
		refineTimeout: timeout,
		logger:        logger,
	}
}

// Decompose turns taskText into an ordered set of subtasks per analysis.
// Simple tasks yield exactly one subtask, the original text verbatim.
func (d *Decomposer) Decompose(ctx context.Context, taskID, taskText string, a analyzer.Analysis) ([]Subtask, error) {
	if a.Complexity == analyzer.Simple {
		domain := "other"
		if len(a.Domains) > 0 {
			domain = a.Domains[0]
		}
		return []Subtask{d.finalize(Subtask{
			ID:           taskID + ".0",
			ParentTaskID: taskID,
			Description:  taskText,
			Domain:       domain,
		})}, nil
	}

	var out []Subtask
	for _, domain := range a.Domains {
		plan, err := d.planFor(domain)
		if err != nil {
			return nil, fmt.Errorf("resolve template for domain %q: %w", domain, err)
		}

		idFor := func(nodeID string) string {
			return fmt.Sprintf("%s.%s.%s", taskID, domain, nodeID)
		}

		for _, nodeID := range plan.Order {
			node := plan.Nodes[nodeID]
			description := d.refine(ctx, taskText, node.Description)

			deps := make([]string, 0, len(node.DependsOn))
			for _, dep := range node.DependsOn {
				deps = append(deps, idFor(dep))
			}

			out = append(out, d.finalize(Subtask{
				ID:                   idFor(nodeID),
				ParentTaskID:         taskID,
				Description:          description,
				Domain:               domain,
				Dependencies:         deps,
				EstimatedTokens:      node.EstimatedTokens,
				SuggestedPersonaRole: node.SuggestedPersonaRole,
			}))
		}
	}
	return out, nil
}

// planFor compiles the domain's registered template, falling back to the
// generic "other" template when no domain-specific template is loaded.
func (d *Decomposer) planFor(domain string) (*templates.ExecutablePlan, error) {
	lookupNames := []string{domain, "other"}
	for _, name := range lookupNames {
		if d.registry == nil {
			break
		}
		entry, ok := d.registry.Find(name, "")
		if !ok {
			continue
		}
		return templates.CompileTemplate(entry.Template)
	}
	return nil, fmt.Errorf("no template registered for domain %q or fallback \"other\"", domain)
}

// refine asks the inference client to rewrite a template step description
// with the task's specifics, substituting nothing structural. Refinement
// failure or timeout falls back to the template description verbatim.
func (d *Decomposer) refine(ctx context.Context, taskText, templateDescription string) string {
	if d.refiner == nil {
		return templateDescription
	}

	refineCtx, cancel := context.WithTimeout(ctx, d.refineTimeout)
	defer cancel()

	prompt := fmt.Sprintf(
		"Task: %s\n\nRewrite this single step description to be specific to the task above. "+
			"Do not add steps, do not remove it, respond with only the rewritten description:\n\n%s",
		taskText, templateDescription,
	)

	out, err := d.refiner.Chat(refineCtx, d.refineModel, []inference.Message{{Role: "user", Content: prompt}}, inference.Options{})
	if err != nil {
		d.logger.Warn("subtask refinement failed, using template description verbatim",
			zap.Error(err))
		return templateDescription
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return templateDescription
	}
	return out
}

func (d *Decomposer) finalize(s Subtask) Subtask {
	if d.recommender != nil {
		if id, ok := d.recommender.Recommend(s.Domain, s.SuggestedPersonaRole); ok {
			s.SuggestedPersonaID = id
		}
	}
	return s
}
