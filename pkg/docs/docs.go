// Package docs drafts structured documents (reports, patent disclosures,
// work plans, project proposals) through the model router. Each workflow
// fixes a section outline and register; the tone knob adjusts voice without
// changing structure.
package docs

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tiangong-ai/workspace/pkg/capability"
	"github.com/tiangong-ai/workspace/pkg/errors"
	"github.com/tiangong-ai/workspace/pkg/llm"
	"github.com/tiangong-ai/workspace/pkg/router"
)

// Workflow names a document type with a fixed outline.
type Workflow string

const (
	WorkflowReport           Workflow = "report"
	WorkflowPatentDisclosure Workflow = "patent_disclosure"
	WorkflowPlan             Workflow = "plan"
	WorkflowProjectProposal  Workflow = "project_proposal"
)

// Tone adjusts the drafting voice.
type Tone string

const (
	ToneFormal     Tone = "formal"
	ToneNeutral    Tone = "neutral"
	ToneAccessible Tone = "accessible"
)

type workflowSpec struct {
	description string
	sections    []string
	register    string
}

var workflows = map[Workflow]workflowSpec{
	WorkflowReport: {
		description: "a technical report",
		sections:    []string{"Summary", "Background", "Findings", "Analysis", "Conclusions", "References"},
		register:    "precise and evidence-led; every claim tied to a finding",
	},
	WorkflowPatentDisclosure: {
		description: "an invention disclosure",
		sections:    []string{"Title", "Field of the Invention", "Background", "Summary of the Invention", "Detailed Description", "Advantages", "Claims Outline"},
		register:    "claim-oriented; describe the invention in terms of what it does and how it differs from prior art",
	},
	WorkflowPlan: {
		description: "a work plan",
		sections:    []string{"Objective", "Scope", "Milestones", "Resources", "Risks", "Timeline"},
		register:    "action-oriented; milestones concrete and dated where possible",
	},
	WorkflowProjectProposal: {
		description: "a project proposal",
		sections:    []string{"Abstract", "Motivation", "Objectives", "Methodology", "Expected Outcomes", "Budget Outline", "Team"},
		register:    "persuasive but grounded; objectives measurable",
	},
}

// Workflows lists the supported document types, sorted.
func Workflows() []string {
	names := make([]string, 0, len(workflows))
	for w := range workflows {
		names = append(names, string(w))
	}
	sort.Strings(names)
	return names
}

// Document is one drafted document.
type Document struct {
	Workflow Workflow `json:"workflow"`
	Tone     Tone     `json:"tone"`
	Topic    string   `json:"topic"`
	Content  string   `json:"content"`
	Sections []string `json:"sections"`
}

// Drafter turns drafting requests into router calls.
type Drafter struct {
	router *router.Router
}

// NewDrafter builds a Drafter.
func NewDrafter(r *router.Router) (*Drafter, error) {
	if r == nil {
		return nil, errors.New(errors.CodeFatalConfig, "drafter requires a model router", nil)
	}
	return &Drafter{router: r}, nil
}

// Draft produces one document. Supporting material from earlier steps goes
// in background; it is quoted to the model verbatim.
func (d *Drafter) Draft(ctx context.Context, workflow Workflow, topic, background string, tone Tone) (*Document, error) {
	spec, ok := workflows[workflow]
	if !ok {
		return nil, errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("unknown workflow %q (have: %s)", workflow, strings.Join(Workflows(), ", ")), nil)
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New(errors.CodeInvalidInput, "topic must not be empty", nil)
	}
	if tone == "" {
		tone = ToneNeutral
	}
	switch tone {
	case ToneFormal, ToneNeutral, ToneAccessible:
	default:
		return nil, errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("unknown tone %q", tone), nil)
	}

	resp, err := d.router.Route(ctx, router.Request{
		Purpose: router.PurposeCreative,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: buildDraftPrompt(spec, tone)},
			{Role: llm.RoleUser, Content: buildDraftRequest(topic, background)},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return nil, err
	}

	return &Document{
		Workflow: workflow,
		Tone:     tone,
		Topic:    topic,
		Content:  resp.Content,
		Sections: spec.sections,
	}, nil
}

func buildDraftPrompt(spec workflowSpec, tone Tone) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are drafting %s in Markdown. Use exactly these sections, in order:\n\n", spec.description)
	for _, s := range spec.sections {
		fmt.Fprintf(&b, "## %s\n", s)
	}
	fmt.Fprintf(&b, "\nStyle: %s. Tone: %s.\n", spec.register, tone)
	b.WriteString("Write the complete document. Do not add sections, preambles or commentary.")
	return b.String()
}

func buildDraftRequest(topic, background string) string {
	if strings.TrimSpace(background) == "" {
		return "Topic: " + topic
	}
	return fmt.Sprintf("Topic: %s\n\nSupporting material:\n%s", topic, background)
}

// Capability exposes drafting as the draft_document capability.
func (d *Drafter) Capability() capability.Descriptor {
	return capability.Descriptor{
		Name:        "draft_document",
		Description: "Draft a structured document (report, patent disclosure, plan or project proposal).",
		SideEffect:  capability.Pure,
		Enabled:     true,
		Input: capability.Schema{Args: map[string]capability.ArgDef{
			"workflow": {
				Type:        "string",
				Description: "Document type to draft.",
				Required:    true,
				Enum:        []string{"report", "patent_disclosure", "plan", "project_proposal"},
			},
			"topic": {
				Type:        "string",
				Description: "What the document is about.",
				Required:    true,
			},
			"background": {
				Type:        "string",
				Description: "Supporting material gathered in earlier steps.",
			},
			"tone": {
				Type:        "string",
				Description: "Drafting voice.",
				Default:     "neutral",
				Enum:        []string{"formal", "neutral", "accessible"},
			},
		}},
		Output: capability.Schema{AllowExtra: true},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			workflow, _ := args["workflow"].(string)
			topic, _ := args["topic"].(string)
			background, _ := args["background"].(string)
			tone, _ := args["tone"].(string)
			return d.Draft(ctx, Workflow(workflow), topic, background, Tone(tone))
		},
	}
}
