// Copyright 2026 © The Workspace Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for workspace orchestration telemetry.
// These follow OpenTelemetry naming conventions where applicable.
const (
	// TaskRun attributes
	AttrRunID      = "workspace.run.id"
	AttrRunEngine  = "workspace.run.engine"
	AttrRunStatus  = "workspace.run.status"
	AttrRunSteps   = "workspace.run.steps"
	AttrRunMaxStep = "workspace.run.max_steps"

	// Step attributes
	AttrStepIndex   = "workspace.step.index"
	AttrStepRetries = "workspace.step.retries"

	// Capability attributes
	AttrCapabilityName   = "workspace.capability.name"
	AttrCapabilityClass  = "workspace.capability.side_effect"
	AttrCapabilityDurMs  = "workspace.capability.duration_ms"
	AttrCapabilityStatus = "workspace.capability.status"

	// Executor attributes
	AttrExecCommand = "workspace.exec.command"
	AttrExecAllowed = "workspace.exec.allowed"
	AttrExecStatus  = "workspace.exec.status"

	// LLM attributes (standard gen_ai conventions)
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMProvider     = "gen_ai.system"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMTokensTotal  = "gen_ai.usage.total_tokens"
)

// RunAttributes builds span attributes for a task run.
func RunAttributes(runID, engine string, maxSteps int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrRunID, runID),
		attribute.String(AttrRunEngine, engine),
		attribute.Int(AttrRunMaxStep, maxSteps),
	}
}

// CapabilityAttributes builds span attributes for a capability invocation.
func CapabilityAttributes(name, sideEffect string, stepIndex int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCapabilityName, name),
		attribute.String(AttrCapabilityClass, sideEffect),
		attribute.Int(AttrStepIndex, stepIndex),
	}
}
