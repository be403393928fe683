// Package pipeline holds the side-effect free parts of case processing:
// definition validation, quality gate evaluation, fallback synthesis, service
// input shaping and result aggregation. Nothing here blocks or mutates a job;
// the orchestrator owns scheduling and state.
package pipeline
