// Package observability provides metrics for the HTTP surface, job
// orchestration, collaborators and the background runner.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys
const (
	attrMethod       = "method"
	attrPath         = "path"
	attrStatus       = "status"
	attrSuccess      = "success"
	attrStage        = "stage"
	attrCollaborator = "collaborator"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// Group status codes to reduce cardinality
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

func stageAttr(stage string) attribute.KeyValue {
	return attribute.String(attrStage, stage)
}

func collaboratorAttr(name string) attribute.KeyValue {
	return attribute.String(attrCollaborator, name)
}

const jobsPrefix = "/api/v1/jobs/"

// normalizePath replaces job IDs with a placeholder. Used when the router
// could not supply a route pattern.
func normalizePath(path string) string {
	rest, ok := strings.CutPrefix(path, jobsPrefix)
	if !ok || rest == "" || rest == "json" {
		return path
	}
	return jobsPrefix + "{jobId}"
}

// WithPath returns a metric option with the path attribute.
func WithPath(path string) metric.MeasurementOption {
	return metric.WithAttributes(pathAttr(path))
}

// WithStage returns a metric option with the orchestration stage attribute.
func WithStage(stage string) metric.MeasurementOption {
	return metric.WithAttributes(stageAttr(stage))
}
