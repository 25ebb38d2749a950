// Package telemetry provides the observability surface for StackPilot:
// structured logging (zerolog), Prometheus metrics for control-plane calls
// and provisioning steps, and OpenTelemetry tracing with stdout and
// OTLP/gRPC exporters.
//
// The installer is a short-lived CLI, so metrics are registered on a private
// registry that commands may expose or dump on exit rather than a long-lived
// scrape endpoint.
package telemetry
