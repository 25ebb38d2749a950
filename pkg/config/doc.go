// Package config loads and validates stackpilot install manifests.
//
// A manifest is a YAML document describing the target project, the resources
// to provision, and the timing policy for retries and polls. Structural
// validation and defaulting happen through CUE schema unification; decoded
// structs are then checked with struct tags.
package config
