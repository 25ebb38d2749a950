// Package provision implements the installer's provisioning steps against
// the provider's REST control plane: API enablement, the runtime service
// account and its grants, function deployment, the API gateway chain, the
// restricted API key, and federated-identity wiring.
//
// Every step is idempotent. Creation calls treat a conflict as already
// satisfied, reads distinguish "must create" from "must error", and policy
// updates are additive merges that never disturb unrelated bindings. The
// prerequisites gate runs first and blocks the install with structured
// remediation when a condition only the operator can satisfy is unmet.
package provision
