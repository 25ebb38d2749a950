// Package policy gates installs with Open Policy Agent.
//
// Built-in policies cover region allowlisting, resource naming, and
// function declaration sanity. Additional Rego policies can be loaded from
// the paths listed in the manifest's policy block. A manifest that produces
// any error-severity violation blocks the install before the first
// provisioning call.
package policy
