// Package stores persists the resumable installation record: one versioned
// row per project ID, carrying completed steps and the identifiers each step
// produced, sealed at rest.
package stores
