package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		regionAllowlistPolicy(),
		resourceNamingPolicy(),
		functionLimitsPolicy(),
	}
}

// regionAllowlistPolicy blocks installs targeting regions outside the
// manifest's allowlist.
func regionAllowlistPolicy() Policy {
	return Policy{
		Name:        "region-allowlist",
		Description: "Restricts provisioning to the regions listed in policy.allowed_regions",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"region", "compliance"},
		Rego: `package stackpilot.policies.region

import rego.v1

deny contains violation if {
	count(input.allowed_regions) > 0
	not input.manifest.region in input.allowed_regions
	violation := {
		"message": sprintf("Region '%s' is not in the allowed regions %v", [input.manifest.region, input.allowed_regions]),
		"severity": "error",
	}
}
`,
	}
}

// resourceNamingPolicy enforces naming conventions on the resources the
// install will create.
func resourceNamingPolicy() Policy {
	return Policy{
		Name:        "resource-naming",
		Description: "Enforces resource naming conventions (lowercase, alphanumeric, hyphens only)",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		Rego: `package stackpilot.policies.naming

import rego.v1

names contains n if {
	n := input.manifest.names.service_account
}

names contains n if {
	n := input.manifest.names.api
}

names contains n if {
	n := input.manifest.names.gateway
}

names contains n if {
	some f in input.manifest.functions
	n := f.name
}

deny contains violation if {
	some name in names
	not regex.match("^[a-z][a-z0-9-]*[a-z0-9]$", name)
	violation := {
		"message": sprintf("Resource name '%s' must be lowercase alphanumeric with hyphens, and must not start or end with a hyphen", [name]),
		"severity": "error",
	}
}

deny contains violation if {
	some name in names
	count(name) > 63
	violation := {
		"message": sprintf("Resource name '%s' exceeds 63 characters", [name]),
		"severity": "error",
	}
}
`,
	}
}

// functionLimitsPolicy keeps function declarations within provider limits
// and flags duplicate names before any call is made.
func functionLimitsPolicy() Policy {
	return Policy{
		Name:        "function-limits",
		Description: "Checks function declarations for duplicates and unsupported runtimes",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"functions"},
		Rego: `package stackpilot.policies.functions

import rego.v1

supported_runtimes := {"nodejs18", "nodejs20", "nodejs22", "python311", "python312", "go121", "go122"}

deny contains violation if {
	some i, j
	input.manifest.functions[i].name == input.manifest.functions[j].name
	i < j
	violation := {
		"message": sprintf("Duplicate function name '%s'", [input.manifest.functions[i].name]),
		"severity": "error",
	}
}

deny contains violation if {
	some f in input.manifest.functions
	not f.runtime in supported_runtimes
	violation := {
		"message": sprintf("Function '%s' uses unsupported runtime '%s'", [f.name, f.runtime]),
		"severity": "error",
	}
}
`,
	}
}
