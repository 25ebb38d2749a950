package config

// builtinManifestSchema is the CUE schema every manifest is unified against
// before decoding. Defaults declared here are filled during unification so
// the Go structs see concrete values.
const builtinManifestSchema = `
#Manifest: {
	project: {
		id:            string & =~"^[a-z][a-z0-9-]{4,28}[a-z0-9]$"
		display_name?: string
	}

	region: string | *"us-central1"

	names?: {
		service_account?: string & =~"^[a-z][a-z0-9-]{3,28}[a-z0-9]$"
		api?:             string & =~"^[a-z][a-z0-9-]*$"
		gateway?:         string & =~"^[a-z][a-z0-9-]*$"
		api_key?:         string
	}

	labels?: [string]: string

	functions: [...#Function] & [_, ...]

	timing?: {
		max_attempts?:             int & >0 & <=10
		attempt_timeout_seconds?:  int & >0
		retry_base_delay_seconds?: int & >0
		retry_max_delay_seconds?:  int & >0

		config_poll_checks?:           int & >0
		config_poll_interval_seconds?: int & >0

		gateway_settle_seconds?:        int & >=0
		gateway_poll_checks?:           int & >0
		gateway_poll_interval_seconds?: int & >0

		propagation_checks?:           int & >0
		propagation_interval_seconds?: int & >0

		operation_poll_checks?:           int & >0
		operation_poll_interval_seconds?: int & >0
	}

	policy?: {
		enabled?:         bool
		allowed_regions?: [...string]
		paths?:           [...string]
	}
}

#Function: {
	name:         string & =~"^[a-z][a-z0-9-]{0,62}$"
	entry_point?: string
	runtime?:     string | *"nodejs20"
	description?: string
	source_path:  string
}
`
