package provision

// Endpoints holds the control-plane base URLs. Every URL is overridable so
// tests can point the provisioner at a local fake.
type Endpoints struct {
	ServiceUsage    string
	IAM             string
	ResourceManager string
	Functions       string
	APIGateway      string
	APIKeys         string
	Firestore       string
	Identity        string
}

// DefaultEndpoints returns the production control-plane endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		ServiceUsage:    "https://serviceusage.googleapis.com/v1",
		IAM:             "https://iam.googleapis.com/v1",
		ResourceManager: "https://cloudresourcemanager.googleapis.com/v1",
		Functions:       "https://cloudfunctions.googleapis.com/v1",
		APIGateway:      "https://apigateway.googleapis.com/v1",
		APIKeys:         "https://apikeys.googleapis.com/v2",
		Firestore:       "https://firestore.googleapis.com/v1",
		Identity:        "https://identitytoolkit.googleapis.com",
	}
}
