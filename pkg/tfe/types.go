package tfe

// The TFE API speaks JSON:API. Only the fields the pipeline reads are
// modeled; everything else in the payloads is ignored.

// resourceRef is a JSON:API resource linkage ({type, id}).
type resourceRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// accountResponse is the body of GET /api/v2/account/details.
type accountResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Username string `json:"username"`
			Email    string `json:"email"`
		} `json:"attributes"`
	} `json:"data"`
}

// runResponse is the body of GET /api/v2/runs/{run_id}. The plan is reached
// through data.relationships.plan.data.
type runResponse struct {
	Data struct {
		ID            string `json:"id"`
		Relationships struct {
			Plan struct {
				Data *resourceRef `json:"data"`
			} `json:"plan"`
		} `json:"relationships"`
	} `json:"data"`
}

// planResponse is the body of GET /api/v2/plans/{plan_id}. The redacted
// structured output lives at data.attributes["json-output-redacted"] as a
// pre-signed URL.
type planResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Status             string `json:"status"`
			JSONOutputRedacted string `json:"json-output-redacted"`
		} `json:"attributes"`
	} `json:"data"`
}

// Operation names used for error contexts and telemetry. These appear in
// user-facing messages, so they read as plain words.
const (
	opAuthentication     = "authentication"
	opConnectionCheck    = "connection check"
	opRunLookup          = "run lookup"
	opPlanLookup         = "plan lookup"
	opPlanDownload       = "plan download"
)
