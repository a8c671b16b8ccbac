package constvars

const (
	ResourceBundle           = "Bundle"
	ResourceTask             = "Task"
	ResourcePatient          = "Patient"
	ResourceServiceRequest   = "ServiceRequest"
	ResourceObservation      = "Observation"
	ResourceDiagnosticReport = "DiagnosticReport"
	ResourceOrganization     = "Organization"
	ResourceLocation         = "Location"
)

const (
	FhirBundleTypeTransaction = "transaction"
)

const (
	FhirTaskStatusRequested = "requested"
	FhirTaskStatusReceived  = "received"
	FhirTaskStatusAccepted  = "accepted"
	FhirTaskStatusRejected  = "rejected"
	FhirTaskStatusCancelled = "cancelled"
	FhirTaskStatusFailed    = "failed"
	FhirTaskStatusCompleted = "completed"
)

const (
	FhirSearchParamStatus     = "status"
	FhirSearchParamPatient    = "patient"
	FhirSearchParamIdentifier = "identifier"
	FhirSearchParamID         = "_id"
	FhirSearchParamInclude    = "_include"
)

const (
	FhirConceptMapTypeSameAs       = "SAME-AS"
	FhirConceptMapTypeBroaderThan  = "BROADER-THAN"
	FhirConceptMapTypeNarrowerThan = "NARROWER-THAN"
)
