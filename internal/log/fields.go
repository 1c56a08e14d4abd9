package log

// Common field names for structured logging
const (
	FieldComponent    = "component"
	FieldRequestID    = "request_id"
	FieldClientIP     = "client_ip"
	FieldMethod       = "method"
	FieldPath         = "path"
	FieldStatusCode   = "status_code"
	FieldDuration     = "duration_ms"
	FieldUserAgent    = "user_agent"
	FieldSuccess      = "success"
	FieldError        = "error"
	FieldOperation    = "operation"
	FieldOwnerID      = "owner_id"
	FieldTxnID        = "txn_id"
	FieldTxnKind      = "kind"
	FieldTxnStatus    = "status"
	FieldAmount       = "amount"
	FieldCategory     = "category"
	FieldAssetType    = "asset_type"
	FieldLoanID       = "loan_id"
	FieldStatementRef = "statement_ref"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentHTTP    = "http"
	ComponentWorker  = "worker"
	ComponentGateway = "gateway"
	ComponentBackend = "backend"
)
