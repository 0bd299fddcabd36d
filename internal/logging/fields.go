package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldUnit is the standardized structured logging key for receiver unit identifiers.
	FieldUnit = "unit"
	// FieldRole is the standardized structured logging key for unit roles (master/slave).
	FieldRole = "role"
	// FieldService is the standardized structured logging key for supervised service names.
	FieldService = "service"
	// FieldSessionID is the standardized structured logging key for calibration session identifiers.
	FieldSessionID = "session_id"
	// FieldEventType is the standardized structured logging key for machine-readable event names.
	FieldEventType = "event_type"
	// FieldErrorHint is the standardized structured logging key for operator next steps.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized structured logging key for the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)
