package models

// EnvelopeStatus is the public call outcome
type EnvelopeStatus string

const (
	StatusSuccess EnvelopeStatus = "success"
	StatusSkipped EnvelopeStatus = "skipped"
	StatusError   EnvelopeStatus = "error"
)

// Envelope is the contract every public operation returns. Fail-open
// callers surface an envelope with OK=false rather than raising.
type Envelope struct {
	OK       bool           `json:"ok"`
	Status   EnvelopeStatus `json:"status"`
	Errors   []string       `json:"errors"`
	Warnings []string       `json:"warnings,omitempty"`
}

// SuccessEnvelope returns a clean success envelope
func SuccessEnvelope() Envelope {
	return Envelope{OK: true, Status: StatusSuccess, Errors: []string{}}
}

// SkippedEnvelope returns a no-op envelope with an explanatory warning
func SkippedEnvelope(reason string) Envelope {
	return Envelope{OK: true, Status: StatusSkipped, Errors: []string{}, Warnings: []string{reason}}
}

// ErrorEnvelope returns a failed envelope carrying the given errors
func ErrorEnvelope(errs ...string) Envelope {
	if len(errs) == 0 {
		errs = []string{"unknown error"}
	}
	return Envelope{OK: false, Status: StatusError, Errors: errs}
}

// AddError appends an error and flips the envelope to failed
func (e *Envelope) AddError(msg string) {
	e.OK = false
	e.Status = StatusError
	e.Errors = append(e.Errors, msg)
}

// AddWarning appends a warning without failing the envelope
func (e *Envelope) AddWarning(msg string) {
	e.Warnings = append(e.Warnings, msg)
}
