package pipeline

import "github.com/rotisserie/eris"

var (
	// ErrEmptyInput is returned when Run is called without emails.
	ErrEmptyInput = eris.New("pipeline: no emails to analyze")

	// ErrOracleMisconfigured is returned when the oracle can never succeed,
	// e.g. its API key is missing. It is detected before the first batch.
	ErrOracleMisconfigured = eris.New("pipeline: oracle misconfigured")

	// ErrMalformedOutput is returned by ParseCandidates when bracketed oracle
	// output does not decode as JSON.
	ErrMalformedOutput = eris.New("pipeline: malformed oracle output")
)
