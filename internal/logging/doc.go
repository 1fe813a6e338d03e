// Package logging provides structured logging for Arbiter.
//
// Every deliberation component takes a [*Logger] and derives child loggers
// carrying the contract, agent, phase and round it is working on, so a single
// JSON log can be filtered down to one committee decision after the fact.
//
// # Thread Safety
//
// [Logger] is safe for concurrent use. Child loggers created via the With*
// methods share the underlying handler and file.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/var/log/arbiter/arbiter.log", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	log := logger.WithContract("c-42").WithPhase("discussion").WithRound(2)
//	log.Info("stance revised", "agent_id", "gpt", "winner_id", "party-a")
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"stance revised","contract_id":"c-42","phase":"discussion","round":2,"agent_id":"gpt","winner_id":"party-a"}
//
// # Conventions
//
// Participant failures are logged at WARN since they are recovered locally.
// Phase failures are logged at ERROR. Phase transitions are logged at INFO.
//
// # Testing
//
// Use [NopLogger] to discard output, or [NewWriterLogger] with a
// bytes.Buffer to assert on emitted entries.
//
// # Configuration
//
//	logging:
//	  enabled: true
//	  level: info
//	  file: /var/log/arbiter/arbiter.log
package logging
