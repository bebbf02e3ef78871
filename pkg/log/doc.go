// Package log provides the logging abstraction shared by adcpship roles.
//
// Roles log through the Logger interface; the default implementation wraps
// zerolog and picks a human console format on terminals and JSON lines
// everywhere else, so supervised children write machine-readable role logs.
//
//	logger := log.NewZerologAdapter(os.Stderr, log.FormatAuto, "info").
//	    With(log.String("role", "recording"))
//
// Use NewNoopLogger in tests.
package log
