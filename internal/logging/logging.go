// Package logging provides the zap.SugaredLogger the storage core and CLI
// share, in the style of sakateka-yanet2's coordinator main: built once at
// the edge of the program and threaded down as a dependency, never a
// package-level global inside library code.
package logging

import "go.uber.org/zap"

// NewProduction builds a JSON production logger at info level.
func NewProduction() (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// NewDevelopment builds a human-readable, debug-level logger for the CLI
// and for tests that want to see core activity.
func NewDevelopment() (*zap.SugaredLogger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level.SetLevel(zap.DebugLevel)
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// NewNop returns a logger that discards everything, the default the core
// falls back to when the caller supplies none.
func NewNop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
