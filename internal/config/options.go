package config

import (
	"log/slog"

	"github.com/mattjoyce/loadsched/internal/loader"
	"github.com/mattjoyce/loadsched/internal/transport"
)

// LoaderOptions maps the loader section onto loader.Options.
func (c *Config) LoaderOptions(logger *slog.Logger) (loader.Options, error) {
	table, err := c.Loader.PriorityTable()
	if err != nil {
		return loader.Options{}, err
	}
	return loader.Options{
		MaxRequestsPerHost:  c.Loader.MaxRequestsPerHost,
		MaxRequestsFallback: c.Loader.MaxRequestsFallback,
		EagerDispatch:       c.Loader.EagerDispatch,
		Priorities:          table,
		Logger:              logger,
	}, nil
}

// TransportOptions maps the transport section onto transport.Options.
func (c *Config) TransportOptions(logger *slog.Logger) transport.Options {
	t := c.Transport
	return transport.Options{
		Timeout:      t.Timeout,
		UserAgent:    t.UserAgent,
		MaxBodyBytes: t.MaxBodyBytes,
		Retry: transport.RetryPolicy{
			Attempts: t.Retry.Attempts,
			Initial:  t.Retry.Initial,
			Max:      t.Retry.Max,
		},
		Logger: logger,
	}
}
