// Package config holds the static channel values shared by every dchat
// component (the Channel Secret and Identity Tag) together with the node's
// tunables, and knows how to load them.
//
// Values are layered: Default() first, then an optional YAML file via Load,
// then whatever the caller overrides (cmd/dchat applies command-line flags).
// Validate must be called before the configuration is used.
//
//	cfg := config.Default()
//	if err := cfg.LoadFile("dchat.yaml"); err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//	config.SetupLogging(cfg)
//
// The Channel Secret is never transmitted; it is only used as a hashing key
// by the auth package. The Identity Tag is public and is both the discovery
// payload and an input to the authentication digest.
package config
