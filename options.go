package dchat

import (
	"io"
	"os"

	"github.com/opd-ai/dchat/config"
	"github.com/opd-ai/dchat/noise"
)

// Options contains everything needed to create a Chat.
type Options struct {
	// Config holds the channel, secret and every tunable.
	Config *config.Config

	// Params, when set, is used instead of loading Config.DHParamFile.
	Params *noise.Params

	// Input supplies console lines. Nil disables the input pump.
	Input io.Reader
	// Output receives console announcements.
	Output io.Writer

	// ListenAddr and DiscoveryAddr override the addresses derived from
	// Config. They are mostly useful to bind ephemeral ports.
	ListenAddr    string
	DiscoveryAddr string
	// AnnounceTarget overrides where announcements are sent.
	AnnounceTarget string
	// PeerPort is the port discovered peers are dialed on. Zero means
	// Config.Port.
	PeerPort int
}

// NewOptions returns Options with the default configuration, console output
// on stdout and no input.
func NewOptions() *Options {
	return &Options{
		Config: config.Default(),
		Output: os.Stdout,
	}
}
