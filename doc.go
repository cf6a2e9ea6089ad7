// Package dchat implements a peer-to-peer chat for machines on one LAN.
//
// Nodes find each other by broadcasting an Identity Tag, prove membership of
// the channel with a keyed digest over their connection endpoints, upgrade
// the connection to an anonymous encrypted channel and then exchange chat
// lines and files over it.
//
// # Getting Started
//
//	options := dchat.NewOptions()
//	options.Config.Secret = "correct horse"
//	options.Input = os.Stdin
//
//	chat, err := dchat.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := chat.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// New loads the Diffie-Hellman parameter file and opens the listener and
// discovery socket; any failure there is fatal. Run announces the node and
// serves until ctx is cancelled, then closes every peer.
//
// # Event Loop
//
// All chat state is owned by the goroutine executing Run. The listener, the
// discovery socket, the input stream and every peer connection are drained by
// small pump goroutines that hand their results to that loop, so the peer
// registry needs no locking. Authentication and the encrypted upgrade run
// off the loop with a timeout; only finished peers are admitted.
//
// # Console
//
// Lines read from Input are broadcast to every peer. A line of the form
//
//	@<address> <path>
//
// sends the file at path to the one peer whose address matches. Joins,
// departures, received lines and saved files are written to Output:
//
//	192.0.2.5 joined
//	192.0.2.5: hello
//	Saved downloads/192.0.2.5_report.txt
//	192.0.2.5: left
//
// Diagnostics go through logrus and never to Output.
package dchat
