// Package discovery implements the LAN beacon dchat nodes use to find each
// other.
//
// A node announces its Identity Tag as a single datagram, either to the IPv4
// broadcast address or to a multicast group, on the well-known port. Every
// node listens on that port; a datagram whose payload equals the tag makes
// the receiver dial the sender's reliable listener on the same port.
//
//	b, err := discovery.Open(ctx, discovery.Options{Tag: []byte("dchat"), Port: 1337})
//	if err != nil {
//	    return err
//	}
//	defer b.Close()
//	b.Announce()
//
// Datagrams are unauthenticated. A matching tag only triggers a connection
// attempt; admission is decided by the handshake that follows.
package discovery
