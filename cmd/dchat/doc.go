// Package main provides the dchat command: a LAN chat that discovers peers by
// broadcast, admits only those that know the channel secret, and exchanges
// lines and files over an encrypted channel.
//
// Type a line to send it to everyone. Send a file to one peer with
//
//	@<ip> <path>
//
// The node needs a Diffie-Hellman parameter file. Create one with
//
//	dchat -write-dhparam dhparam.pem
//
// or with openssl dhparam. Every peer on a channel must use the same file.
package main
