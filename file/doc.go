// Package file moves files between the local disk and File Frames.
//
// The sending side reads a file fully into memory and frames it under its
// base name:
//
//	data, err := file.Encode("/tmp/report.txt", cfg.MaxFileSize)
//	if err != nil {
//	    // nothing was sent
//	}
//	peer.Send(data)
//
// The receiving side writes completed content next to other downloads as
// "<peer-host>_<base-name>". The write goes through a temporary file in the
// same directory and a rename, so readers never observe a truncated file:
//
//	path, err := file.Save(cfg.DownloadDir, "192.0.2.5", name, content)
//
// Received names are never trusted. Save strips directory components and
// refuses names that would resolve outside the download directory.
package file
