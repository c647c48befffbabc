package network

import "time"

const (
	connTimeout  = 30 * time.Second
	writeTimeout = 30 * time.Second
	// Large enough for a full announce: 4-byte header, 4095 name bytes,
	// 511 peer entries of 8 bytes.
	readBufSize = 8192
)
