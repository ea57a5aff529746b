package model

// CompressionZstd marks objects stored zstd-compressed.
const CompressionZstd = "zstd"

// File is a stored file resolved to a local path.
type File struct {
	ID          string `json:"id"`
	Hash        string `json:"hash"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Owner       string `json:"owner"`
	Description string `json:"description"`
	Compression string `json:"compression,omitempty"`
	Created     int64  `json:"created"`
	Path        string `json:"path"`
}
