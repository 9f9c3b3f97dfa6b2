package models

import "time"

// Transfer modes for file uploads.
const (
	TransferSFTP = "sftp"
	TransferSCP  = "scp"
)

// SSHConfig holds connection settings for the VPS.
type SSHConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string // optional if a key is given
	PrivateKey []byte // loaded from file path
	KeyPath    string // path to key file
	Timeout    time.Duration
	Transfer   string // "sftp" (default) or "scp"
}

// SSHResult holds the result of an SSH connectivity check.
type SSHResult struct {
	CommandRun bool
	Output     string
	Error      error
}
