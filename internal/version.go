package internal

// Version is reported by /healthz and the CLI version command.
const Version = "0.3.0"
