package config

// Version is the permitguard binary version.
// Set at build time via: -ldflags "-X github.com/permitguard/permitguard/internal/config.Version=<tag>"
var Version = "dev"
