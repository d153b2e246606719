package core

// Version is the release version reported by the version command.
const Version = "v0.3.1"
