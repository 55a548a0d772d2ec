package version

// VERSION is the current version of the lodestone pipeline binaries.
const VERSION = "0.1.0"
