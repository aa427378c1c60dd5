package types

// Version is the canonical project version. The CLI, the wire protocol, and
// the host server report this single version (lockstep versioning).
const Version = "0.1.0"
