package version

// Version is the current version of target-databend.
// Can be overridden at build time with -ldflags "-X ...version.Version=..."
var Version = "0.1.0"

// Name is the application name, also used as the Singer target name.
const Name = "target-databend"

// Description is a short description of the application.
const Description = "Singer target that loads record streams into Databend"
