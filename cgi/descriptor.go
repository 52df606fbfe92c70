package cgi

// Descriptor is the immutable, per-listener configuration of a CGI script.
// A single Descriptor is shared by every request handled by a Handler; it is
// never mutated after NewHandler returns.
type Descriptor struct {
	// Path is the executable to invoke for every request.
	Path string

	// Root is the URI prefix this script is mounted under. An empty
	// string is treated as "/".
	Root string

	// Dir overrides the executable's working directory. If empty, the
	// parent directory of Path is used, falling back to "." if Path has
	// no parent.
	Dir string

	// Env holds extra environment pairs applied last, overriding any
	// value derived earlier for the same key.
	Env [][2]string

	// Args holds extra positional arguments passed to the executable.
	Args []string

	// InheritEnv lists host process environment variable names that are
	// copied into the child's environment when set and non-empty.
	InheritEnv []string
}

func (d *Descriptor) root() string {
	if d.Root == "" {
		return "/"
	}
	return d.Root
}

// ConnInfo carries the per-request connection metadata that the environment
// builder needs but that isn't available from *http.Request alone (or that
// the caller wants to override, e.g. behind a trusted proxy).
type ConnInfo struct {
	RemoteAddr string
	RemotePort string
	ServerName string
	ServerPort string
}
