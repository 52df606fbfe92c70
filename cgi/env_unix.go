//go:build !windows && !darwin

package cgi

// dynamicLoaderVars lists host environment variables related to the dynamic
// linker that a script's shared-library resolution may depend on.
var dynamicLoaderVars = []string{"LD_LIBRARY_PATH"}
