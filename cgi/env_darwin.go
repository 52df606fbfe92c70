//go:build darwin

package cgi

// dynamicLoaderVars lists host environment variables related to the dynamic
// linker that a script's shared-library resolution may depend on.
var dynamicLoaderVars = []string{"DYLD_LIBRARY_PATH"}
