//go:build windows

package cgi

// dynamicLoaderVars lists host environment variables Windows scripts
// commonly need to locate the system shell and command extensions.
var dynamicLoaderVars = []string{"SystemRoot", "COMSPEC", "PATHEXT", "WINDIR"}
