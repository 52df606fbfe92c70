// Package cgi implements a CGI/1.1 gateway: an http.Handler that dispatches
// each request to an external executable, streams the request body into its
// standard input, and translates its standard output back into an HTTP
// response.
package cgi
