// Package log wraps zerolog with the process-wide logger used by every
// modhub component. Call Init once at startup; child loggers created with
// WithComponent, WithModule and WithClient tag records so output from the
// server, individual modules and individual connections can be told apart.
package log
