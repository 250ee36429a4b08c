// Package logx wraps zerolog for reminderd.
//
// Console output is human readable with a short caller, the optional file
// output is JSON, and warnings can be mirrored to the operator chat under
// a rate limit.
package logx
