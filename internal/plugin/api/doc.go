// Package api defines the capability surface exposed to running plugins.
//
// An API instance is the only channel through which loaded plugin code can
// affect or observe the host. Every mutating operation is gated by a
// permission granted at enable time; a call made without the required
// permission silently has no effect and reports failure through its return
// value. Permission denial is data, not an error - plugins cannot probe the
// host by distinguishing "denied" from "no effect".
package api
