// Package progress carries run events from the discovery engine and the
// destination lanes to pluggable sinks. Emitting never blocks: a Hub buffers
// events and hands them to sinks in batches on its own goroutine.
package progress
