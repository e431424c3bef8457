// Package byztime implements a shared-memory protocol for
// distributing an estimate of the offset between a machine's local
// clock and an externally agreed global time, and for reading that
// estimate back with bounded error.
//
// A single Provider, opened with OpenRW, owns a small memory-mapped
// region on disk and publishes (offset, error bound, as-of) triples to
// it via SetOffset. Any number of Consumers, opened with OpenRO, map
// the same region read-only and read the latest triple back via
// GetOffset or GetGlobalTime, which also account for clock drift since
// the triple was published and, once Slew has been called, smooth the
// estimate's rate of change instead of jumping to it discontinuously.
//
// The region survives a reboot: its header records the boot's clock
// era, and a Provider reopening a region from a different era
// recomputes a best-guess offset from the (global time - real time)
// value UpdateRealOffset last recorded, rather than starting over.
//
// All Stamp arithmetic uses the explicit overflow-reporting convention
// in package stamp rather than typed errors, mirroring the C
// library's errno=EOVERFLOW-plus-wrapped-result behavior this package
// is a port of.
package byztime
