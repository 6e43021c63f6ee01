// Package viz renders run progress in the terminal.
//
//   - [Model]: Bubble Tea view of a running simulation, fed by [ProgressMsg]
//     and closed by [DoneMsg]
//   - [Canvas]: Braille canvas used for the domain map
//   - [Summary]: end-of-run report
//
// # Key Bindings
//
//	Q, Ctrl+C - stop the run at the next step boundary
//	M         - toggle the domain map
package viz
