//go:build !debug_trace

package trace

// DebugEnabled is true when DEBUG, INFO and PERF records are compiled in and failed assertions
// escalate to a fatal error. Guard expensive trace calls with it so release builds carry no cost.
const DebugEnabled = false
