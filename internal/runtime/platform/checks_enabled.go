//go:build !omitchecks

package platform

// Ownership and recursion tracking is compiled in. This is the default:
// the checks are part of the primitives' contract, not a debug aid, and
// the test suite relies on them. Build with -tags omitchecks for a
// production configuration that skips the bookkeeping.
const checksEnabled = true
