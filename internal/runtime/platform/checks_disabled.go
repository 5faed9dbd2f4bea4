//go:build omitchecks

package platform

// Production configuration: ownership tracking branches compile away.
const checksEnabled = false
