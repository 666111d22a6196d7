package dispatch

import (
	"github.com/klauspost/cpuid/v2"
)

// HostInfo describes the processor for logs and diagnostics. It is never
// used to pick a variant.
type HostInfo struct {
	Vendor       string
	Brand        string
	LogicalCores int
}

// Host returns the processor description reported by CPUID.
func Host() HostInfo {
	return HostInfo{
		Vendor:       cpuid.CPU.VendorString,
		Brand:        cpuid.CPU.BrandName,
		LogicalCores: cpuid.CPU.LogicalCores,
	}
}
