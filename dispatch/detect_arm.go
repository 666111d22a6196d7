//go:build arm

package dispatch

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

func detectFeaturesImpl() Features {
	return Features{
		HasNEON:      cpu.ARM.HasNEON,
		Architecture: runtime.GOARCH,
	}
}
