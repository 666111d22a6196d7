//go:build !amd64 && !386 && !arm64 && !arm

package dispatch

import "runtime"

// detectFeaturesImpl is the fallback for other architectures: only the
// baseline variant is usable.
func detectFeaturesImpl() Features {
	return Features{
		Architecture: runtime.GOARCH,
	}
}
