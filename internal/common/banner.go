package common

import (
	"github.com/ternarybob/banner"
)

// PrintBanner displays the service banner. The name differs between the
// training and dataset binaries, the layout does not.
func PrintBanner(serviceName, version string) {
	banner.PrintSimple(serviceName, version)
}
