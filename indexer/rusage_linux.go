//go:build linux

package indexer

import "golang.org/x/sys/unix"

// maxRSSMegabytes samples the process peak resident set size. Linux
// reports ru_maxrss in kilobytes.
func maxRSSMegabytes() float64 {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	return float64(ru.Maxrss) / 1024
}
