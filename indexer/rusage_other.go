//go:build !linux

package indexer

// maxRSSMegabytes is unavailable off Linux; the gauge reads zero.
func maxRSSMegabytes() float64 { return 0 }
