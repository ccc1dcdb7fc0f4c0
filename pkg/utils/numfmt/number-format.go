package numfmt

import (
	"fmt"
	"math"
	"strconv"
)

// USD formats a float64 into a string representation using $ and two decimal places.
func USD(n float64) string {
	if n < 0 {
		return "-$" + strconv.FormatFloat(-n, 'f', 2, 64)
	}
	return "$" + strconv.FormatFloat(n, 'f', 2, 64)
}

// USDPrecise formats a cost with up to the given number of decimal places,
// trimming trailing zeroes. Sub-cent image costs need more than two places.
func USDPrecise(n float64, places int) string {
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	s := strconv.FormatFloat(Round(n, places), 'f', -1, 64)
	return sign + "$" + s
}

// Round rounds n to the given number of decimal places.
// Ties are resolved on the exact binary value of n, so Round(2.675, 2) is 2.67.
func Round(n float64, places int) float64 {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return n
	}
	r, err := strconv.ParseFloat(strconv.FormatFloat(n, 'f', places, 64), 64)
	if err != nil {
		return n
	}
	return r
}

// LargeNumber formats an int64 into a string representation using K, M, B, T, Q suffixes.
// It handles negative numbers and rounds to two decimal places.
func LargeNumber(n int64) string {
	// Handle negative numbers
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}

	if n < 1000 {
		return fmt.Sprintf("%s%d", sign, n)
	}

	suffixes := []string{"", "K", "M", "B", "T", "Q"}
	value := float64(n)
	index := 0

	for value >= 1000 && index < len(suffixes)-1 {
		value /= 1000
		index++
	}

	// Round to two decimal places
	rounded := math.Round(value*100) / 100

	return fmt.Sprintf("%s%.2f%s", sign, rounded, suffixes[index])
}
