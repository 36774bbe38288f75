package kv

import (
	"math"
	"strconv"
)

var (
	negInf = math.Inf(-1)
	posInf = math.Inf(1)
)

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
