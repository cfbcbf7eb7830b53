// Formatação de números para headers (Retry-After, X-RateLimit-Wait).
package admission

import (
	"math"
	"strconv"
)

func formatInt(v int) string { return strconv.Itoa(v) }

func formatFloat(v float64) string {
	// sem depender de fmt, e sem notação científica para valores comuns
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// retryAfterSeconds arredonda para cima: Retry-After só aceita segundos inteiros.
func retryAfterSeconds(wait float64) string {
	s := int(math.Ceil(wait))
	if s < 1 {
		s = 1
	}
	return formatInt(s)
}
