package sync

import (
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DisplayTimeLayout is used by the @unixTime modifier.
const DisplayTimeLayout = "2006-01-02 15:04:05"

func init() {

	// @decimals:N scales a uint256 token amount down by 10^N, e.g. "assets|@decimals:6".
	gjson.AddModifier("decimals", func(json, arg string) string {
		res := gjson.Parse(json)
		if !res.Exists() {
			return ""
		}
		return strconv.Quote(FormatDecimals(res.String(), arg))
	})

	// @unixTime renders a blockTimestamp as a UTC date.
	gjson.AddModifier("unixTime", func(json, arg string) string {
		res := gjson.Parse(json)
		if !res.Exists() {
			return ""
		}
		return strconv.Quote(FormatUnixTime(res.String()))
	})

}

// FormatDecimals divides amount by 10^decimals and prints six fractional digits.
// Amounts that are not integers are returned unchanged; decimals that are not a
// non-negative integer count as 0, so commands validate them before calling.
func FormatDecimals(amount string, decimals string) string {
	n, err := strconv.Atoi(strings.TrimSpace(decimals))
	if err != nil || n < 0 {
		n = 0
	}
	value, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10)
	if !ok {
		return amount
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	return new(big.Rat).SetFrac(value, scale).FloatString(6)
}

// FormatUnixTime renders seconds since the epoch, or "-" when s is not a number.
func FormatUnixTime(s string) string {
	i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return "-"
	}
	return time.Unix(i, 0).UTC().Format(DisplayTimeLayout)
}

// DocumentField reads path, modifiers included, from a stored document.
// Missing fields read as "-".
func DocumentField(doc []byte, path string) string {
	res := gjson.GetBytes(doc, path)
	if !res.Exists() {
		return "-"
	}
	return res.String()
}
