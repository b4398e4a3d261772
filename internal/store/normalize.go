package store

import (
	"encoding/hex"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02T15:04:05.999999"
)

// decimalTypes are the database type names returned as text by the drivers
// but holding arbitrary-precision numbers.
var decimalTypes = map[string]bool{
	"DECIMAL":    true,
	"NUMERIC":    true,
	"MONEY":      true,
	"SMALLMONEY": true,
}

// normalizeValue converts a scanned driver value into a JSON-compatible one.
// Dates become ISO-8601 strings and decimals become float64.
func normalizeValue(v any, dbType string) any {
	dbType = strings.ToUpper(dbType)
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		if dbType == "DATE" {
			return x.Format(dateLayout)
		}
		return x.Format(dateTimeLayout)
	case []byte:
		if decimalTypes[dbType] {
			if d, err := decimal.NewFromString(string(x)); err == nil {
				return d.InexactFloat64()
			}
		}
		if utf8.Valid(x) {
			return string(x)
		}
		return hex.EncodeToString(x)
	case string:
		if decimalTypes[dbType] {
			if d, err := decimal.NewFromString(x); err == nil {
				return d.InexactFloat64()
			}
		}
		return x
	case decimal.Decimal:
		return x.InexactFloat64()
	case int64:
		return x
	case int32:
		return int64(x)
	case int16:
		return int64(x)
	case int8:
		return int64(x)
	case int:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case float64:
		return x
	case bool:
		return x
	default:
		return x
	}
}
