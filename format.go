package statsd

/*

Copyright (c) 2017 Andrey Smirnov

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.

*/

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// metric type tags
const (
	typeCounter = "c"
	typeGauge   = "g"
	typeTiming  = "ms"
)

// lineSeparator terminates every queued line, so lines can be concatenated
// into single datagram
const lineSeparator = '\n'

// formatLine builds metric line `<prefix><stat>:<value>|<type>[|@<rate>]`
//
// Line never contains line separator, formatting never fails.
func formatLine(prefix, stat string, value interface{}, typ string, rate float64) []byte {
	buf := make([]byte, 0, len(prefix)+len(stat)+len(typ)+24)

	buf = appendSanitized(buf, prefix)
	buf = appendSanitized(buf, stat)
	buf = append(buf, ':')
	buf = appendValue(buf, value)
	buf = append(buf, '|')
	buf = append(buf, typ...)

	if rate > 0 && rate < 1 {
		buf = append(buf, "|@"...)
		buf = strconv.AppendFloat(buf, rate, 'f', -1, 64)
	}

	return buf
}

// appendSanitized appends s replacing line breaks, which would otherwise
// split metric into two lines on the server side
func appendSanitized(buf []byte, s string) []byte {
	if strings.IndexAny(s, "\r\n") == -1 {
		return append(buf, s...)
	}

	for i := 0; i < len(s); i++ {
		if s[i] == '\n' || s[i] == '\r' {
			buf = append(buf, ' ')
		} else {
			buf = append(buf, s[i])
		}
	}

	return buf
}

// appendValue formats value without reflection for common types
func appendValue(buf []byte, value interface{}) []byte {
	switch v := value.(type) {
	case int:
		return strconv.AppendInt(buf, int64(v), 10)
	case int8:
		return strconv.AppendInt(buf, int64(v), 10)
	case int16:
		return strconv.AppendInt(buf, int64(v), 10)
	case int32:
		return strconv.AppendInt(buf, int64(v), 10)
	case int64:
		return strconv.AppendInt(buf, v, 10)
	case uint:
		return strconv.AppendUint(buf, uint64(v), 10)
	case uint8:
		return strconv.AppendUint(buf, uint64(v), 10)
	case uint16:
		return strconv.AppendUint(buf, uint64(v), 10)
	case uint32:
		return strconv.AppendUint(buf, uint64(v), 10)
	case uint64:
		return strconv.AppendUint(buf, v, 10)
	case float32:
		return strconv.AppendFloat(buf, float64(v), 'f', -1, 32)
	case float64:
		return strconv.AppendFloat(buf, v, 'f', -1, 64)
	case time.Duration:
		return strconv.AppendFloat(buf, float64(v)/float64(time.Millisecond), 'f', -1, 64)
	case string:
		return appendSanitized(buf, v)
	case []byte:
		return appendSanitized(buf, string(v))
	case bool:
		return strconv.AppendBool(buf, v)
	case fmt.Stringer:
		return appendSanitized(buf, v.String())
	case nil:
		return buf
	default:
		return appendSanitized(buf, fmt.Sprint(v))
	}
}

// millisecondsSince returns whole milliseconds elapsed from start till now
//
// Start in the future (clock skew) gives zero.
func millisecondsSince(now, start time.Time) int64 {
	d := now.Sub(start)
	if d < 0 {
		return 0
	}

	return int64(d / time.Millisecond)
}
