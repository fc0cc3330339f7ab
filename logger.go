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
	"os"

	"github.com/rs/zerolog"
)

// zerologLogger adapts zerolog to SomeLogger, statsd client messages
// are all warnings
type zerologLogger struct {
	logger zerolog.Logger
}

func newDefaultLogger() SomeLogger {
	return &zerologLogger{
		logger: zerolog.New(os.Stderr).With().Timestamp().Str("component", "statsd").Logger(),
	}
}

// ZerologLogger wraps existing zerolog.Logger to be used with Logger option
func ZerologLogger(logger zerolog.Logger) SomeLogger {
	return &zerologLogger{logger: logger}
}

func (z *zerologLogger) Printf(format string, args ...interface{}) {
	z.logger.Warn().Msgf(format, args...)
}
