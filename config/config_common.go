package config

import "strconv"

// Version implement fmt.Stringer
type Version int

const (
	LogLevelDebug   = "DEBUG"
	LogLevelInfo    = "INFO"
	LogLevelWarning = "WARNING"
	LogLevelError   = "ERROR"
	LogLevelFatal   = "FATAL"
)

type LogConfig struct {
	Level  string `mapstructure:"level" default:"INFO"` // log level - debug, info, warning, error, fatal
	Format string `mapstructure:"format"`               // format strategy - plain, json
}

func (v Version) String() string {
	return strconv.Itoa(int(v))
}
