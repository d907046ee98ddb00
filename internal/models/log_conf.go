package models

// LogConf configures the process logger.
type LogConf struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}
