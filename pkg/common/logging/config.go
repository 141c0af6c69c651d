package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ConfigureFromSettings builds a Logger from the string values a JSON config
// file or environment variable would naturally carry: level, format, and an
// output destination of "console", "file", or "both".
func ConfigureFromSettings(level, format, output, filename string) (*Logger, error) {
	logLevel, err := ParseLogLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	logFormat, err := ParseLogFormat(format)
	if err != nil {
		return nil, fmt.Errorf("invalid log format: %w", err)
	}

	var writer io.Writer
	switch output {
	case "", "console":
		writer = os.Stdout
	case "file":
		if filename == "" {
			return nil, fmt.Errorf("log file path required when output is 'file'")
		}
		if writer, err = createFileOutput(filename); err != nil {
			return nil, fmt.Errorf("failed to create file output: %w", err)
		}
	case "both":
		if filename == "" {
			return nil, fmt.Errorf("log file path required when output is 'both'")
		}
		fileWriter, err := createFileOutput(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to create file output: %w", err)
		}
		writer = io.MultiWriter(os.Stdout, fileWriter)
	default:
		return nil, fmt.Errorf("invalid log output: %s", output)
	}

	return NewLogger(&Config{
		Level:    logLevel,
		Format:   logFormat,
		Output:   writer,
		Sanitize: true,
	}), nil
}

// InitFromConfig parses settings and installs the result as the global logger.
func InitFromConfig(level, format, output, filename string) error {
	logger, err := ConfigureFromSettings(level, format, output, filename)
	if err != nil {
		return err
	}
	InitGlobalLogger(&Config{
		Level:    logger.level,
		Format:   logger.format,
		Output:   logger.output,
		Sanitize: logger.sanitize,
	})
	return nil
}

func createFileOutput(path string) (io.Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create log directory %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return f, nil
}
