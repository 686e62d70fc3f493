// Package logging construye el *zap.Logger del servicio.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controla el logger de produccion.
type Options struct {
	Level       string
	File        string
	Development bool
}

// New arma un logger JSON a stdout y, si File no esta vacio, tambien a un archivo
// rotado por lumberjack.
func New(opts Options) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(opts.Level)))); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "time"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeDuration = zapcore.MillisDurationEncoder

	writers := []zapcore.WriteSyncer{zapcore.Lock(os.Stdout)}
	if strings.TrimSpace(opts.File) != "" {
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    128, // MB
			MaxAge:     30,
			MaxBackups: 10,
		}))
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.NewMultiWriteSyncer(writers...),
		level,
	)

	zopts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)}
	if opts.Development {
		zopts = append(zopts, zap.Development())
	}
	return zap.New(core, zopts...), nil
}
