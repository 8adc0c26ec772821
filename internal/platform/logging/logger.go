package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Log 是全局日志实例，未调用BootstrapLogger时也可安全使用
var Log = logrus.New()

// BootstrapLogger 根据配置的日志级别初始化全局日志实例。
// 无法解析的级别会回退到info。
func BootstrapLogger(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}

	Log = &logrus.Logger{
		Out:   os.Stdout,
		Hooks: make(logrus.LevelHooks),
		Formatter: &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		},
		Level:    lvl,
		ExitFunc: os.Exit,
	}
	Log.SetReportCaller(true)

	if err != nil && level != "" {
		Log.Warnf("无法识别的日志级别 %q，已回退到 info", level)
	}
}
