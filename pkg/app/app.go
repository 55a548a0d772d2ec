package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/analogj/go-util/utils"
	"github.com/analogj/lodestone-pipeline/pkg/version"
	"github.com/sirupsen/logrus"
)

const projectUrl = "https://github.com/AnalogJ/lodestone-pipeline"

var goos string
var goarch string

// PrintBanner writes the ascii banner shown by every binary on startup.
func PrintBanner(w io.Writer) {
	versionInfo := fmt.Sprintf("%s.%s-%s", goos, goarch, version.VERSION)
	subtitle := projectUrl + utils.LeftPad2Len(versionInfo, " ", 65-len(projectUrl))

	fmt.Fprintf(w, utils.StripIndent(
		`
	 __    _____  ____  ____  ___  ____  _____  _  _  ____
	(  )  (  _  )(  _ \( ___)/ __)(_  _)(  _  )( \( )( ___)
	 )(__  )(_)(  )(_) ))__) \__ \  )(   )(_)(  )  (  )__)
	(____)(_____)(____/(____)(___/ (__) (_____)(_)\_)(____)
	%s
	`), subtitle)
}

// NewLogger configures the standard logrus logger and returns an entry tagged with the binary name.
func NewLogger(name string, debug bool, format string) *logrus.Entry {
	logger := logrus.StandardLogger()
	logger.SetOutput(os.Stderr)
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger.WithField("app", name)
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
