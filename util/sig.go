package util

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/astaxie/beego/logs"
)

// WaitSignal blocks until SIGINT or SIGTERM, runs proc and returns.
func WaitSignal(proc func(sig os.Signal)) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	sig := <-signalChan
	logs.Warn("recv signal %s", sig.String())
	proc(sig)
	logs.Info("ready to exit")
	logs.GetBeeLogger().Flush()
}
