package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/astaxie/beego/logs"
	_ "github.com/joho/godotenv/autoload"

	"github.com/easymesh/vmnettap/util"
)

var (
	help  bool
	debug bool

	BIND_PORT int
	BIND_NUMS int

	LOG_DIR string
	TOKEN   string
)

func init() {
	flag.BoolVar(&help, "help", false, "usage")
	flag.BoolVar(&debug, "debug", false, "debug mode")
	flag.StringVar(&LOG_DIR, "log", "./", "log dir")
	flag.IntVar(&BIND_PORT, "bind", 8000, "transfer server bind port")
	flag.IntVar(&BIND_NUMS, "nums", 1, "transfer server instance nums")
	flag.StringVar(&TOKEN, "token", os.Getenv("VMNETTAP_TOKEN"), "access auth, generated when empty")
}

var transList []*Transfer

func main() {
	flag.Parse()
	if help {
		flag.Usage()
		return
	}

	if err := util.LogInit(LOG_DIR, debug, "transfer.log"); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	if TOKEN == "" {
		TOKEN = util.GetToken(16)
		logs.Warn("no token given, generated %s", TOKEN)
	}

	for i := BIND_PORT; i < (BIND_PORT + BIND_NUMS); i++ {
		temp, err := NewTransfer(fmt.Sprintf(":%d", i), TOKEN)
		if err != nil {
			logs.Error("bind port %d fail, %s", i, err.Error())
			continue
		}
		transList = append(transList, temp)
	}
	if len(transList) == 0 {
		logs.Error("no transfer instance running")
		logs.GetBeeLogger().Flush()
		os.Exit(1)
	}

	util.WaitSignal(Shutdown)
}

func Shutdown(sig os.Signal) {
	for _, v := range transList {
		v.Close()
	}
}
