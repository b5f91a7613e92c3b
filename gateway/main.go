//go:build linux || darwin

package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/astaxie/beego/logs"
	_ "github.com/joho/godotenv/autoload"

	"github.com/easymesh/vmnettap/util"
	"github.com/easymesh/vmnettap/util/ip"
	"github.com/easymesh/vmnettap/util/tun"
	"github.com/easymesh/vmnettap/util/udp"
)

var (
	help  bool
	debug bool

	LOG_DIR     string
	TOKEN       string
	TRANS_ADDR  string
	BIND_INFACE string

	BIND_PORT int
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func init() {
	flag.BoolVar(&help, "help", false, "usage")
	flag.BoolVar(&debug, "debug", false, "debug mode")
	flag.StringVar(&LOG_DIR, "log", "./", "log dir")
	flag.StringVar(&TOKEN, "token", os.Getenv("VMNETTAP_TOKEN"), "access auth")
	flag.StringVar(&TRANS_ADDR, "trans", envOr("VMNETTAP_TRANS", "www.domain.com:8000"), "transfer public address")
	flag.StringVar(&BIND_INFACE, "iface", "", "interface or ip to bind, all when empty")
	flag.IntVar(&BIND_PORT, "port", 0, "local udp port, 0 picks an unused one")
}

func main() {
	flag.Parse()
	if help || TOKEN == "" {
		flag.Usage()
		return
	}

	if err := util.LogInit(LOG_DIR, debug, "gateway.log"); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	if err := run(); err != nil {
		logs.Error(err.Error())
		logs.GetBeeLogger().Flush()
		os.Exit(1)
	}
}

func run() error {
	var err error
	if BIND_PORT == 0 {
		BIND_PORT, err = udp.UnusedPort()
		if err != nil {
			return err
		}
	}

	transAddr, err := net.ResolveUDPAddr("udp", TRANS_ADDR)
	if err != nil {
		return err
	}
	logs.Info("%s resolve to %s", TRANS_ADDR, transAddr.String())

	bindIP := ""
	if BIND_INFACE != "" {
		addr, err := ip.InterfaceIP4(BIND_INFACE)
		if err != nil {
			return err
		}
		bindIP = addr.String()
		logs.Info("bind interface %s address %s", BIND_INFACE, bindIP)
	}

	conn, err := udp.OpenUdp(fmt.Sprintf("%s:%d", bindIP, BIND_PORT))
	if err != nil {
		return err
	}

	dev, err := tun.OpenTun()
	if err != nil {
		conn.Close()
		return err
	}
	logs.Info("tun init success")

	gw := NewGateway(dev, conn, transAddr, TOKEN)
	gw.Start()

	util.WaitSignal(func(sig os.Signal) {
		gw.Shutdown()
	})
	return nil
}
