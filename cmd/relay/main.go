package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"custody-relay-sol/internal/config"
	"custody-relay-sol/internal/handler"
	"custody-relay-sol/internal/pkg/logger"
	"custody-relay-sol/internal/svc"

	"github.com/zeromicro/go-zero/core/conf"
	"github.com/zeromicro/go-zero/core/logx"
	zerosvc "github.com/zeromicro/go-zero/core/service"
	"github.com/zeromicro/go-zero/rest"
	"gopkg.in/yaml.v3"
)

var (
	configFile = flag.String("f", "etc/relay.yaml", "the config file")
	dumpConf   = flag.Bool("dump", false, "print effective config and exit")
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			logx.Errorf("panic: %+v\nstack: %s", r, debug.Stack())
		}
	}()

	flag.Parse()

	var c config.RelayConfig
	conf.MustLoad(*configFile, &c)

	if *dumpConf {
		out, err := yaml.Marshal(c)
		if err != nil {
			panic(err)
		}
		fmt.Print(string(out))
		return
	}

	if err := logger.Init(c.LogConf.ToLogOption()); err != nil {
		panic(err)
	}
	defer logger.Sync()

	serviceContext, err := svc.NewServiceContext(c)
	if err != nil {
		panic(err)
	}
	defer serviceContext.Close()

	server := rest.MustNewServer(c.Rest)
	handler.RegisterHandlers(server, serviceContext)

	sg := zerosvc.NewServiceGroup()
	if serviceContext.Sweeper != nil {
		sg.Add(serviceContext.Sweeper)
	}
	sg.Add(server)

	logx.Infof("Starting custody relay service at %s:%d", c.Rest.Host, c.Rest.Port)

	sg.Start()

	// 等待退出信号
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logx.Info("Shutting down services...")
	sg.Stop()
}
