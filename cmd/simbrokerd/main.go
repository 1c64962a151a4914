package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hnakamur/ltsvlog"
	"golang.org/x/net/context"

	simbroker "github.com/bbpgithubaudit/BlueNaaS-Subcellular"
	"github.com/bbpgithubaudit/BlueNaaS-Subcellular/archive"
)

var (
	addr        = flag.String("addr", ":8000", "http service address")
	archivePath = flag.String("archive", "simbroker.db", "path to the archive database")
	debug       = flag.Bool("debug", false, "enable debug logging")
)

func main() {
	flag.Parse()
	logger := ltsvlog.NewLTSVLogger(os.Stdout, *debug)

	a, err := archive.Open(*archivePath)
	if err != nil {
		logger.ErrorWithStack(ltsvlog.LV{L: "msg", V: "failed to open archive"},
			ltsvlog.LV{L: "path", V: *archivePath},
			ltsvlog.LV{L: "err", V: err})
		os.Exit(1)
	}
	defer a.Close()

	hub := simbroker.NewHub(logger, a)

	ctx, cancel := context.WithCancel(context.Background())
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigC
		logger.Info(ltsvlog.LV{L: "msg", V: "received shutdown signal"})
		cancel()
	}()
	go hub.Run(ctx)

	http.HandleFunc("/ws", hub.ServeClientWS)
	http.HandleFunc("/sim", hub.ServeWorkerWS)
	http.HandleFunc("/health", simbroker.ServeHealth)

	logger.Info(ltsvlog.LV{L: "msg", V: "broker start listening"},
		ltsvlog.LV{L: "address", V: *addr})
	err = http.ListenAndServe(*addr, nil)
	if err != nil {
		logger.ErrorWithStack(ltsvlog.LV{L: "msg", V: "failed to listen"},
			ltsvlog.LV{L: "address", V: *addr},
			ltsvlog.LV{L: "err", V: err})
		os.Exit(1)
	}
}
