// Command slabcached runs the slab-backed cache engine behind the minimal
// line-oriented demo front end in package frontend.
package main

import (
	"flag"
	"net"
	"os"

	"github.com/gophercache/slabengine/clock"
	"github.com/gophercache/slabengine/engine"
	"github.com/gophercache/slabengine/frontend"
	"github.com/gophercache/slabengine/log"
)

func main() {
	addr := flag.String("listen", "127.0.0.1:11311", "address to listen on")
	config := flag.String("config", "", "engine config string, e.g. \"cache_size=67108864;chunk_size=48;factor=1.25\"")
	levelName := flag.String("log-level", "INFO", "DEBUG, INFO, WARN, ERROR or FATAL")
	flag.Parse()

	level, err := log.LevelFromString(*levelName)
	if err != nil {
		level = log.InfoLevel
	}
	lg := log.NewLogger(level, os.Stderr)

	clk := clock.NewSystem()
	e, res, err := engine.Initialize(*config, clk, lg)
	if err != nil {
		lg.Fatalf("engine: initialize failed (%v): %v", res, err)
	}

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		lg.Fatalf("listen: %v", err)
	}
	lg.Infof("listening on %s", *addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			lg.Errorf("accept: %v", err)
			continue
		}
		go frontend.Serve(e, lg, conn)
	}
}
