// Package frontend implements the minimal line-oriented demo front end
// mentioned in spec.md section 9's "out of scope" note: the wire protocol
// itself is not part of the specification, but a thin client-facing loop
// is useful for exercising the engine end to end. Its connection-handling
// shape (serve/loop/sendResponse, a panic-recovering serve loop, stackerr-
// wrapped errors) is adapted from _examples/skipor-memcached/conn.go.
package frontend

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/facebookgo/stackerr"

	"github.com/gophercache/slabengine/cache"
	"github.com/gophercache/slabengine/engine"
	"github.com/gophercache/slabengine/log"
)

const maxLineLength = 64 * 1024

// conn serves one client connection: it reads newline-terminated commands
// and a following raw data block for storage commands, dispatches them to
// the engine, and writes memcached-style text responses.
type conn struct {
	r      *bufio.Reader
	w      *bufio.Writer
	closer io.Closer
	engine *engine.Engine
	log    log.Logger
}

// Serve drives one connection to completion, closing rwc on return. It
// mirrors the teacher's conn.serve: a single recover-and-log wrapper
// around an otherwise ordinary read/dispatch loop.
func Serve(e *engine.Engine, lg log.Logger, rwc io.ReadWriteCloser) {
	c := &conn{
		r:      bufio.NewReaderSize(rwc, maxLineLength),
		w:      bufio.NewWriter(rwc),
		closer: rwc,
		engine: e,
		log:    lg,
	}
	defer func() {
		if r := recover(); r != nil {
			lg.Errorf("frontend: panic: %v", r)
		}
		c.closer.Close()
	}()

	if err := c.loop(); err != nil && err != io.EOF {
		lg.Errorf("frontend: connection error: %v", err)
	}
}

func (c *conn) loop() error {
	for {
		line, err := c.readLine()
		if err != nil {
			return err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		cmd := fields[0]
		args := fields[1:]

		var werr error
		switch cmd {
		case "get", "gets":
			werr = c.handleGet(args)
		case "set", "add", "replace", "append", "prepend", "cas":
			werr = c.handleStore(cmd, args)
		case "delete":
			werr = c.handleDelete(args)
		case "incr", "decr":
			werr = c.handleArithmetic(cmd, args)
		case "flush_all":
			werr = c.handleFlush(args)
		case "stats":
			werr = c.handleStats()
		case "quit":
			return io.EOF
		default:
			werr = c.writeLine("ERROR")
		}
		if werr != nil {
			return werr
		}
		if err := c.w.Flush(); err != nil {
			return stackerr.Wrap(err)
		}
	}
}

func (c *conn) readLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *conn) writeLine(s string) error {
	_, err := c.w.WriteString(s + "\r\n")
	return stackerr.Wrap(err)
}

func (c *conn) handleGet(keys []string) error {
	for _, key := range keys {
		it, res, err := c.engine.Get([]byte(key))
		if res != engine.Success {
			if res != engine.KeyNotFound {
				c.log.Debugf("get %s: %v", key, err)
			}
			continue
		}
		fmt.Fprintf(c.w, "VALUE %s %d %d\r\n", key, it.Flags, len(it.Value))
		c.w.Write(it.Value)
		if !strings.HasSuffix(string(it.Value), "\r\n") {
			c.w.WriteString("\r\n")
		}
		c.engine.Release(it)
	}
	return c.writeLine("END")
}

var opByName = map[string]cache.Operation{
	"add":     cache.OpAdd,
	"set":     cache.OpSet,
	"replace": cache.OpReplace,
	"append":  cache.OpAppend,
	"prepend": cache.OpPrepend,
	"cas":     cache.OpCas,
}

func (c *conn) handleStore(cmd string, args []string) error {
	minArgs := 4
	if cmd == "cas" {
		minArgs = 5
	}
	if len(args) < minArgs {
		return c.discardAndError()
	}
	flags, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return c.discardAndError()
	}
	exptime, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return c.discardAndError()
	}
	nbytes, err := strconv.Atoi(args[3])
	if err != nil {
		return c.discardAndError()
	}
	var casIn uint64
	if cmd == "cas" {
		casIn, err = strconv.ParseUint(args[4], 10, 64)
		if err != nil {
			return c.discardAndError()
		}
	}

	data := make([]byte, nbytes+2)
	if _, err := io.ReadFull(c.r, data); err != nil {
		return stackerr.Wrap(err)
	}

	it, res, err := c.engine.Allocate([]byte(args[0]), uint32(flags), exptime, len(data))
	if res != engine.Success {
		return c.writeLine(resultLine(res))
	}
	copy(it.Value, data)
	it.Cas = casIn

	res, err = c.engine.Store(it, opByName[cmd])
	c.engine.Release(it)
	if err != nil {
		c.log.Debugf("store %s: %v", args[0], err)
	}
	return c.writeLine(resultLine(res))
}

func (c *conn) discardAndError() error {
	return c.writeLine("CLIENT_ERROR bad command line format")
}

func (c *conn) handleDelete(args []string) error {
	if len(args) == 0 {
		return c.discardAndError()
	}
	res, _ := c.engine.Remove([]byte(args[0]))
	if res == engine.Success {
		return c.writeLine("DELETED")
	}
	return c.writeLine("NOT_FOUND")
}

func (c *conn) handleArithmetic(cmd string, args []string) error {
	if len(args) < 2 {
		return c.discardAndError()
	}
	delta, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return c.discardAndError()
	}
	_, result, res, _ := c.engine.Arithmetic([]byte(args[0]), cmd == "incr", false, delta, 0, 0, 0)
	if res != engine.Success {
		return c.writeLine(resultLine(res))
	}
	return c.writeLine(strconv.FormatUint(result, 10))
}

func (c *conn) handleFlush(args []string) error {
	var delay int64
	if len(args) > 0 {
		if v, err := strconv.ParseInt(args[0], 10, 64); err == nil {
			delay = v
		}
	}
	c.engine.Flush(delay)
	return c.writeLine("OK")
}

func (c *conn) handleStats() error {
	snap := c.engine.GetStats()
	fmt.Fprintf(c.w, "STAT curr_items %d\r\n", snap.CurrItems)
	fmt.Fprintf(c.w, "STAT total_items %d\r\n", snap.TotalItems)
	fmt.Fprintf(c.w, "STAT bytes %d\r\n", snap.Bytes)
	fmt.Fprintf(c.w, "STAT evictions %d\r\n", snap.Evictions)
	return c.writeLine("END")
}

func resultLine(res engine.Result) string {
	switch res {
	case engine.Success:
		return "STORED"
	case engine.KeyNotFound:
		return "NOT_FOUND"
	case engine.KeyExists:
		return "EXISTS"
	case engine.NotStored:
		return "NOT_STORED"
	case engine.TooBig:
		return "SERVER_ERROR object too large for cache"
	case engine.OutOfMemory:
		return "SERVER_ERROR out of memory"
	case engine.InvalidValue:
		return "CLIENT_ERROR cannot increment or decrement non-numeric value"
	default:
		return "SERVER_ERROR " + res.String()
	}
}
