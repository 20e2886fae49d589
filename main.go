// Command lsmkv is a line-oriented REPL front end over the storage
// engine: the out-of-core tokenizer, command enum, and help text spec.md
// §1 calls out as an external collaborator of the core, given a real
// implementation here so the engine is reachable end to end.
package main

import (
	"bufio"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/arjunkhera/lsmkv/config"
	"github.com/arjunkhera/lsmkv/engine"
	"github.com/arjunkhera/lsmkv/keys"
)

const prompt = "(lsmkv) "

// command is a parsed REPL input line, mirroring the original
// server/cmd.rs enum one arm at a time.
type command struct {
	kind cmdKind
	key  keys.UserKey
	end  keys.UserKey
	val  keys.UserValue
	path string
}

type cmdKind int

const (
	cmdPut cmdKind = iota
	cmdGet
	cmdRange
	cmdDelete
	cmdLoad
	cmdPrintStats
	cmdQuit
	cmdHelp
)

// parseCommand tokenizes one input line and recognizes the fixed
// single-letter/long-form verb pairs from spec.md §6's CLI surface
// table. It returns ok=false for anything unrecognized or malformed so
// the caller can print "Unrecognized command" without distinguishing
// the reason, matching the original's from_tokens contract.
func parseCommand(line string) (command, bool) {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return command{}, false
	}

	switch tokens[0] {
	case "p", "put":
		if len(tokens) != 3 {
			return command{}, false
		}
		k, okK := parseKey(tokens[1])
		v, okV := parseKey(tokens[2])
		if !okK || !okV {
			return command{}, false
		}
		return command{kind: cmdPut, key: k, val: keys.UserValue(v)}, true

	case "g", "get":
		if len(tokens) != 2 {
			return command{}, false
		}
		k, ok := parseKey(tokens[1])
		if !ok {
			return command{}, false
		}
		return command{kind: cmdGet, key: k}, true

	case "r", "range":
		if len(tokens) != 3 {
			return command{}, false
		}
		start, okS := parseKey(tokens[1])
		end, okE := parseKey(tokens[2])
		if !okS || !okE || start > end {
			return command{}, false
		}
		return command{kind: cmdRange, key: start, end: end}, true

	case "d", "delete":
		if len(tokens) != 2 {
			return command{}, false
		}
		k, ok := parseKey(tokens[1])
		if !ok {
			return command{}, false
		}
		return command{kind: cmdDelete, key: k}, true

	case "l", "load":
		if len(tokens) != 2 {
			return command{}, false
		}
		if _, err := os.Stat(tokens[1]); err != nil {
			return command{}, false
		}
		return command{kind: cmdLoad, path: tokens[1]}, true

	case "s", "print":
		if len(tokens) != 1 {
			return command{}, false
		}
		return command{kind: cmdPrintStats}, true

	case "q", "quit":
		if len(tokens) != 1 {
			return command{}, false
		}
		return command{kind: cmdQuit}, true

	case "h", "help":
		if len(tokens) != 1 {
			return command{}, false
		}
		return command{kind: cmdHelp}, true

	default:
		return command{}, false
	}
}

func parseKey(s string) (keys.UserKey, bool) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return keys.UserKey(n), true
}

func printHelp() {
	rows := [][2]string{
		{"p | put <key> <value>", "upsert a key-value pair to the database"},
		{"g | get <key>", "fetch the associated value of the given key"},
		{"r | range <start_key> <end_key>", "fetch values in the key range [start_key, end_key)"},
		{"d | delete <key>", "delete the key-value pair associated with the given key"},
		{"l | load <command_batch_file>", "upsert a sequence of key-value pairs stored in the file"},
		{"s | print", "print the current state of the database"},
		{"q | quit", "terminate the session"},
		{"h | help", "print this help message"},
	}
	fmt.Println("  Usage:")
	for _, r := range rows {
		fmt.Printf("\t%-35s%s\n", r[0], r[1])
	}
}

// loadFile upserts every fixed-width (int32 key, int32 value) record
// back-to-back in path, the `load` command's file format.
func loadFile(e *engine.Engine, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("load: opening %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		var rec [8]byte
		if _, err := io.ReadFull(r, rec[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("load: %s has a trailing partial record", path)
			}
			return fmt.Errorf("load: reading %s: %w", path, err)
		}
		k := int32(binary.LittleEndian.Uint32(rec[0:4]))
		v := int32(binary.LittleEndian.Uint32(rec[4:8]))
		if err := e.Put(keys.UserKey(k), keys.UserValue(v)); err != nil {
			return fmt.Errorf("load: put(%d,%d): %w", k, v, err)
		}
	}
}

func handle(e *engine.Engine, c command) {
	switch c.kind {
	case cmdPut:
		if err := e.Put(c.key, c.val); err != nil {
			fmt.Println("error:", err)
		}
	case cmdGet:
		v, err := e.Get(c.key)
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		if v != nil {
			fmt.Println(*v)
		}
	case cmdRange:
		entries, err := e.Range(c.key, c.end)
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		if len(entries) == 0 {
			fmt.Println()
			return
		}
		for _, ent := range entries {
			fmt.Printf("%d:%d\n", ent.Key, ent.Val)
		}
	case cmdDelete:
		if err := e.Delete(c.key); err != nil {
			fmt.Println("error:", err)
		}
	case cmdLoad:
		if err := loadFile(e, c.path); err != nil {
			fmt.Println("error:", err)
		}
	case cmdPrintStats:
		fmt.Print(e.Stats())
	}
}

func run() error {
	dataDir := flag.String("dir", "./lsmkv-data", "data directory")
	configPath := flag.String("config", "", "optional config file (toml/yaml/json)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	cfg.DataDir = *dataDir

	e, err := engine.New(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	historyPath := filepath.Join(cfg.DataDir, ".cmd_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      prompt,
		HistoryFile: historyPath,
	})
	if err != nil {
		return fmt.Errorf("starting readline: %w", err)
	}
	defer rl.Close()

	printHelp()
	for {
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			fmt.Println(`Hint: type "q" or "quit" to exit`)
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return fmt.Errorf("reading command: %w", err)
		}

		if strings.TrimSpace(line) == "" {
			continue
		}

		c, ok := parseCommand(line)
		if !ok {
			fmt.Println("Unrecognized command")
			continue
		}
		switch c.kind {
		case cmdQuit:
			return nil
		case cmdHelp:
			printHelp()
		default:
			handle(e, c)
		}
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
