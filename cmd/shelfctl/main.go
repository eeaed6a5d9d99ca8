// Command shelfctl is a minimal CLI over the three storage engines, for
// poking at a database file from a shell: open, get, set, remove, count,
// dump, and load, dispatched by file suffix the same way shelfdb.Open does.
package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"

	shelfdb "github.com/shelfdb/shelfdb"
	"github.com/shelfdb/shelfdb/btree"
	"github.com/shelfdb/shelfdb/hashfile"
	"github.com/shelfdb/shelfdb/internal/codec"
	"github.com/shelfdb/shelfdb/shelf"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)

		return 2
	}

	cmd, rest := args[0], args[1:]

	switch cmd {
	case "get":
		return cmdGet(out, errOut, rest)
	case "set":
		return cmdSet(out, errOut, rest)
	case "remove":
		return cmdRemove(out, errOut, rest)
	case "count":
		return cmdCount(out, errOut, rest)
	case "dump":
		return cmdDump(out, errOut, rest)
	case "load":
		return cmdLoad(out, errOut, rest)
	case "help", "-h", "--help":
		printUsage(out)

		return 0
	default:
		fmt.Fprintf(errOut, "shelfctl: unknown command %q\n", cmd)
		printUsage(errOut)

		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `Usage: shelfctl <command> [options]

Commands:
  get <file> <key>              Print the value for key
  set <file> <key> <value>      Write key=value, creating the file if needed
  remove <file> <key>           Delete key
  count <file>                  Print the live record count
  dump <file> <outfile>         Write every live record to outfile
  load <file> <infile>          Install every record from infile

Global options:
  --config <path>    JSONC config file (bucket_count, page_size, codec)`)
}

func commonFlags(fs *flag.FlagSet) *string {
	return fs.String("config", "", "JSONC config file")
}

func openForWrite(path string, cfg Config) (shelf.DB, error) {
	return shelfdb.Open(path, shelf.OReader|shelf.OWriter|shelf.OCreate, optionsFromConfig(cfg))
}

func openForRead(path string, cfg Config) (shelf.DB, error) {
	return shelfdb.Open(path, shelf.OReader, optionsFromConfig(cfg))
}

func optionsFromConfig(cfg Config) shelfdb.Options {
	hashOpts := hashfile.Options{
		BucketCount: cfg.BucketCount,
		Codec:       codec.ByName(cfg.Codec),
	}

	return shelfdb.Options{
		Hash: hashOpts,
		Tree: btree.Options{PageSize: cfg.PageSize, Hash: hashOpts},
	}
}

func cmdGet(out, errOut io.Writer, args []string) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	configPath := commonFlags(fs)

	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(errOut, err)

		return 2
	}

	rest := fs.Args()
	if len(rest) != 2 {
		fmt.Fprintln(errOut, "usage: shelfctl get <file> <key>")

		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)

		return 1
	}

	db, err := openForRead(rest[0], cfg)
	if err != nil {
		fmt.Fprintln(errOut, err)

		return 1
	}
	defer db.Close()

	value, err := db.Get([]byte(rest[1]))
	if err != nil {
		fmt.Fprintln(errOut, err)

		return 1
	}

	fmt.Fprintln(out, string(value))

	return 0
}

func cmdSet(out, errOut io.Writer, args []string) int {
	fs := flag.NewFlagSet("set", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	configPath := commonFlags(fs)

	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(errOut, err)

		return 2
	}

	rest := fs.Args()
	if len(rest) != 3 {
		fmt.Fprintln(errOut, "usage: shelfctl set <file> <key> <value>")

		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)

		return 1
	}

	db, err := openForWrite(rest[0], cfg)
	if err != nil {
		fmt.Fprintln(errOut, err)

		return 1
	}
	defer db.Close()

	if err := db.Set([]byte(rest[1]), []byte(rest[2])); err != nil {
		fmt.Fprintln(errOut, err)

		return 1
	}

	return 0
}

func cmdRemove(out, errOut io.Writer, args []string) int {
	fs := flag.NewFlagSet("remove", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	configPath := commonFlags(fs)

	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(errOut, err)

		return 2
	}

	rest := fs.Args()
	if len(rest) != 2 {
		fmt.Fprintln(errOut, "usage: shelfctl remove <file> <key>")

		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)

		return 1
	}

	db, err := openForWrite(rest[0], cfg)
	if err != nil {
		fmt.Fprintln(errOut, err)

		return 1
	}
	defer db.Close()

	if err := db.Remove([]byte(rest[1])); err != nil {
		fmt.Fprintln(errOut, err)

		return 1
	}

	return 0
}

func cmdCount(out, errOut io.Writer, args []string) int {
	fs := flag.NewFlagSet("count", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	configPath := commonFlags(fs)

	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(errOut, err)

		return 2
	}

	rest := fs.Args()
	if len(rest) != 1 {
		fmt.Fprintln(errOut, "usage: shelfctl count <file>")

		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)

		return 1
	}

	db, err := openForRead(rest[0], cfg)
	if err != nil {
		fmt.Fprintln(errOut, err)

		return 1
	}
	defer db.Close()

	count, err := db.Count()
	if err != nil {
		fmt.Fprintln(errOut, err)

		return 1
	}

	fmt.Fprintln(out, count)

	return 0
}

// dumper is implemented by the hash and tree engines (both backed by a
// hashfile.DB), which support a flat snapshot stream. The cache engine has
// no durable format to dump to.
type dumper interface {
	Dump(w io.Writer) error
	Load(r io.Reader) error
}

func cmdDump(out, errOut io.Writer, args []string) int {
	fs := flag.NewFlagSet("dump", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	configPath := commonFlags(fs)

	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(errOut, err)

		return 2
	}

	rest := fs.Args()
	if len(rest) != 2 {
		fmt.Fprintln(errOut, "usage: shelfctl dump <file> <outfile>")

		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)

		return 1
	}

	db, err := openAsDumper(rest[0], cfg)
	if err != nil {
		fmt.Fprintln(errOut, err)

		return 1
	}
	defer db.Close()

	d, ok := db.(dumper)
	if !ok {
		fmt.Fprintln(errOut, "shelfctl: dump is not supported for this engine")

		return 1
	}

	var buf bytes.Buffer
	if err := d.Dump(&buf); err != nil {
		fmt.Fprintln(errOut, err)

		return 1
	}

	// Write the whole snapshot in one atomic rename so a crash mid-dump
	// never leaves a truncated outfile behind.
	if err := atomic.WriteFile(rest[1], &buf); err != nil {
		fmt.Fprintln(errOut, err)

		return 1
	}

	return 0
}

func cmdLoad(out, errOut io.Writer, args []string) int {
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	configPath := commonFlags(fs)

	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(errOut, err)

		return 2
	}

	rest := fs.Args()
	if len(rest) != 2 {
		fmt.Fprintln(errOut, "usage: shelfctl load <file> <infile>")

		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)

		return 1
	}

	db, err := openAsDumper(rest[0], cfg)
	if err != nil {
		fmt.Fprintln(errOut, err)

		return 1
	}
	defer db.Close()

	d, ok := db.(dumper)
	if !ok {
		fmt.Fprintln(errOut, "shelfctl: load is not supported for this engine")

		return 1
	}

	inFile, err := os.Open(rest[1])
	if err != nil {
		fmt.Fprintln(errOut, err)

		return 1
	}
	defer inFile.Close()

	if err := d.Load(inFile); err != nil {
		fmt.Fprintln(errOut, err)

		return 1
	}

	return 0
}

func openAsDumper(path string, cfg Config) (shelf.DB, error) {
	return openForWrite(path, cfg)
}
