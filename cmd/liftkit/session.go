package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/fatih/color"
	"github.com/kr/pretty"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"liftkit/internal/analysis"
	"liftkit/internal/arch"
	"liftkit/internal/arch/arm64"
	"liftkit/internal/arch/x86"
	"liftkit/internal/binaryview"
	"liftkit/internal/config"
	"liftkit/internal/disasm"
	"liftkit/internal/elfx"
	"liftkit/internal/mainthread"
)

// stdout receives command output; tests replace it.
var stdout io.Writer = os.Stdout

// newRegistry registers every shipped architecture.
func newRegistry() (*arch.Registry, error) {
	reg := arch.NewRegistry()
	for _, a := range []arch.Architecture{arm64.Arch{}, x86.New32(), x86.New64()} {
		if err := reg.Register(a); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

type commonFlags struct {
	bin      *string
	archName *string
	base     *string
	config   *string
	workers  *int
	logLevel *string
	noColor  *bool
	debug    *bool
	funcs    *string
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	return &commonFlags{
		bin:      fs.String("bin", "", "path to an ELF file or raw code"),
		archName: fs.String("arch", "", "architecture (required for raw code)"),
		base:     fs.String("base", "0", "load address of raw code"),
		config:   fs.String("config", "", "YAML config file"),
		workers:  fs.Int("workers", 0, "analysis workers (0 = from config)"),
		logLevel: fs.String("log-level", "", "log level (debug, info, warn, error)"),
		noColor:  fs.Bool("no-color", false, "disable colored output"),
		debug:    fs.Bool("debug", false, "dump records to stderr"),
		funcs:    fs.String("func", "", "comma-separated function addresses or symbols (default: all symbols and the entry point)"),
	}
}

// loadConfig reads the config file, if any, and applies flag overrides.
func (cf *commonFlags) loadConfig() (*config.Config, error) {
	c := config.Default()
	if *cf.config != "" {
		var err error
		if c, err = config.Load(*cf.config); err != nil {
			return nil, err
		}
	}
	if *cf.workers > 0 {
		c.Analysis.Workers = *cf.workers
	}
	if *cf.logLevel != "" {
		c.Log.Level = *cf.logLevel
	}
	if *cf.noColor {
		c.Log.Color = false
	}
	return c, c.Validate()
}

// session is one loaded binary and its analysis.
type session struct {
	cfg   *config.Config
	path  string
	log   log.Interface
	mem   *binaryview.Memory
	ef    *elfx.File // nil for raw code
	base  uint64     // load address of raw code
	arch  arch.Architecture
	an    *analysis.Analysis
	main  *mainthread.Dispatcher
	debug bool
}

func openSession(cf *commonFlags) (*session, error) {
	if *cf.bin == "" {
		return nil, errors.New("--bin is required")
	}
	c, err := cf.loadConfig()
	if err != nil {
		return nil, err
	}
	if !c.Log.Color {
		color.NoColor = true
	}
	s := &session{
		cfg:   c,
		path:  *cf.bin,
		log:   &log.Logger{Handler: cli.New(os.Stderr), Level: c.LogLevel()},
		main:  mainthread.New(),
		debug: *cf.debug,
	}

	reg, err := newRegistry()
	if err != nil {
		return nil, err
	}
	defer reg.Close()

	if err := s.load(reg, *cf.bin, *cf.archName, *cf.base); err != nil {
		s.close()
		return nil, err
	}

	s.an, err = analysis.New(s.mem, s.arch, analysis.Options{
		Config:     c.Analysis,
		Logger:     s.log,
		Registerer: prometheus.NewRegistry(),
		OnCommit: func(fn *analysis.Function) {
			s.main.Execute(func(context.Context) {
				s.log.WithField("func", fn.String()).Debug("committed")
			})
		},
	})
	if err != nil {
		s.close()
		return nil, err
	}
	if err := s.seed(*cf.funcs); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

// load maps path into memory. ELF files pick their architecture from the
// header unless name overrides it; anything else is raw code at base.
func (s *session) load(reg *arch.Registry, path, name, base string) error {
	ef, err := elfx.Open(path)
	switch {
	case err == nil:
		s.ef = ef
		if name == "" {
			if name, err = ef.ArchName(); err != nil {
				return err
			}
		}
		if s.arch, err = reg.Lookup(name); err != nil {
			return err
		}
		if s.mem, err = ef.Memory(); err != nil {
			return err
		}
	case errors.Is(err, elfx.ErrNotELF):
		if name == "" {
			return errors.Errorf("%s is not an ELF file; --arch is required", path)
		}
		if s.arch, err = reg.Lookup(name); err != nil {
			return err
		}
		addr, err := parseAddr(base)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrap(err, "read")
		}
		s.base = addr
		s.mem = binaryview.FromBytes(addr, data, binaryview.PermRead|binaryview.PermExec, s.arch.Endianness(), s.arch.AddressSize())
		s.mem.SetEntryPoint(addr)
	default:
		return err
	}
	s.log.WithFields(log.Fields{
		"arch":     s.arch.Name(),
		"segments": len(s.mem.Segments()),
		"entry":    fmt.Sprintf("%#x", s.mem.EntryPoint()),
	}).Debug("loaded")
	return nil
}

// seed creates the user functions named by list, or one per function symbol
// plus the entry point when list is empty.
func (s *session) seed(list string) error {
	if list != "" {
		for _, part := range strings.Split(list, ",") {
			addr, sym, err := s.resolve(strings.TrimSpace(part))
			if err != nil {
				return err
			}
			if err := s.addFunction(addr, sym); err != nil {
				return err
			}
		}
		return nil
	}
	if s.ef != nil {
		for _, sym := range s.ef.FunctionSymbols() {
			if !s.mem.IsOffsetExecutable(sym.Addr) {
				continue
			}
			if err := s.addFunction(sym.Addr, sym.Name); err != nil {
				return err
			}
		}
	}
	entry := s.mem.EntryPoint()
	if _, ok := s.an.FunctionAt(entry); !ok && s.mem.IsOffsetExecutable(entry) {
		return s.addFunction(entry, "")
	}
	return nil
}

func (s *session) addFunction(addr uint64, sym string) error {
	fn, err := s.an.AddUserFunction(addr, s.arch)
	if err != nil {
		return err
	}
	if sym != "" {
		fn.SetSymbol(sym)
	}
	return nil
}

// resolve turns an address or symbol name into an address.
func (s *session) resolve(name string) (uint64, string, error) {
	if addr, err := parseAddr(name); err == nil {
		return addr, "", nil
	}
	if s.ef == nil {
		return 0, "", errors.Errorf("%q is not an address and raw code has no symbols", name)
	}
	sym, err := s.ef.Lookup(name)
	if err != nil {
		return 0, "", err
	}
	return sym.Addr, sym.Name, nil
}

// analyze runs the analysis to completion. The calling goroutine hosts the
// dispatcher; completion and commit notices are delivered through it. An
// interrupt aborts the run.
func (s *session) analyze(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	host, done := context.WithCancel(context.Background())
	defer done()

	ev := s.an.AddCompletionEvent(func() {
		s.main.Execute(func(context.Context) {
			s.log.WithField("functions", len(s.an.Functions())).Info("analysis complete")
		})
	})
	defer ev.Cancel()

	var runErr error
	go func() {
		err := s.an.UpdateAndWait(ctx)
		s.main.Execute(func(context.Context) {
			runErr = err
			done()
		})
	}()
	s.main.Run(host)
	s.main.Drain()
	if errors.Is(runErr, context.Canceled) {
		return errors.New("analysis aborted")
	}
	return runErr
}

// function returns the analyzed function at an address or symbol.
func (s *session) function(name string) (*analysis.Function, error) {
	addr, _, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	fn, ok := s.an.FunctionAt(addr)
	if !ok {
		return nil, errors.Wrapf(analysis.ErrNoFunction, "0x%x", addr)
	}
	return fn, nil
}

// selected returns the functions named by --func, or all of them.
func (s *session) selected(list string) ([]*analysis.Function, error) {
	if list == "" {
		return s.an.Functions(), nil
	}
	var out []*analysis.Function
	for _, part := range strings.Split(list, ",") {
		fn, err := s.function(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, fn)
	}
	return out, nil
}

// name is the display name of a call destination.
func (s *session) name(addr uint64) string {
	if fn, ok := s.an.FunctionAt(addr); ok {
		return fn.Name()
	}
	return fmt.Sprintf("sub_%x", addr)
}

func (s *session) lookup() disasm.SymbolLookup {
	return func(addr uint64) (string, bool) {
		if fn, ok := s.an.FunctionAt(addr); ok {
			return fn.Name(), true
		}
		return "", false
	}
}

// dump prints v to stderr when --debug is set.
func (s *session) dump(v any) {
	if s.debug {
		pretty.Fprintf(os.Stderr, "%# v\n", v)
	}
}

func (s *session) close() {
	if s.an != nil {
		s.an.Close()
	}
	if s.ef != nil {
		s.ef.Close()
	}
}

func parseAddr(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, errors.Errorf("invalid address %q", s)
	}
	return v, nil
}
