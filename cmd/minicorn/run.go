package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/lunixbochs/minicorn"
	"github.com/lunixbochs/minicorn/log"
	"github.com/lunixbochs/minicorn/models"
	"github.com/lunixbochs/minicorn/models/trace"
	"github.com/lunixbochs/minicorn/script"
)

type runner struct {
	cfg     *RunConfig
	log     *log.Logger
	out     io.Writer
	color   bool
	status  bool
	regions bool
	// run init.js from the config dirs before the run's script
	initScripts bool
}

func (r *runner) setup(e *minicorn.Engine) error {
	for i := range r.cfg.Map {
		m := &r.cfg.Map[i]
		if err := e.MemMap(uint64(m.Addr), uint64(m.Size), m.prot()); err != nil {
			return errors.Wrapf(err, "map[%d]", i)
		}
		data, err := m.Data(r.cfg.Dir)
		if err != nil {
			return err
		}
		if uint64(len(data)) > uint64(m.Size) {
			return errors.Errorf("map[%d]: %d bytes of data do not fit in %#x", i, len(data), uint64(m.Size))
		}
		if len(data) > 0 {
			if err := e.MemWrite(uint64(m.Addr), data); err != nil {
				return errors.Wrapf(err, "map[%d]", i)
			}
		}
	}
	// sorted so a bad register fails the same way every run
	names := make([]string, 0, len(r.cfg.Regs))
	for name := range r.cfg.Regs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		enum, ok := e.Info().RegEnum(name)
		if !ok {
			return errors.Errorf("unknown register %q for %s", name, e.Info().Name)
		}
		if err := e.RegWrite(enum, uint64(r.cfg.Regs[name])); err != nil {
			return errors.Wrapf(err, "register %s", name)
		}
	}
	return nil
}

func (r *runner) loadScript(e *minicorn.Engine) (*script.Script, error) {
	s := script.New(e.Cpu(), e.Info().Regs)
	s.Out = r.out
	if r.initScripts {
		for name, src := range initScripts() {
			if err := s.Run(name, src); err != nil {
				return nil, err
			}
		}
	}
	if r.cfg.Script != "" {
		src, err := os.ReadFile(r.cfg.ScriptPath())
		if err != nil {
			return nil, errors.Wrap(err, "failed to read script")
		}
		if err := s.Run(r.cfg.Script, string(src)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (r *runner) dump(e *minicorn.Engine) error {
	for _, d := range r.cfg.Dump {
		fmt.Fprintf(r.out, "memory %#x+%#x:\n", uint64(d.Addr), uint64(d.Size))
		mem := &models.MemReader{Mem: e, Addr: uint64(d.Addr)}
		dumper := hex.Dumper(r.out)
		if _, err := io.Copy(dumper, io.LimitReader(mem, int64(d.Size))); err != nil {
			return errors.Wrapf(err, "dump %#x", uint64(d.Addr))
		}
		dumper.Close()
	}
	return nil
}

var modeBits = map[minicorn.Mode]int{minicorn.MODE_16: 16, minicorn.MODE_32: 32, minicorn.MODE_64: 64}

func (r *runner) openTrace(mode minicorn.Mode) (*trace.Tracer, error) {
	f, err := os.Create(r.cfg.TracePath())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create trace file")
	}
	w, err := trace.NewWriter(f, r.cfg.Arch, modeBits[mode])
	if err != nil {
		f.Close()
		return nil, err
	}
	return trace.NewTracer(w), nil
}

func (r *runner) Run() (retErr error) {
	a, mode, err := minicorn.ParseArch(r.cfg.Arch)
	if err != nil {
		return err
	}
	opts := []minicorn.Option{minicorn.WithLogger(r.log)}
	if r.cfg.Trace != "" {
		tracer, err := r.openTrace(mode)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := tracer.Close(); cerr != nil && retErr == nil {
				retErr = errors.Wrap(cerr, "failed to write trace")
			}
		}()
		opts = append(opts, minicorn.WithTracer(tracer))
	}
	e, err := minicorn.Open(a, mode, opts...)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := r.setup(e); err != nil {
		return err
	}
	s, err := r.loadScript(e)
	if err != nil {
		return err
	}
	defer s.Close()

	status := models.NewStatusDiff(e.Info(), e.Cpu())
	if r.status {
		// seed the diff with the initial registers
		if _, err := status.Changes(true); err != nil {
			return err
		}
	}
	reason, runErr := e.Start(uint64(r.cfg.Begin), uint64(r.cfg.Until), r.cfg.Timeout, uint64(r.cfg.Count))
	last, _ := e.Last()
	fmt.Fprintf(r.out, "stopped (%s) at %#x after %d instructions\n", reason, last.PC, last.Count)
	if r.status {
		changes, err := status.Changes(true)
		if err != nil {
			return err
		}
		fmt.Fprint(r.out, changes.String(r.color))
	}
	if r.regions {
		regions, err := e.MemRegions()
		if err != nil {
			return err
		}
		fmt.Fprintln(r.out, regions.String())
	}
	if err := r.dump(e); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	return s.Err()
}
