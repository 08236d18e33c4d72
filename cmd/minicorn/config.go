package main

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shibukawa/configdir"
	"gopkg.in/yaml.v3"

	"github.com/lunixbochs/minicorn/models/cpu"
)

// Uint accepts YAML integers as well as strings like "0x1000".
type Uint uint64

func (u *Uint) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return errors.Errorf("line %d: expected a number", node.Line)
	}
	n, err := strconv.ParseUint(strings.ReplaceAll(node.Value, "_", ""), 0, 64)
	if err != nil {
		return errors.Errorf("line %d: bad number %q", node.Line, node.Value)
	}
	*u = Uint(n)
	return nil
}

// Prot accepts "rwx"-style strings, with '-' for a cleared bit.
type Prot int

func (p *Prot) UnmarshalYAML(node *yaml.Node) error {
	prot, err := parseProt(node.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d", node.Line)
	}
	*p = Prot(prot)
	return nil
}

func parseProt(s string) (int, error) {
	prot := 0
	for _, c := range strings.ToLower(s) {
		switch c {
		case 'r':
			prot |= cpu.PROT_READ
		case 'w':
			prot |= cpu.PROT_WRITE
		case 'x':
			prot |= cpu.PROT_EXEC
		case '-':
		default:
			return 0, errors.Errorf("bad protection %q", s)
		}
	}
	return prot, nil
}

type Mapping struct {
	Addr Uint  `yaml:"addr"`
	Size Uint  `yaml:"size"`
	Prot *Prot `yaml:"prot"`
	// initial contents, as hex or read from a file
	Hex  string `yaml:"hex"`
	File string `yaml:"file"`
}

func (m *Mapping) prot() int {
	if m.Prot == nil {
		return cpu.PROT_ALL
	}
	return int(*m.Prot)
}

// Data returns the mapping's initial contents. Relative file paths resolve against dir.
func (m *Mapping) Data(dir string) ([]byte, error) {
	if m.Hex != "" && m.File != "" {
		return nil, errors.Errorf("mapping %#x: hex and file are exclusive", uint64(m.Addr))
	}
	if m.Hex != "" {
		data, err := hex.DecodeString(strings.Join(strings.Fields(m.Hex), ""))
		return data, errors.Wrapf(err, "mapping %#x", uint64(m.Addr))
	}
	if m.File != "" {
		data, err := os.ReadFile(resolve(dir, m.File))
		return data, errors.Wrapf(err, "mapping %#x", uint64(m.Addr))
	}
	return nil, nil
}

type Dump struct {
	Addr Uint `yaml:"addr"`
	Size Uint `yaml:"size"`
}

// RunConfig describes one emulation run.
type RunConfig struct {
	Arch    string          `yaml:"arch"`
	Map     []Mapping       `yaml:"map"`
	Regs    map[string]Uint `yaml:"regs"`
	Begin   Uint            `yaml:"begin"`
	Until   Uint            `yaml:"until"`
	Timeout time.Duration   `yaml:"timeout"`
	Count   Uint            `yaml:"count"`
	// optional JavaScript hook script
	Script string `yaml:"script"`
	// optional binary trace output
	Trace string `yaml:"trace"`
	// memory ranges hexdumped after the run
	Dump []Dump `yaml:"dump"`

	// directory relative paths resolve against
	Dir string `yaml:"-"`
}

func resolve(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func (c *RunConfig) ScriptPath() string { return resolve(c.Dir, c.Script) }
func (c *RunConfig) TracePath() string  { return resolve(c.Dir, c.Trace) }

func (c *RunConfig) validate() error {
	if c.Arch == "" {
		c.Arch = "x86"
	}
	for i, m := range c.Map {
		if m.Size == 0 {
			return errors.Errorf("map[%d]: size is required", i)
		}
		if m.Addr%cpu.PAGE_SIZE != 0 || m.Size%cpu.PAGE_SIZE != 0 {
			return errors.Errorf("map[%d]: %#x+%#x is not page aligned", i, uint64(m.Addr), uint64(m.Size))
		}
	}
	if c.Until == 0 {
		return errors.New("until is required")
	}
	return nil
}

func ParseConfig(data []byte, dir string) (*RunConfig, error) {
	var c RunConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "failed to parse run config")
	}
	c.Dir = dir
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// configDirs holds run files and init.js shared across runs.
var configDirs = configdir.New("minicorn", "minicorn")

// LoadConfig reads a run file. A bare name that is not found locally is looked up in the config dirs.
func LoadConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return ParseConfig(data, filepath.Dir(path))
	}
	if !os.IsNotExist(err) || strings.ContainsRune(path, filepath.Separator) {
		return nil, errors.Wrap(err, "failed to read run config")
	}
	for _, dir := range configDirs.QueryFolders(configdir.All) {
		if data, err := dir.ReadFile(path); err == nil {
			return ParseConfig(data, dir.Path)
		}
	}
	return nil, errors.Wrap(err, "failed to read run config")
}

// initScripts returns the contents of init.js from each config dir that has one.
func initScripts() map[string]string {
	out := make(map[string]string)
	for _, dir := range configDirs.QueryFolders(configdir.All) {
		if data, err := dir.ReadFile("init.js"); err == nil {
			out[filepath.Join(dir.Path, "init.js")] = string(data)
		}
	}
	return out
}
