package arch

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/lunixbochs/minicorn/arch/x86"
	"github.com/lunixbochs/minicorn/arch/x86_16"
	"github.com/lunixbochs/minicorn/arch/x86_64"
	"github.com/lunixbochs/minicorn/models"
)

var archMap = map[string]*models.Arch{
	"x86_16": x86_16.Arch,
	"x86":    x86.Arch,
	"x86_64": x86_64.Arch,
}

func GetArch(name string) (*models.Arch, error) {
	a, ok := archMap[name]
	if !ok {
		return nil, errors.Errorf("arch %q not found", name)
	}
	return a, nil
}

// Names lists the registered architectures.
func Names() []string {
	names := make([]string, 0, len(archMap))
	for name := range archMap {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
