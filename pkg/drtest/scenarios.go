package drtest

import (
	"encoding/json"
	"os"

	"github.com/cuemby/fleetctl/pkg/errs"
	"github.com/cuemby/fleetctl/pkg/types"
)

// LoadScenarios reads a JSON array of Scenarios from path, matching the
// encode/decode convention pkg/versionstore and pkg/backupcat use for
// their own JSON records. names, if non-empty, filters the result down
// to scenarios whose Name appears in it, preserving names's order; an
// unknown name is a load-time error rather than a silent skip.
func LoadScenarios(path string, names []string) ([]types.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindNotFound, "reading scenario file", err)
	}

	var all []types.Scenario
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "parsing scenario file", err)
	}

	if len(names) == 0 {
		return all, nil
	}

	byName := make(map[string]types.Scenario, len(all))
	for _, s := range all {
		byName[s.Name] = s
	}

	selected := make([]types.Scenario, 0, len(names))
	for _, name := range names {
		s, ok := byName[name]
		if !ok {
			return nil, errs.New(errs.KindInvalidArgument, "unknown scenario "+name)
		}
		selected = append(selected, s)
	}
	return selected, nil
}
