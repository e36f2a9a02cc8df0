package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"cuelang.org/go/cue"
)

// jobFormats are the configVersion values this build reads, oldest first.
var jobFormats = []string{"1"}

func currentFormat() string { return jobFormats[len(jobFormats)-1] }

// checkVersion runs before schema validation so an old binary given a newer
// job file says so instead of listing unknown fields.
func checkVersion(v cue.Value) error {
	f := v.LookupPath(cue.ParsePath("configVersion"))
	if !f.Exists() {
		return fmt.Errorf("missing required field: configVersion (add configVersion: %q)", currentFormat())
	}
	if f.Kind() != cue.StringKind {
		return errors.New("invalid type for field: configVersion (expected string)")
	}
	var s string
	if err := f.Decode(&s); err != nil {
		return fmt.Errorf("invalid value for configVersion: %v", err)
	}
	if !slices.Contains(jobFormats, s) {
		return fmt.Errorf("unsupported configVersion %q: this scribe reads %s", s, readable(jobFormats))
	}
	return nil
}

func readable(vs []string) string {
	quoted := make([]string, len(vs))
	for i, v := range vs {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	return strings.Join(quoted, " or ")
}
