// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

package process

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/zeebo/errs"
)

// SaveConfig writes the configuration file for the command flags. Flags at
// their default value are written commented out; changed flags and overrides
// are written as live settings.
//
// Hidden flags, setup-only flags and the bootstrap flags that locate the
// configuration itself are never saved.
func SaveConfig(cmd *cobra.Command, outfile string, overrides map[string]interface{}) error {
	var lines []string

	var flagList []*pflag.Flag
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Hidden || readBoolAnnotation(f, "setup") {
			return
		}
		switch f.Name {
		case "config", "config-dir", "help":
			return
		}
		flagList = append(flagList, f)
	})
	sort.Slice(flagList, func(i, k int) bool { return flagList[i].Name < flagList[k].Name })

	for _, f := range flagList {
		value := f.Value.String()
		live := f.Changed

		if override, ok := overrides[f.Name]; ok {
			value = fmt.Sprint(override)
			live = true
		}

		if f.Usage != "" {
			lines = append(lines, "# "+f.Usage)
		}
		entry := f.Name + ": " + yamlScalar(value)
		if !live {
			entry = "# " + entry
		}
		lines = append(lines, entry, "")
	}

	data := strings.Join(lines, "\n")
	return Error.Wrap(atomicWrite(outfile, 0600, []byte(data)))
}

// readBoolAnnotation reports whether a boolean annotation is set to true on
// the flag.
func readBoolAnnotation(flag *pflag.Flag, key string) bool {
	annotation := flag.Annotations[key]
	return len(annotation) > 0 && annotation[0] == "true"
}

// yamlScalar quotes values that plain yaml scalars cannot carry.
func yamlScalar(value string) string {
	if value == "" || strings.ContainsAny(value, ":#{}[]\"'\n") || value != strings.TrimSpace(value) {
		return fmt.Sprintf("%q", value)
	}
	return value
}

// atomicWrite writes data to outfile through a temporary file and a rename.
func atomicWrite(outfile string, mode os.FileMode, data []byte) (err error) {
	fh, err := os.CreateTemp(filepath.Dir(outfile), filepath.Base(outfile))
	if err != nil {
		return errs.Wrap(err)
	}
	defer func() {
		if err != nil {
			err = errs.Combine(err, fh.Close(), os.Remove(fh.Name()))
		}
	}()

	if err := fh.Chmod(mode); err != nil {
		return errs.Wrap(err)
	}
	if _, err := fh.Write(data); err != nil {
		return errs.Wrap(err)
	}
	if err := fh.Sync(); err != nil {
		return errs.Wrap(err)
	}
	if err := fh.Close(); err != nil {
		return errs.Wrap(err)
	}
	return errs.Wrap(os.Rename(fh.Name(), outfile))
}
