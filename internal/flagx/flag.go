// Package flagx picks the process-level flags out of a command line that also
// carries subcommand arguments, so config packages can parse os.Args with the
// standard flag package while cobra owns the rest.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// FilterArgs keeps only the flags named in allowed, together with their
// values. Both "-x value" and "-x=value" are recognised, and a double-dash
// spelling ("--x") matches the single-dash name the same way the flag package
// does. Scanning stops at a bare "--".
//
// A separate value is taken only when the next argument does not start with
// '-'.
func FilterArgs(args []string, allowed []string) []string {
	names := make(map[string]struct{}, len(allowed))
	for _, f := range allowed {
		names[flagName(f)] = struct{}{}
	}

	filtered := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		if !strings.HasPrefix(arg, "-") {
			continue
		}

		if name, _, ok := strings.Cut(arg, "="); ok {
			if _, keep := names[flagName(name)]; keep {
				filtered = append(filtered, arg)
			}
			continue
		}

		if _, keep := names[flagName(arg)]; !keep {
			continue
		}
		filtered = append(filtered, arg)
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			filtered = append(filtered, args[i+1])
			i++
		}
	}

	return filtered
}

func flagName(s string) string {
	return strings.TrimLeft(s, "-")
}

// ConfigPath returns the JSON config file named by -c or -config in args,
// or "" when neither is present. The last occurrence wins.
func ConfigPath(args []string) string {
	var path string

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(discard{})
	fs.StringVar(&path, "config", "", "path to config file")
	fs.StringVar(&path, "c", "", "path to config file (short)")
	_ = fs.Parse(FilterArgs(args, []string{"-c", "-config"}))

	return path
}

// ConfigFile is ConfigPath over the process arguments.
func ConfigFile() string {
	return ConfigPath(os.Args[1:])
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
