package main

import "strings"

// reorderArgs moves flags ahead of positional arguments so Go's flag
// parser sees them regardless of where the user typed them. boolFlags
// names flags that take no value (e.g. "json"); every other flag is
// assumed to consume the following argument.
//
//	reorderArgs(["lan0", "--json", "-c", "3"], {"json": true})
//	-> ["--json", "-c", "3", "lan0"]
func reorderArgs(args []string, boolFlags map[string]bool) []string {
	var flags, positional []string
	i := 0
	for i < len(args) {
		arg := args[i]
		i++
		if !strings.HasPrefix(arg, "-") {
			positional = append(positional, arg)
			continue
		}
		flags = append(flags, arg)

		name := strings.TrimLeft(arg, "-")
		switch {
		case strings.Contains(name, "="):
			// --flag=value carries its value inline
		case boolFlags[name]:
			// boolean, nothing to consume
		case i < len(args):
			flags = append(flags, args[i])
			i++
		}
	}
	return append(flags, positional...)
}
