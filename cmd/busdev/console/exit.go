package console

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// exit codes
const (
	ExitError    = 1
	ExitUsage    = 2
	ExitNotFound = 3
	ExitBusy     = 4
)

func Exit(code int, msg string, args ...any) cli.ExitCoder {
	return cli.Exit(fmt.Sprintf("%s: %s", Red("ERROR"), fmt.Sprintf(msg, args...)), code)
}
